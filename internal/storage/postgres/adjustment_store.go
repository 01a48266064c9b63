package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

// AdjustmentStore implements storage.AdjustmentStore using PostgreSQL.
type AdjustmentStore struct {
	pool *Pool
}

// NewAdjustmentStore creates a new AdjustmentStore.
func NewAdjustmentStore(pool *Pool) *AdjustmentStore {
	return &AdjustmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AdjustmentStore = (*AdjustmentStore)(nil)

const selectAdjustmentColumns = `
	market, symbol, date, version,
	adj_factor_qfq::text, adj_factor_hfq::text,
	build_time, source_events_hash, action_gap_flag
`

// Upsert writes rows in one transaction with ON CONFLICT DO NOTHING.
// Rows that hit an existing key are re-read and compared; any content
// difference rolls the transaction back and returns storage.ErrConflictingRow.
func (s *AdjustmentStore) Upsert(ctx context.Context, rows []*domain.AdjustmentFactorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	pending, err := dedupeBatch(rows)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range pending {
		batch.Queue(`
			INSERT INTO adjustments (
				market, symbol, date, version,
				adj_factor_qfq, adj_factor_hfq,
				build_time, source_events_hash, action_gap_flag
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (market, symbol, version, date) DO NOTHING
		`,
			r.Market, r.Symbol, domain.TruncateDate(r.Date), r.Version,
			r.AdjFactorQfq.String(), r.AdjFactorHfq.String(),
			r.BuildTime, r.SourceEventsHash, r.ActionGapFlag,
		)
	}

	var conflicts []*domain.AdjustmentFactorRow
	results := tx.SendBatch(ctx, batch)
	for _, r := range pending {
		ct, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert adjustment row: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts = append(conflicts, r)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	for _, r := range conflicts {
		existing, err := scanAdjustmentRow(tx.QueryRow(ctx, `
			SELECT `+selectAdjustmentColumns+`
			FROM adjustments
			WHERE market = $1 AND symbol = $2 AND version = $3 AND date = $4
		`, r.Market, r.Symbol, r.Version, domain.TruncateDate(r.Date)))
		if err != nil {
			return 0, fmt.Errorf("read existing adjustment row: %w", err)
		}
		if !existing.SameContent(r) {
			return 0, storage.ErrConflictingRow
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return len(pending) - len(conflicts), nil
}

// dedupeBatch validates rows and drops intra-batch repeats of identical content.
func dedupeBatch(rows []*domain.AdjustmentFactorRow) ([]*domain.AdjustmentFactorRow, error) {
	type rowKey struct {
		market, symbol, version, date string
	}
	seen := make(map[rowKey]*domain.AdjustmentFactorRow, len(rows))
	pending := make([]*domain.AdjustmentFactorRow, 0, len(rows))

	for _, r := range rows {
		if r == nil || r.Symbol == "" || r.Market == "" || r.Version == "" {
			return nil, storage.ErrInvalidInput
		}
		k := rowKey{r.Market, r.Symbol, r.Version, domain.FormatDate(r.Date)}
		if prior, ok := seen[k]; ok {
			if !prior.SameContent(r) {
				return nil, storage.ErrConflictingRow
			}
			continue
		}
		seen[k] = r
		pending = append(pending, r)
	}
	return pending, nil
}

// GetLatest retrieves rows of the most recently built version covering [start, end].
func (s *AdjustmentStore) GetLatest(ctx context.Context, symbol, market string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error) {
	var version string
	err := s.pool.QueryRow(ctx, `
		SELECT version
		FROM adjustments
		WHERE market = $1 AND symbol = $2
		GROUP BY version
		HAVING MIN(date) <= $3 AND MAX(date) >= $4
		ORDER BY MAX(build_time) DESC, version DESC
		LIMIT 1
	`, market, symbol, start, end).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrMissingVersion
		}
		return nil, fmt.Errorf("find latest version: %w", err)
	}

	return s.getRange(ctx, symbol, market, version, start, end)
}

// GetVersion retrieves rows of one version covering [start, end].
func (s *AdjustmentStore) GetVersion(ctx context.Context, symbol, market, version string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error) {
	var covers bool
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MIN(date) <= $4 AND MAX(date) >= $5, FALSE)
		FROM adjustments
		WHERE market = $1 AND symbol = $2 AND version = $3
	`, market, symbol, version, start, end).Scan(&covers)
	if err != nil {
		return nil, fmt.Errorf("check version span: %w", err)
	}
	if !covers {
		return nil, storage.ErrMissingVersion
	}

	return s.getRange(ctx, symbol, market, version, start, end)
}

func (s *AdjustmentStore) getRange(ctx context.Context, symbol, market, version string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectAdjustmentColumns+`
		FROM adjustments
		WHERE market = $1 AND symbol = $2 AND version = $3 AND date >= $4 AND date <= $5
		ORDER BY date ASC
	`, market, symbol, version, start, end)
	if err != nil {
		return nil, fmt.Errorf("get adjustment rows: %w", err)
	}
	defer rows.Close()

	var result []*domain.AdjustmentFactorRow
	for rows.Next() {
		r, err := scanAdjustmentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustment rows: %w", err)
	}

	return result, nil
}

// ListVersions retrieves metadata of every stored version, newest build first.
func (s *AdjustmentStore) ListVersions(ctx context.Context, symbol, market string) ([]*domain.VersionMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version, MIN(source_events_hash), MIN(date), MAX(date), COUNT(*), MAX(build_time)
		FROM adjustments
		WHERE market = $1 AND symbol = $2
		GROUP BY version
		ORDER BY MAX(build_time) DESC, version DESC
	`, market, symbol)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var result []*domain.VersionMetadata
	for rows.Next() {
		m := &domain.VersionMetadata{Symbol: symbol, Market: market}
		var count int64
		if err := rows.Scan(&m.Version, &m.SourceEventsHash, &m.FirstDate, &m.LastDate, &count, &m.BuildTime); err != nil {
			return nil, fmt.Errorf("scan version metadata: %w", err)
		}
		m.RowCount = int(count)
		m.FirstDate = domain.TruncateDate(m.FirstDate)
		m.LastDate = domain.TruncateDate(m.LastDate)
		m.BuildTime = m.BuildTime.UTC()
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version metadata: %w", err)
	}

	return result, nil
}

// scanAdjustmentRow scans a single row. NUMERIC columns are read as text
// to keep full precision.
func scanAdjustmentRow(row pgx.Row) (*domain.AdjustmentFactorRow, error) {
	var r domain.AdjustmentFactorRow
	var qfq, hfq string

	err := row.Scan(
		&r.Market, &r.Symbol, &r.Date, &r.Version,
		&qfq, &hfq,
		&r.BuildTime, &r.SourceEventsHash, &r.ActionGapFlag,
	)
	if err != nil {
		return nil, err
	}

	if r.AdjFactorQfq, err = decimal.NewFromString(qfq); err != nil {
		return nil, fmt.Errorf("parse adj_factor_qfq %q: %w", qfq, err)
	}
	if r.AdjFactorHfq, err = decimal.NewFromString(hfq); err != nil {
		return nil, fmt.Errorf("parse adj_factor_hfq %q: %w", hfq, err)
	}
	r.Date = domain.TruncateDate(r.Date)
	r.BuildTime = r.BuildTime.UTC()

	return &r, nil
}
