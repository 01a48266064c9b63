package migrations

import (
	"testing"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- comment; with a semicolon
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y UInt8) ENGINE = Memory;
`
	stmts := splitStatements(input)
	if len(stmts) != 2 {
		t.Fatalf("Expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (x UInt8) ENGINE = Memory" {
		t.Errorf("Unexpected first statement: %q", stmts[0])
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	if err := validateNoSemicolonInStrings(`SELECT 'a''b'; SELECT 1;`); err != nil {
		t.Errorf("Expected valid SQL, got %v", err)
	}
	if err := validateNoSemicolonInStrings(`SELECT 'a;b'`); err == nil {
		t.Error("Expected error for semicolon inside literal")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/prices")
	if err != nil {
		t.Fatalf("databaseFromDSN failed: %v", err)
	}
	if db != "prices" {
		t.Errorf("Expected prices, got %s", db)
	}

	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("Expected error for DSN without database")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		t.Fatalf("sqlFiles(postgres) failed: %v", err)
	}
	if len(pg) != 2 || pg[0] != "001_corporate_actions.sql" || pg[1] != "002_adjustments.sql" {
		t.Errorf("Unexpected postgres migrations: %v", pg)
	}

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("sqlFiles(clickhouse) failed: %v", err)
	}
	if len(ch) != 1 {
		t.Errorf("Expected 1 clickhouse migration, got %v", ch)
	}
}
