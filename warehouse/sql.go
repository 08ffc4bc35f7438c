package warehouse

import (
	"fmt"
	"strings"
)

// quoteIdent double-quotes a SQL identifier for DuckDB.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral single-quotes a SQL string literal.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// stagingTableName maps a source table name onto its staging table: the
// lower-cased source name, no year suffix.
func stagingTableName(table string) string {
	return strings.ToLower(table)
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(stagingTableName(table))
}

// createSchemaSQL ensures the staging schema exists.
func createSchemaSQL(schema string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(schema))
}

// stagedSelectSQL is the shared SELECT that tags every source row with the
// ingestion year and load timestamp.
func stagedSelectSQL(parquetPath string, year int) string {
	return fmt.Sprintf(
		"SELECT *, CAST(%d AS INTEGER) AS year, current_timestamp AS _loaded_at FROM read_parquet(%s)",
		year, quoteLiteral(parquetPath))
}

// replaceSQL fully replaces the staging table's contents with the source
// file's rows (truncate-and-load semantics).
func replaceSQL(schema, table, parquetPath string, year int) string {
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s",
		qualifiedTable(schema, table), stagedSelectSQL(parquetPath, year))
}

// createIfNeededSQL creates an empty staging table with the staged shape so
// an append has a destination.
func createIfNeededSQL(schema, table, parquetPath string, year int) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS %s WHERE 1 = 0",
		qualifiedTable(schema, table), stagedSelectSQL(parquetPath, year))
}

// appendSQL inserts the source file's rows without touching prior contents.
func appendSQL(schema, table, parquetPath string, year int) string {
	return fmt.Sprintf("INSERT INTO %s %s",
		qualifiedTable(schema, table), stagedSelectSQL(parquetPath, year))
}

// sourceCountSQL counts the rows in the columnar source file.
func sourceCountSQL(parquetPath string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", quoteLiteral(parquetPath))
}
