package engine

import (
	// Register the "duckdb" and "sqlite3" drivers the variants probe for.
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
)
