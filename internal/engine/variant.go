package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Variant is one build of the analytical engine the worker can load. The
// feature-enhanced variant (DuckDB, columnar) is preferred; the baseline
// variant (in-memory SQLite) keeps local analytics available where the
// DuckDB bindings cannot run.
type Variant struct {
	Name   string
	Driver string
	DSN    string
}

// DefaultVariants returns the probe order used by Init.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "duckdb", Driver: "duckdb", DSN: ""},
		{Name: "sqlite-baseline", Driver: "sqlite3", DSN: ":memory:"},
	}
}

// openVariant probes the candidates in order and opens the first one whose
// driver is registered and answers a ping. The returned pool is pinned to a
// single connection: the session's state (temp tables, registered data)
// lives on that one connection.
func openVariant(ctx context.Context, variants []Variant) (*sql.DB, Variant, error) {
	var probeErrs []string

	for _, v := range variants {
		pool, err := sql.Open(v.Driver, v.DSN)
		if err != nil {
			// Driver not registered in this build.
			probeErrs = append(probeErrs, fmt.Sprintf("%s: %v", v.Name, err))
			continue
		}
		pool.SetMaxOpenConns(1)
		pool.SetMaxIdleConns(1)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pool.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = pool.Close()
			probeErrs = append(probeErrs, fmt.Sprintf("%s: %v", v.Name, err))
			continue
		}

		return pool, v, nil
	}

	return nil, Variant{}, fmt.Errorf("no compatible engine variant: %s", strings.Join(probeErrs, "; "))
}
