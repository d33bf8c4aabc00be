// Package dbtest provisions throwaway tenant schemas on the Postgres server
// named by DATABASE_URL. Tests that use it are skipped when the variable is
// unset.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/migrations"
)

// Pool connects to DATABASE_URL and closes the pool when the test ends.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("connect to database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// UniqueTenantID returns a fresh tenant id with the given prefix.
func UniqueTenantID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
}

// Tenant creates a migrated tenant schema and drops it when the test ends.
func Tenant(t testing.TB, pool *pgxpool.Pool, prefix string) string {
	t.Helper()
	ctx := context.Background()
	tenantID := UniqueTenantID(prefix)
	if _, err := db.CreateTenantSchema(ctx, pool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+db.SchemaName(tenantID)+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema for %s: %v", tenantID, err)
		}
	})
	return tenantID
}

// TenantContext pins one connection to the tenant schema the way the tenant
// middleware does and returns a context carrying it. The connection is
// released when the test ends.
func TenantContext(t testing.TB, pool *pgxpool.Pool, tenantID string) context.Context {
	t.Helper()
	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire conn: %v", err)
	}
	t.Cleanup(conn.Release)

	if _, err := conn.Exec(ctx, "SET search_path TO "+db.SchemaName(tenantID)+", public"); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	ctx = db.WithTenant(ctx, tenantID)
	return context.WithValue(ctx, db.DBConnKey, conn)
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, ctx context.Context, table, where string, args ...any) int {
	t.Helper()
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		t.Fatal("no tenant connection in context")
	}
	sql := "SELECT COUNT(*) FROM " + table
	if where != "" {
		sql += " WHERE " + where
	}
	var n int
	if err := conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
