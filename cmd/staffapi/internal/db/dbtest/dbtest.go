// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/migrations"
)

// New returns an in-memory database with every migration applied, including
// the demo seed. It is closed when the test ends.
func New(t testing.TB) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, ":memory:", bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)
	return db
}
