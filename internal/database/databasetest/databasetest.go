// Package databasetest opens migrated in-memory SQLite stores for tests.
package databasetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victorgomez09/garagedesk/internal/database"
)

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// New returns a fresh migrated store closed at test cleanup.
func New(t testing.TB, opts ...database.Option) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.SQLite, ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}
