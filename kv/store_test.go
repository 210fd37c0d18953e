package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	lite, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	require.NoError(t, lite.Migrate(ctx))
	t.Cleanup(func() { lite.Close() })

	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
	if pg := postgresBackend(t); pg != nil {
		stores["postgres"] = pg
	}
	return stores
}

// testPrefixes covers every key the store tests write.
var testPrefixes = []string{"user:u1", "visit", "like:p1"}

// postgresBackend connects to DATABASE_URL when it is set. The tests share
// the real table, so their keys are cleared before and after each use.
func postgresBackend(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	ctx := context.Background()
	pg, err := NewPostgres(ctx, dsn, Options{MaxConns: 2})
	require.NoError(t, err)
	require.NoError(t, pg.Migrate(ctx))

	wipe := func() {
		for _, prefix := range testPrefixes {
			_, err := pg.DeleteByPrefix(ctx, prefix)
			require.NoError(t, err)
		}
	}
	wipe()
	t.Cleanup(func() {
		wipe()
		pg.Close()
	})
	return pg
}

func TestPostgres_RejectsNonJSON(t *testing.T) {
	pg := postgresBackend(t)
	if pg == nil {
		t.Skip("DATABASE_URL not set")
	}
	assert.Error(t, pg.Set(context.Background(), "user:u1", []byte("not json")))
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "user:u1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "user:u1", []byte(`{"name":"Ada"}`)))
			got, err := s.Get(ctx, "user:u1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Ada"}`, string(got))

			require.NoError(t, s.Set(ctx, "user:u1", []byte(`{"name":"Grace"}`)))
			got, err = s.Get(ctx, "user:u1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Grace"}`, string(got))

			require.NoError(t, s.Delete(ctx, "user:u1"))
			require.NoError(t, s.Delete(ctx, "user:u1"), "deleting twice is fine")
			_, err = s.Get(ctx, "user:u1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{
				"visit:2026-10-18:b",
				"visit:2026-10-18:a",
				"visit:2026-10-17:a",
				"visit_x",
				"like:p1:a",
			} {
				require.NoError(t, s.Set(ctx, k, []byte("true")))
			}

			entries, err := s.List(ctx, "visit:2026-10-18:")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "visit:2026-10-18:a", entries[0].Key)
			assert.Equal(t, "visit:2026-10-18:b", entries[1].Key)

			// Wildcards in the prefix are literal.
			entries, err = s.List(ctx, "visit_")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "visit_x", entries[0].Key)

			entries, err = s.List(ctx, "nothing:")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestStore_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "like:p1:a", []byte("true")))
			require.NoError(t, s.Set(ctx, "like:p1:b", []byte("true")))
			require.NoError(t, s.Set(ctx, "like:p10:a", []byte("true")))

			n, err := s.DeleteByPrefix(ctx, "like:p1:")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			_, err = s.Get(ctx, "like:p10:a")
			assert.NoError(t, err)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "cassandra", "", Options{})
	assert.Error(t, err)

	s, err := Open(context.Background(), "memory", "", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}
