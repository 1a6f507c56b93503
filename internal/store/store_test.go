package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/opsguard/opsguard/internal/config"
	"github.com/opsguard/opsguard/internal/db"
	"github.com/opsguard/opsguard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func implementations(t *testing.T) map[string]store.Store {
	t.Helper()
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   t.TempDir() + "/store_test.db",
	})
	require.NoError(t, err)
	sqlStore := store.NewSQLStore(gormDB)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sql":    sqlStore,
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			var out doc
			found, err := s.Get(context.Background(), "things", "nope", &out)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestSetIsFullReplace(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "things", "a", doc{Name: "first", Count: 1}))
			require.NoError(t, s.Set(ctx, "things", "a", doc{Name: "second"}))

			var out doc
			found, err := s.Get(ctx, "things", "a", &out)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "second", out.Name)
			// Count must be zeroed: Set replaces the whole record, no merge.
			assert.Equal(t, 0, out.Count)
		})
	}
}

func TestGetAllScopedToCollection(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "left", "a", doc{Name: "a"}))
			require.NoError(t, s.Set(ctx, "left", "b", doc{Name: "b"}))
			require.NoError(t, s.Set(ctx, "right", "c", doc{Name: "c"}))

			all, err := s.GetAll(ctx, "left")
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.Contains(t, all, "a")
			assert.Contains(t, all, "b")
		})
	}
}

func TestConcurrentWriters(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					key := string(rune('a' + n))
					for j := 0; j < 10; j++ {
						_ = s.Set(ctx, "busy", key, doc{Name: key, Count: j})
					}
				}(i)
			}
			wg.Wait()

			all, err := s.GetAll(ctx, "busy")
			require.NoError(t, err)
			assert.Len(t, all, 8)
		})
	}
}
