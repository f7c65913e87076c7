// Package storagetest opens throwaway SQLite databases for tests.
package storagetest

import (
	"context"
	"fmt"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/storage"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// New returns a Service backed by a private in-memory database.
func New(t testing.TB) *storage.Service {
	return NewWithRedis(t, nil)
}

// NewWithRedis is New with an online-set mirror.
func NewWithRedis(t testing.TB, rdb *redis.Client) *storage.Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := storage.Open(config.DB{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return storage.NewStorageService(db, rdb)
}

// User creates a user. Pass online to mark them connected.
func User(t testing.TB, st storage.Storage, first string, online bool) *models.User {
	t.Helper()
	u := models.NewUser(strings.ToLower(first)+"@example.com", first, "Tester")
	u.IsOnline = online
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}
