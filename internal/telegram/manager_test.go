package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/teleclone/internal/config"
)

func newSessionDB(t *testing.T, seeded bool) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE sessions (version integer primary key, data blob)").Error)
	if seeded {
		require.NoError(t, db.Exec("INSERT INTO sessions (version, data) VALUES (1, ?)", []byte(`{"mock":"data"}`)).Error)
	}
	return db
}

func TestManager_Init_NoCredentials_Unauthorized(t *testing.T) {
	m := NewManager(&config.Config{}, newSessionDB(t, true))

	called := false
	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, called, "factory must not run without api credentials")
}

func TestManager_Init_EmptySessionTable_Unauthorized(t *testing.T) {
	cfg := &config.Config{TGApiID: 12345, TGApiHash: "test_hash"}
	m := NewManager(cfg, newSessionDB(t, false))

	called := false
	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, called)
}

func TestManager_Init_FactoryError_Unauthorized(t *testing.T) {
	cfg := &config.Config{TGApiID: 12345, TGApiHash: "test_hash"}
	m := NewManager(cfg, newSessionDB(t, true))

	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		return nil, errors.New("factory failure")
	})

	err := m.Init(context.Background())

	assert.NoError(t, err, "Init should not return error even if factory fails")
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.Nil(t, m.GetClient())
}

func TestManager_Init_StringSession_Ready(t *testing.T) {
	cfg := &config.Config{TGApiID: 12345, TGApiHash: "test_hash", TGSessionStr: "abc"}
	m := NewManager(cfg, nil)

	fake := &gotgproto.Client{}
	var gotCfg *config.Config
	m.SetClientFactory(func(_ context.Context, c *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		gotCfg = c
		assert.Nil(t, db)
		return fake, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusReady, m.GetStatus())
	assert.Same(t, fake, m.GetClient())
	assert.Equal(t, "abc", gotCfg.TGSessionStr)
}

func TestManager_GetStatus_Concurrent(t *testing.T) {
	m := NewManager(&config.Config{}, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.GetStatus()
		}()
	}

	close(start)
	wg.Wait()
}

func TestManager_Stop_Graceful(t *testing.T) {
	m := NewManager(&config.Config{}, nil)

	assert.NotPanics(t, func() {
		m.Stop()
	})
}

func TestOpenSessionDB_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	db, err := OpenSessionDB(path)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(path))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestNewPersistentClient_NoStorage(t *testing.T) {
	_, err := NewPersistentClient(context.Background(), &config.Config{TGApiID: 1, TGApiHash: "h"}, nil)
	assert.Error(t, err)
}
