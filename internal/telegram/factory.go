package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/teleclone/internal/config"
)

// OpenSessionDB opens the sqlite file that holds the persistent session.
func OpenSessionDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return db, nil
}

// NewPersistentClient creates a telegram client. A string session from the
// environment wins; otherwise session data lives in the sqlite database and
// auth key refreshes are written back to it.
func NewPersistentClient(_ context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	clientOpts := &gotgproto.ClientOpts{DisableCopyright: true}
	switch {
	case cfg.TGSessionStr != "":
		clientOpts.Session = sessionMaker.StringSession(cfg.TGSessionStr)
		clientOpts.InMemory = true
	case db != nil:
		clientOpts.Session = sessionMaker.SqlSession(db.Dialector)
	default:
		return nil, fmt.Errorf("no session storage configured")
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(cfg.TGPhone), // empty = use session
		clientOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return client, nil
}
