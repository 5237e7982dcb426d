package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"gorm.io/gorm"

	"github.com/blockedby/teleclone/internal/config"
)

// QRClient is a raw gotd client for QR login. It does not prompt on the
// terminal and keeps the new session in memory until it is saved.
type QRClient struct {
	Client     *telegram.Client
	Dispatcher *tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

func NewQRClient(cfg *config.Config) *QRClient {
	mem := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(cfg.TGApiID, cfg.TGApiHash, telegram.Options{
		SessionStorage: mem,
		UpdateHandler:  &dispatcher,
	})
	return &QRClient{Client: client, Dispatcher: &dispatcher, Storage: mem}
}

// QRLogin describes how tokens and the 2FA password reach the user.
type QRLogin struct {
	// Show is called with the tg://login URL, again each time it expires.
	Show func(url string) error
	// Password is asked when the account has two-step verification.
	Password func() (string, error)
}

// Login waits until the token is scanned from an authorized device and
// returns the new session.
func (c *QRClient) Login(ctx context.Context, l QRLogin) (*session.Data, error) {
	var data *session.Data
	err := c.Client.Run(ctx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(c.Dispatcher)
		_, err := c.Client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			return l.Show(token.URL())
		})
		if tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
			if l.Password == nil {
				return err
			}
			pwd, perr := l.Password()
			if perr != nil {
				return perr
			}
			_, err = c.Client.Auth().Password(ctx, pwd)
		}
		if err != nil {
			return err
		}

		data, err = (&session.Loader{Storage: c.Storage}).Load(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("qr login: %w", err)
	}
	return data, nil
}

// SaveSession writes gotd session data into the sqlite table gotgproto's
// SqlSession reads, replacing what was there.
func SaveSession(db *gorm.DB, data *session.Data) error {
	if data == nil {
		return fmt.Errorf("session data is nil")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate session table: %w", err)
	}
	return db.Save(&storage.Session{Version: storage.LatestVersion, Data: raw}).Error
}
