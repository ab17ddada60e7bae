package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"coinchart/internal/model"
)

const (
	keyTheme       = "theme"
	keyCredentials = "bybit_credentials"
)

// Settings is a small key/value store for user preferences.
type Settings struct {
	db *sqlx.DB
}

// Settings returns the settings store backed by d.
func (d *DB) Settings() *Settings { return &Settings{db: d.db} }

// Theme returns the saved theme, or dark when none is saved.
func (s *Settings) Theme(ctx context.Context) (model.Theme, error) {
	v, ok, err := s.get(ctx, keyTheme)
	if err != nil {
		return "", err
	}
	t := model.Theme(v)
	if !ok || !t.Valid() {
		return model.ThemeDark, nil
	}
	return t, nil
}

// SetTheme saves the theme.
func (s *Settings) SetTheme(ctx context.Context, t model.Theme) error {
	if !t.Valid() {
		return fmt.Errorf("invalid theme %q", t)
	}
	return s.put(ctx, keyTheme, string(t))
}

// Credentials returns the saved exchange credentials. ok is false when none
// are saved. A missing trade mode reads as live.
func (s *Settings) Credentials(ctx context.Context) (creds model.Credentials, ok bool, err error) {
	v, ok, err := s.get(ctx, keyCredentials)
	if err != nil || !ok {
		return model.Credentials{}, false, err
	}
	if err := json.Unmarshal([]byte(v), &creds); err != nil {
		return model.Credentials{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.TradeMode == "" {
		creds.TradeMode = model.TradeModeLive
	}
	return creds, true, nil
}

// SaveCredentials stores creds, replacing any previous ones.
func (s *Settings) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	if creds.TradeMode == "" {
		creds.TradeMode = model.TradeModeLive
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.put(ctx, keyCredentials, string(b))
}

// DeleteCredentials forgets the exchange credentials.
func (s *Settings) DeleteCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, keyCredentials)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (s *Settings) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Settings) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
