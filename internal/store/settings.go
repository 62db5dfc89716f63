package store

import (
	"context"
	"fmt"
)

// Setting keys.
const (
	SettingUPIID          = "upi_id"
	SettingSupportContact = "support_contact"
)

// Setting returns the value for key, or ErrNotFound.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = $1`, key); err != nil {
		return "", notFound(err, "setting "+key)
	}
	return v, nil
}

// PutSetting inserts or replaces key.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// SeedSettings inserts defaults for keys that have no value yet.
func (s *Store) SeedSettings(ctx context.Context, defaults map[string]string) (int, error) {
	added := 0
	for k, v := range defaults {
		if v == "" {
			continue
		}
		res, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, k, v)
		if err != nil {
			return added, fmt.Errorf("seed setting %s: %w", k, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}
