package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// SettingsRepository persists the dynamic Settings store (spec.md §3
// Setting entity). Secret-typed values are encrypted at rest using the
// encryptFn/decryptFn the caller supplies (internal/crypto, keyed by
// SETTINGS_ENCRYPTION_KEY).
type SettingsRepository struct {
	db         *DB
	encryptKey string
	encryptFn  func(plaintext, key string) (string, error)
	decryptFn  func(ciphertext, key string) (string, error)
}

// NewSettingsRepository constructs a SettingsRepository. encryptFn/decryptFn
// are injected rather than imported directly so this package does not take
// a hard dependency on internal/crypto's exact signature.
func NewSettingsRepository(db *DB, encryptKey string, encryptFn, decryptFn func(string, string) (string, error)) *SettingsRepository {
	return &SettingsRepository{db: db, encryptKey: encryptKey, encryptFn: encryptFn, decryptFn: decryptFn}
}

type settingRow struct {
	Component   string  `db:"component"`
	Section     string  `db:"section"`
	Key         string  `db:"key"`
	Value       string  `db:"value"`
	ValueType   string  `db:"value_type"`
	Description *string `db:"description"`
	IsSecret    bool    `db:"is_secret"`
}

func (s *SettingsRepository) decode(row settingRow) (*models.Setting, error) {
	value := row.Value
	if row.IsSecret && value != "" {
		plain, err := s.decryptFn(value, s.encryptKey)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to decrypt setting value", err)
		}
		value = plain
	}
	return &models.Setting{
		Component:   row.Component,
		Section:     row.Section,
		Key:         row.Key,
		Value:       value,
		ValueType:   models.SettingValueType(row.ValueType),
		Description: row.Description,
		IsSecret:    row.IsSecret,
	}, nil
}

// Get fetches one setting by its composite key.
func (s *SettingsRepository) Get(ctx context.Context, component, section, key string) (*models.Setting, error) {
	var row settingRow
	const q = `
		SELECT component, section, key, value, value_type, description, is_secret
		FROM settings WHERE component = $1 AND section = $2 AND key = $3`
	if err := s.db.GetContext(ctx, &row, q, component, section, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("setting not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to fetch setting", err)
	}
	return s.decode(row)
}

// ListByComponent returns every setting for a component, optionally
// restricted to one section.
func (s *SettingsRepository) ListByComponent(ctx context.Context, component string, section *string) ([]models.Setting, error) {
	var rows []settingRow
	if section != nil {
		const q = `
			SELECT component, section, key, value, value_type, description, is_secret
			FROM settings WHERE component = $1 AND section = $2 ORDER BY key`
		if err := s.db.SelectContext(ctx, &rows, q, component, *section); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list settings", err)
		}
	} else {
		const q = `
			SELECT component, section, key, value, value_type, description, is_secret
			FROM settings WHERE component = $1 ORDER BY section, key`
		if err := s.db.SelectContext(ctx, &rows, q, component); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list settings", err)
		}
	}

	out := make([]models.Setting, len(rows))
	for i, row := range rows {
		decoded, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out[i] = *decoded
	}
	return out, nil
}

// Upsert writes a setting, encrypting value first when isSecret is true.
func (s *SettingsRepository) Upsert(ctx context.Context, setting models.Setting) error {
	value := setting.Value
	if setting.IsSecret && value != "" {
		encrypted, err := s.encryptFn(value, s.encryptKey)
		if err != nil {
			return apperr.Wrap(apperr.KindCritical, "failed to encrypt setting value", err)
		}
		value = encrypted
	}

	const q = `
		INSERT INTO settings (component, section, key, value, value_type, description, is_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (component, section, key)
		DO UPDATE SET value = EXCLUDED.value, value_type = EXCLUDED.value_type,
		              description = EXCLUDED.description, is_secret = EXCLUDED.is_secret`
	if _, err := s.db.ExecContext(ctx, q, setting.Component, setting.Section, setting.Key,
		value, setting.ValueType, setting.Description, setting.IsSecret); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to upsert setting", err)
	}
	return nil
}

// Delete removes one setting.
func (s *SettingsRepository) Delete(ctx context.Context, component, section, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE component = $1 AND section = $2 AND key = $3`, component, section, key)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to delete setting", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("setting not found")
	}
	return nil
}

// Int returns a setting's value parsed as int, or fallback if unset/invalid.
func (s *SettingsRepository) Int(ctx context.Context, component, section, key string, fallback int) int {
	setting, err := s.Get(ctx, component, section, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(setting.Value)
	if err != nil {
		return fallback
	}
	return v
}

// Float returns a setting's value parsed as float64, or fallback.
func (s *SettingsRepository) Float(ctx context.Context, component, section, key string, fallback float64) float64 {
	setting, err := s.Get(ctx, component, section, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		return fallback
	}
	return v
}

// SeedDefaults inserts a setting only if it does not already exist,
// grounded on the original Python `poblate_settings_table` boot seeding.
func (s *SettingsRepository) SeedDefaults(ctx context.Context, defaults []models.Setting) error {
	for _, d := range defaults {
		const q = `
			INSERT INTO settings (component, section, key, value, value_type, description, is_secret)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (component, section, key) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, q, d.Component, d.Section, d.Key, d.Value, d.ValueType, d.Description, d.IsSecret); err != nil {
			return apperr.Wrap(apperr.KindCritical, "failed to seed default setting", err)
		}
	}
	return nil
}
