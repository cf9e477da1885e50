package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// ConfigStore implements store.ConfigStore. It holds a single row (id = 1)
// carrying the GlobalConfig document described in spec.md section 4.7.
type ConfigStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ConfigStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *ConfigStore) Get(ctx context.Context) (*models.GlobalConfig, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT doc, updated_at, COALESCE(updated_by, '') FROM global_config WHERE id = 1`)
	var cfg models.GlobalConfig
	var updatedAt sql.NullTime
	if err := row.Scan(&cfg.Doc, &updatedAt, &cfg.UpdatedBy); err != nil {
		if err == sql.ErrNoRows {
			return &models.GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("scanning global config: %w", err)
	}
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}
	return &cfg, nil
}

func (s *ConfigStore) Update(ctx context.Context, cfg *models.GlobalConfig) error {
	now := time.Now().UTC()
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO global_config (id, doc, updated_at, updated_by)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = $1, updated_at = $2, updated_by = $3`,
		cfg.Doc, now, nullIfEmpty(cfg.UpdatedBy))
	if err != nil {
		return fmt.Errorf("updating global config: %w", err)
	}
	cfg.UpdatedAt = now
	return nil
}
