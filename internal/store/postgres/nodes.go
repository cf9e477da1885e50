package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// NodeStore implements store.NodeStore.
type NodeStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *NodeStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *NodeStore) Create(ctx context.Context, n *models.Node) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO nodes (id, display_name, lat, lon, location, provider, public_ip, scavenger_active, last_active_ts, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.DisplayName, n.Lat, n.Lon, n.Location, n.Provider, n.PublicIP, n.ScavengerActive, n.LastActiveAt, n.RegisteredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating node: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("creating node: %w", err)
	}
	return nil
}

func (s *NodeStore) GetByID(ctx context.Context, id string) (*models.Node, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, display_name, lat, lon, COALESCE(location, ''), COALESCE(provider, ''),
		       COALESCE(public_ip, ''), scavenger_active, last_active_ts, registered_at
		FROM nodes WHERE id = $1`, id)
	return scanNode(row)
}

func (s *NodeStore) Update(ctx context.Context, n *models.Node) error {
	res, err := s.q().ExecContext(ctx, `
		UPDATE nodes SET display_name = $2, lat = $3, lon = $4, location = $5, provider = $6
		WHERE id = $1`, n.ID, n.DisplayName, n.Lat, n.Lon, n.Location, n.Provider)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *NodeStore) Delete(ctx context.Context, id string) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *NodeStore) List(ctx context.Context) ([]*models.Node, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, display_name, lat, lon, COALESCE(location, ''), COALESCE(provider, ''),
		       COALESCE(public_ip, ''), scavenger_active, last_active_ts, registered_at
		FROM nodes ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateHeartbeat advances a node's last_active_ts and, when the node has
// a public address to report, its public_ip, matching the node scheduler
// loop's step 5 (spec.md section 4.6).
func (s *NodeStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time, publicIP string) error {
	var err error
	if publicIP != "" {
		_, err = s.q().ExecContext(ctx, `
			UPDATE nodes SET last_active_ts = $2, public_ip = $3 WHERE id = $1`, id, at, publicIP)
	} else {
		_, err = s.q().ExecContext(ctx, `UPDATE nodes SET last_active_ts = $2 WHERE id = $1`, id, at)
	}
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	return nil
}

func (s *NodeStore) SetScavenger(ctx context.Context, id string, active bool) error {
	res, err := s.q().ExecContext(ctx, `UPDATE nodes SET scavenger_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("setting scavenger: %w", err)
	}
	return checkRowsAffected(res)
}

func scanNode(row rowScanner) (*models.Node, error) {
	var n models.Node
	if err := row.Scan(&n.ID, &n.DisplayName, &n.Lat, &n.Lon, &n.Location, &n.Provider,
		&n.PublicIP, &n.ScavengerActive, &n.LastActiveAt, &n.RegisteredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	return &n, nil
}
