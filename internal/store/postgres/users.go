package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/store"
)

// UserStore implements store.UserStore.
type UserStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *UserStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO users (id, name, role, team, static_token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, string(u.Role), u.Team, u.StaticToken, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating user: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(team, ''), created_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *UserStore) GetByStaticTokenHash(ctx context.Context, hash string) (*models.User, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(team, ''), created_at
		FROM users WHERE static_token_hash = $1`, hash)
	return scanUser(row)
}

func (s *UserStore) Update(ctx context.Context, u *models.User) error {
	res, err := s.q().ExecContext(ctx, `
		UPDATE users SET name = $2, role = $3, team = $4 WHERE id = $1`,
		u.ID, u.Name, string(u.Role), u.Team)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, name, role, COALESCE(team, ''), created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &role, &u.Team, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func scanUserRow(rows *sql.Rows) (*models.User, error) {
	return scanUser(rows)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
