package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agencyline/internal/domain"
)

const userColumns = `id,name,email,password_hash,role,COALESCE(gstin,''),COALESCE(address,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.GSTIN, &u.Address, &u.CreatedAt, &u.UpdatedAt)
	u.Role = domain.Role(role)
	return u, err
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	u.Email = NormalizeEmail(u.Email)
	if _, err := r.GetUserByEmail(ctx, u.Email); err == nil {
		return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := r.exec(ctx, `INSERT INTO users(id,name,email,password_hash,role,gstin,address,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), nullable(u.GSTIN), nullable(u.Address), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err != nil {
		return domain.User{}, notFound("user", id, err)
	}
	return u, nil
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	email = NormalizeEmail(email)
	u, err := scanUser(r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
	if err != nil {
		return domain.User{}, notFound("user", email, err)
	}
	return u, nil
}

// ListUsers returns users ordered by name, optionally filtered by role.
func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUser rewrites the mutable columns of u. Role is never updated.
func (r Repo) UpdateUser(ctx context.Context, u domain.User) error {
	u.Email = NormalizeEmail(u.Email)
	existing, err := r.GetUserByEmail(ctx, u.Email)
	if err == nil && existing.ID != u.ID {
		return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.execOne(ctx, "user "+u.ID, `UPDATE users SET name=?,email=?,password_hash=?,gstin=?,address=?,updated_at=? WHERE id=?`,
		u.Name, u.Email, u.PasswordHash, nullable(u.GSTIN), nullable(u.Address), u.UpdatedAt, u.ID)
}

func (r Repo) CountUsers(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM users WHERE role=?`, string(role)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// UserRefs resolves display projections for ids; unknown ids are skipped.
func (r Repo) UserRefs(ctx context.Context, ids []string) (map[string]domain.Ref, error) {
	res := map[string]domain.Ref{}
	if len(ids) == 0 {
		return res, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.query(ctx, `SELECT id,name FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ref domain.Ref
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		res[ref.ID] = ref
	}
	return res, rows.Err()
}
