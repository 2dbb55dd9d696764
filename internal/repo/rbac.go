package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

const userColumns = `id,display_name,COALESCE(email,'') AS email,role,created_at`

// UpsertUser creates or updates a user. A nil tx writes through the pool.
func (r Repo) UpsertUser(ctx context.Context, tx *sqlx.Tx, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	if u.Role == "" {
		u.Role = domain.RoleClient
	}
	if u.Role != domain.RoleAdmin && u.Role != domain.RoleClient {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if u.DisplayName == "" {
		u.DisplayName = u.ID
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	query := r.DB.Rebind(`INSERT INTO users(id,display_name,email,role,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, email=excluded.email, role=excluded.role`)
	args := []any{u.ID, u.DisplayName, nullable(u.Email), u.Role, u.CreatedAt}
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	return u, notFound(err)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	var res []domain.User
	err := r.DB.SelectContext(ctx, &res, `SELECT `+userColumns+` FROM users ORDER BY id`)
	return res, err
}

// ListAdmins returns every user holding the admin role.
func (r Repo) ListAdmins(ctx context.Context) ([]domain.User, error) {
	var res []domain.User
	err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(`SELECT `+userColumns+` FROM users WHERE role=? ORDER BY id`), domain.RoleAdmin)
	return res, err
}

// IsAdmin reports whether the stored role of actorID is admin. Unknown
// actors are not admins.
func (r Repo) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	u, err := r.GetUser(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == domain.RoleAdmin, nil
}
