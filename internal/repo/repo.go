package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/db"
	"studioflow/internal/domain"
)

// Repo is the SQL store for projects, tracking, the action ledger, rules,
// decisions, users and API keys. Methods taking a *sqlx.Tx participate in
// the caller's transaction.
type Repo struct {
	DB *db.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const projectColumns = `id,name,owner_id,status,created_at,deleted_at`

func (r Repo) InsertProject(ctx context.Context, tx *sqlx.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO projects(id,name,owner_id,status,created_at) VALUES (?,?,?,?,?)`),
		p.ID, p.Name, p.OwnerID, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func getProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	var p domain.Project
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT `+projectColumns+` FROM projects WHERE id=? AND deleted_at IS NULL`), id)
	return p, notFound(err)
}

// GetProject returns a live (not soft-deleted) project.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Project, error) {
	return getProject(ctx, tx, id)
}

// ListProjects returns live projects, optionally filtered by owner.
func (r Repo) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE deleted_at IS NULL`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id`
	var res []domain.Project
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) SetProjectStatus(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET status=? WHERE id=?`), status, id)
	return err
}

// SoftDeleteProject stamps deleted_at; tracking and history rows are kept.
func (r Repo) SoftDeleteProject(ctx context.Context, tx *sqlx.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET deleted_at=? WHERE id=? AND deleted_at IS NULL`), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
