package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"buildline/internal/db"
	"buildline/internal/domain"
)

// Repo is the SQL access layer. Methods taking a *sql.Tx run inside it when
// tx is non-nil and against DB otherwise.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrStale means a conditional update matched no row because the value
	// it was conditioned on has changed.
	ErrStale = errors.New("stale write")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const projectColumns = `id,name,location,budget,timeline,manager_id,supervisor_id,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var timeline, manager, supervisor sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Location, &p.Budget, &timeline, &manager, &supervisor, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Timeline = strPtr(timeline)
	p.ManagerID = strPtr(manager)
	p.SupervisorID = strPtr(supervisor)
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Location, p.Budget, nullablePtr(p.Timeline), nullablePtr(p.ManagerID), nullablePtr(p.SupervisorID), p.CreatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects returns projects newest first, optionally limited to those
// where actorID is the manager or supervisor.
func (r Repo) ListProjects(ctx context.Context, actorID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if actorID != "" {
		query += ` WHERE manager_id=? OR supervisor_id=?`
		args = append(args, actorID, actorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?, location=?, budget=?, timeline=?, manager_id=?, supervisor_id=? WHERE id=?`,
		p.Name, p.Location, p.Budget, nullablePtr(p.Timeline), nullablePtr(p.ManagerID), nullablePtr(p.SupervisorID), p.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectOne(res, nil)
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	return expectOne(r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id))
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}
