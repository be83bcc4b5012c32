package repo

import (
	"context"
	"database/sql"

	"buildline/internal/domain"
)

const taskColumns = `id,project_id,name,resource_id,quantity_used,worker_id,supervisor_id,start_date,end_date,image_url,COALESCE(description,''),created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var worker, supervisor, end, image sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.ResourceID, &t.QuantityUsed, &worker, &supervisor,
		&t.StartDate, &end, &image, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.WorkerID = strPtr(worker)
	t.SupervisorID = strPtr(supervisor)
	t.EndDate = strPtr(end)
	t.ImageURL = strPtr(image)
	return t, err
}

type TaskFilter struct {
	ProjectID  string
	ResourceID string
	WorkerID   string
	Limit      int
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,name,resource_id,quantity_used,worker_id,supervisor_id,start_date,end_date,image_url,description,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, t.ResourceID, t.QuantityUsed, nullablePtr(t.WorkerID), nullablePtr(t.SupervisorID),
		t.StartDate, nullablePtr(t.EndDate), nullablePtr(t.ImageURL), nullable(t.Description), t.CreatedAt, t.UpdatedAt)
	return mapWriteErr(err)
}

// UpdateTaskTx rewrites every mutable column of the task.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return expectOne(r.q(tx).ExecContext(ctx, `UPDATE tasks SET name=?, resource_id=?, quantity_used=?, worker_id=?, supervisor_id=?, start_date=?, end_date=?, image_url=?, description=?, updated_at=? WHERE id=?`,
		t.Name, t.ResourceID, t.QuantityUsed, nullablePtr(t.WorkerID), nullablePtr(t.SupervisorID), t.StartDate,
		nullablePtr(t.EndDate), nullablePtr(t.ImageURL), nullable(t.Description), t.UpdatedAt, t.ID))
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	return r.ListTasksTx(ctx, nil, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks` + whereClause(clauses) + ` ORDER BY start_date ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	return expectOne(r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}
