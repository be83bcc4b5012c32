package repo

import (
	"context"
	"database/sql"

	"buildline/internal/domain"
)

const workerColumns = `id,name,national_id,is_working,created_at`

func scanWorker(row rowScanner) (domain.Worker, error) {
	var w domain.Worker
	err := row.Scan(&w.ID, &w.Name, &w.NationalID, &w.IsWorking, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWorkerTx(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO workers(`+workerColumns+`) VALUES (?,?,?,?,?)`,
		w.ID, w.Name, w.NationalID, w.IsWorking, w.CreatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return r.GetWorkerTx(ctx, nil, id)
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	return scanWorker(r.q(tx).QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

// ListWorkers returns workers by name. A non-nil working filters on the flag.
func (r Repo) ListWorkers(ctx context.Context, working *bool) ([]domain.Worker, error) {
	var clauses []string
	var args []any
	if working != nil {
		clauses = append(clauses, "is_working=?")
		args = append(args, *working)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers`+whereClause(clauses)+` ORDER BY name ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r Repo) SetWorkerWorkingTx(ctx context.Context, tx *sql.Tx, id string, working bool) error {
	return expectOne(r.q(tx).ExecContext(ctx, `UPDATE workers SET is_working=? WHERE id=?`, working, id))
}

func (r Repo) DeleteWorkerTx(ctx context.Context, tx *sql.Tx, id string) error {
	return expectOne(r.q(tx).ExecContext(ctx, `DELETE FROM workers WHERE id=?`, id))
}
