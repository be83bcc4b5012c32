package repo

import (
	"context"
	"database/sql"

	"buildline/internal/domain"
)

const resourceColumns = `id,name,quantity,resource_type,created_at,updated_at`

func scanResource(row rowScanner) (domain.Resource, error) {
	var res domain.Resource
	err := row.Scan(&res.ID, &res.Name, &res.Quantity, &res.Type, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

func (r Repo) InsertResourceTx(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO resources(`+resourceColumns+`) VALUES (?,?,?,?,?,?)`,
		res.ID, res.Name, res.Quantity, res.Type, res.CreatedAt, res.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return r.GetResourceTx(ctx, nil, id)
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(r.q(tx).QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) ListResources(ctx context.Context, resourceType string) ([]domain.Resource, error) {
	var clauses []string
	var args []any
	if resourceType != "" {
		clauses = append(clauses, "resource_type=?")
		args = append(args, resourceType)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources`+whereClause(clauses)+` ORDER BY name ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// UpdateResourceQuantityTx writes to only when the stored quantity still
// equals from. It returns ErrStale otherwise.
func (r Repo) UpdateResourceQuantityTx(ctx context.Context, tx *sql.Tx, id string, from, to int, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE resources SET quantity=?, updated_at=? WHERE id=? AND quantity=?`, to, updatedAt, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) DeleteResourceTx(ctx context.Context, tx *sql.Tx, id string) error {
	return expectOne(r.q(tx).ExecContext(ctx, `DELETE FROM resources WHERE id=?`, id))
}

// CountTasksForResourceTx counts tasks holding a reservation on the resource.
func (r Repo) CountTasksForResourceTx(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE resource_id=?`, id).Scan(&n)
	return n, err
}

// ReservedByResource sums quantity_used per resource over all tasks.
func (r Repo) ReservedByResource(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT resource_id, SUM(quantity_used) FROM tasks GROUP BY resource_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var id string
		var sum int
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}
