package repo

import (
	"context"
	"database/sql"

	"buildline/internal/domain"
)

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO documents(id,project_id,title,document_type,url,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Title, d.DocumentType, d.URL, d.UploadedBy, d.CreatedAt)
	return mapWriteErr(err)
}

func (r Repo) ListDocuments(ctx context.Context, projectID, documentType string) ([]domain.Document, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if documentType != "" {
		clauses = append(clauses, "document_type=?")
		args = append(args, documentType)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,document_type,url,uploaded_by,created_at FROM documents`+
		whereClause(clauses)+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.DocumentType, &d.URL, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
