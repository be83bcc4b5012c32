package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"buildline/internal/domain"
	"buildline/internal/events"
)

type DocumentCreateOptions struct {
	ProjectID    string
	Title        string
	DocumentType string
	URL          string
	ActorID      string
}

// CreateDocument records a reference to a project document stored elsewhere.
func (e Engine) CreateDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	title := strings.TrimSpace(opts.Title)
	switch {
	case title == "":
		return domain.Document{}, domain.ValidationError{Field: "title", Reason: "required"}
	case !domain.IsDocumentType(opts.DocumentType):
		return domain.Document{}, domain.ValidationError{Field: "document_type", Reason: "must be one of " + strings.Join(domain.DocumentTypes, ", ")}
	case strings.TrimSpace(opts.URL) == "":
		return domain.Document{}, domain.ValidationError{Field: "url", Reason: "required"}
	case opts.ActorID == "":
		return domain.Document{}, domain.ValidationError{Field: "uploaded_by", Reason: "required"}
	}
	d := domain.Document{
		ID:           uuid.NewString(),
		ProjectID:    opts.ProjectID,
		Title:        title,
		DocumentType: opts.DocumentType,
		URL:          strings.TrimSpace(opts.URL),
		UploadedBy:   opts.ActorID,
		CreatedAt:    e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, d.ProjectID); err != nil {
		return domain.Document{}, fmt.Errorf("project %s: %w", d.ProjectID, err)
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.DocumentCreated, ProjectID: d.ProjectID, EntityKind: "document", EntityID: d.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"title": d.Title, "document_type": d.DocumentType},
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}
