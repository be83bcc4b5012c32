package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectCreated    = "project.created"
	ProjectUpdated    = "project.updated"
	ProjectDeleted    = "project.deleted"
	ResourceCreated   = "resource.created"
	ResourceReduced   = "resource.reduced"
	ResourceRestored  = "resource.restored"
	ResourceRestocked = "resource.restocked"
	ResourceLowStock  = "resource.low_stock"
	ResourceDeleted   = "resource.deleted"
	WorkerCreated     = "worker.created"
	WorkerUpdated     = "worker.updated"
	WorkerDeleted     = "worker.deleted"
	TaskCreated       = "task.created"
	TaskUpdated       = "task.updated"
	TaskDeleted       = "task.deleted"
	DocumentCreated   = "document.created"
)

// Writer appends to the events table inside the caller's transaction, so an
// event exists exactly when the change it describes was committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row to append.
type Event struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := evt.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := evt.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evt.Type, nullable(evt.ProjectID), evt.EntityKind, nullable(evt.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
