package server

import (
	"encoding/json"

	"buildline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID           *string `json:"id,omitempty"`
	Name         string  `json:"name" minLength:"1"`
	Location     *string `json:"location,omitempty"`
	Budget       *string `json:"budget,omitempty" example:"250000.00"`
	Timeline     *string `json:"timeline,omitempty" example:"2026-12-31"`
	ManagerID    *string `json:"manager_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
}

// UpdateProjectRequest carries only the fields to change. An empty string
// clears timeline, manager_id and supervisor_id.
type UpdateProjectRequest struct {
	Name         *string `json:"name,omitempty" minLength:"1"`
	Location     *string `json:"location,omitempty"`
	Budget       *string `json:"budget,omitempty" example:"300000.00"`
	Timeline     *string `json:"timeline,omitempty" example:"2027-06-30"`
	ManagerID    *string `json:"manager_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
}

type CreateResourceRequest struct {
	Name         string `json:"name" minLength:"1"`
	Quantity     int    `json:"quantity"`
	ResourceType string `json:"resource_type,omitempty" enum:"material,equipment,labor"`
}

type RestockRequest struct {
	Amount int `json:"amount"`
}

type CreateWorkerRequest struct {
	Name       string `json:"name" minLength:"1"`
	NationalID string `json:"national_id" example:"123456789012"`
	IsWorking  *bool  `json:"is_working,omitempty"`
}

type UpdateWorkerRequest struct {
	IsWorking bool `json:"is_working"`
}

type CreateTaskRequest struct {
	Name         string  `json:"name" minLength:"1"`
	ResourceID   string  `json:"resource_id" minLength:"1"`
	QuantityUsed int     `json:"quantity_used"`
	WorkerID     *string `json:"worker_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	StartDate    *string `json:"start_date,omitempty" example:"2026-03-01"`
	EndDate      *string `json:"end_date,omitempty" example:"2026-03-15"`
	ImageURL     *string `json:"image_url,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// UpdateTaskRequest carries only the fields to change.
type UpdateTaskRequest struct {
	Name         *string `json:"name,omitempty"`
	ResourceID   *string `json:"resource_id,omitempty"`
	QuantityUsed *int    `json:"quantity_used,omitempty"`
	WorkerID     *string `json:"worker_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	Description  *string `json:"description,omitempty"`
}

type CreateDocumentRequest struct {
	Title        string `json:"title" minLength:"1"`
	DocumentType string `json:"document_type" enum:"blueprint,contract,inspection_report,video,image"`
	URL          string `json:"url" minLength:"1"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Source      string   `json:"source"`
	Permissions []string `json:"permissions"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type PaginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
