package buildlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal buildline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Resource is an inventory item as returned by the API.
type Resource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	ResourceType string `json:"resource_type"`
	Reserved     int    `json:"reserved,omitempty"`
	Total        int    `json:"total,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Name         string  `json:"name"`
	ResourceID   string  `json:"resource_id"`
	QuantityUsed int     `json:"quantity_used"`
	WorkerID     *string `json:"worker_id,omitempty"`
	StartDate    string  `json:"start_date"`
	EndDate      *string `json:"end_date,omitempty"`
}

// NewTask is the payload for CreateTask.
type NewTask struct {
	Name         string  `json:"name"`
	ResourceID   string  `json:"resource_id"`
	QuantityUsed int     `json:"quantity_used"`
	WorkerID     *string `json:"worker_id,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// TaskChanges lists the fields UpdateTask should change.
type TaskChanges struct {
	Name         *string `json:"name,omitempty"`
	ResourceID   *string `json:"resource_id,omitempty"`
	QuantityUsed *int    `json:"quantity_used,omitempty"`
	WorkerID     *string `json:"worker_id,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error code from the
// response envelope when one was sent.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateResource adds an inventory item.
func (c *Client) CreateResource(ctx context.Context, name string, quantity int, resourceType string) (Resource, error) {
	body := map[string]any{
		"name":     name,
		"quantity": quantity,
	}
	if resourceType != "" {
		body["resource_type"] = resourceType
	}
	var resp Resource
	err := c.do(ctx, http.MethodPost, "v0/resources", body, &resp)
	return resp, err
}

// Resource fetches one resource.
func (c *Client) Resource(ctx context.Context, id string) (Resource, error) {
	var resp Resource
	err := c.do(ctx, http.MethodGet, "v0/resources/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Resources lists resources with reserved totals.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	var resp []Resource
	err := c.do(ctx, http.MethodGet, "v0/resources", nil, &resp)
	return resp, err
}

// Restock adds delivered stock to a resource.
func (c *Client) Restock(ctx context.Context, id string, amount int) (Resource, error) {
	var resp Resource
	endpoint := fmt.Sprintf("v0/resources/%s/restock", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"amount": amount}, &resp)
	return resp, err
}

// CreateTask creates a task and reserves its quantity.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), t, &resp)
	return resp, err
}

// UpdateTask applies changes and adjusts the reservation.
func (c *Client) UpdateTask(ctx context.Context, id string, changes TaskChanges) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.projectPath("tasks/"+url.PathEscape(id)), changes, &resp)
	return resp, err
}

// DeleteTask removes a task and releases its reservation.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath("tasks/"+url.PathEscape(id)), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing for the client's project.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if c.ProjectID != "" {
		q.Set("project_id", c.ProjectID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
