package buildlinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/engine"
	"buildline/internal/migrate"
	"buildline/internal/server"
	buildlinesdk "buildline/sdk/go"
)

func newClient(t *testing.T) *buildlinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	if _, err := e.CreateProject(context.Background(), engine.ProjectCreateOptions{ID: "site-1", Name: "Riverside", ActorID: "mgr"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	token, err := server.SignToken("sdk-secret", "mgr", "manager", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	c := buildlinesdk.New(ts.URL, "site-1")
	c.BearerToken = token
	return c
}

func TestClientReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	cement, err := c.CreateResource(ctx, "Cement", 100, "material")
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	first, err := c.CreateTask(ctx, buildlinesdk.NewTask{Name: "Footings", ResourceID: cement.ID, QuantityUsed: 30})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := c.CreateTask(ctx, buildlinesdk.NewTask{Name: "Slab", ResourceID: cement.ID, QuantityUsed: 20}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	got, err := c.Resource(ctx, cement.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.Quantity != 50 {
		t.Fatalf("expected 50, got %d", got.Quantity)
	}

	_, err = c.CreateTask(ctx, buildlinesdk.NewTask{Name: "Walls", ResourceID: cement.ID, QuantityUsed: 51})
	var apiErr *buildlinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "insufficient_quantity" {
		t.Fatalf("expected insufficient_quantity, got %v", err)
	}

	if err := c.DeleteTask(ctx, first.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	list, err := c.Resources(ctx)
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	if len(list) != 1 || list[0].Quantity != 80 || list[0].Reserved != 20 || list[0].Total != 100 {
		t.Fatalf("unexpected usage: %+v", list)
	}

	events, err := c.Events(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 || events[0].Type != "task.deleted" {
		t.Fatalf("expected task.deleted first, got %+v", events)
	}
}
