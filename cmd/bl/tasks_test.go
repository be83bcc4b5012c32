package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/engine"
	"buildline/internal/migrate"
)

func newImportEngine(t *testing.T) engine.Engine {
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
	ctx := context.Background()
	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "site-1", Name: "Riverside", ActorID: "mgr"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := e.CreateResource(ctx, engine.ResourceCreateOptions{ID: "cement", Name: "Cement", Quantity: 100, ActorID: "mgr"}); err != nil {
		t.Fatalf("create resource: %v", err)
	}
	return e
}

func TestImportTasksReportsPerTask(t *testing.T) {
	e := newImportEngine(t)
	ctx := context.Background()
	plan := []byte(`
tasks:
  - name: Footings
    resource: Cement
    quantity_used: 30
  - name: Slab
    resource: cement
    quantity_used: 20
    start_date: 2026-03-01
  - name: Roof
    resource: Cement
    quantity_used: 500
  - name: Fence
    resource: Timber
    quantity_used: 1
`)
	results, err := importTasks(ctx, e, "site-1", "mgr", plan, 3)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("results out of order: %+v", results)
		}
	}
	if results[0].TaskID == "" || results[1].TaskID == "" {
		t.Fatalf("first two tasks should succeed: %+v", results)
	}
	if results[2].Error == "" || results[3].Error == "" {
		t.Fatalf("oversized and unknown-resource tasks should fail: %+v", results)
	}
	res, err := e.Repo.GetResource(ctx, "cement")
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if res.Quantity != 50 {
		t.Fatalf("expected 50 left, got %d", res.Quantity)
	}
}

func TestImportTasksRejectsEmptyPlan(t *testing.T) {
	e := newImportEngine(t)
	if _, err := importTasks(context.Background(), e, "site-1", "mgr", []byte("tasks: []\n"), 2); err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if _, err := importTasks(context.Background(), e, "site-1", "mgr", []byte("tasks: ["), 2); err == nil {
		t.Fatalf("expected error for bad yaml")
	}
}

func TestSetEnvValueKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := setEnvValue(path, "BUILDLINE_PROJECT", "site-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := setEnvValue(path, "BUILDLINE_API_KEY", "bl_abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := setEnvValue(path, "BUILDLINE_PROJECT", "site-2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if env["BUILDLINE_PROJECT"] != "site-2" || env["BUILDLINE_API_KEY"] != "bl_abc" {
		t.Fatalf("unexpected env: %v", env)
	}
}
