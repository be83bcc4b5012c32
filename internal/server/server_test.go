package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/migrate"
	"buildline/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	if _, err := e.CreateProject(context.Background(), engine.ProjectCreateOptions{ID: "site-1", Name: "Riverside", ActorID: "mgr"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testJWTSecret,
		AllowLegacyActorHeader: true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var (
	asManager    = map[string]string{"X-Actor-Id": "mgr", "X-Actor-Role": "manager"}
	asSupervisor = map[string]string{"X-Actor-Id": "sup", "X-Actor-Role": "supervisor"}
)

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env
}

func createResource(t *testing.T, srv *testServer, name string, qty int) domain.Resource {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/resources", map[string]any{
		"name":     name,
		"quantity": qty,
	}, asManager)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create resource status %d: %s", res.StatusCode, string(data))
	}
	var r domain.Resource
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal resource: %v", err)
	}
	return r
}

func resourceQuantity(t *testing.T, srv *testServer, id string) int {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/resources/"+id, nil, asSupervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get resource status %d: %s", res.StatusCode, string(data))
	}
	var r domain.Resource
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal resource: %v", err)
	}
	return r.Quantity
}

func TestCementFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	cement := createResource(t, srv, "Cement", 100)
	tasksURL := srv.URL + "/v0/projects/site-1/tasks"

	var ids []string
	for _, qty := range []int{30, 20} {
		res, data := doJSON(t, client, http.MethodPost, tasksURL, map[string]any{
			"name":          "Pour slab",
			"resource_id":   cement.ID,
			"quantity_used": qty,
			"start_date":    "2026-03-01",
		}, asSupervisor)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
		}
		var task domain.Task
		if err := json.Unmarshal(data, &task); err != nil {
			t.Fatalf("unmarshal task: %v", err)
		}
		if task.SupervisorID == nil || *task.SupervisorID != "sup" {
			t.Fatalf("expected supervisor defaulted to caller, got %v", task.SupervisorID)
		}
		ids = append(ids, task.ID)
	}
	if got := resourceQuantity(t, srv, cement.ID); got != 50 {
		t.Fatalf("expected 50 after reservations, got %d", got)
	}

	res, data := doJSON(t, client, http.MethodPatch, tasksURL+"/"+ids[0], map[string]any{"quantity_used": 25}, asSupervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task status %d: %s", res.StatusCode, string(data))
	}
	if got := resourceQuantity(t, srv, cement.ID); got != 55 {
		t.Fatalf("expected 55 after shrinking reservation, got %d", got)
	}

	for _, id := range ids {
		res, data := doJSON(t, client, http.MethodDelete, tasksURL+"/"+id, nil, asSupervisor)
		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("delete task status %d: %s", res.StatusCode, string(data))
		}
	}
	if got := resourceQuantity(t, srv, cement.ID); got != 100 {
		t.Fatalf("expected 100 after deleting tasks, got %d", got)
	}
}

func TestInventoryErrorCodes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	sand := createResource(t, srv, "Sand", 5)
	tasksURL := srv.URL + "/v0/projects/site-1/tasks"

	res, data := doJSON(t, client, http.MethodPost, tasksURL, map[string]any{
		"name": "Fill", "resource_id": sand.ID, "quantity_used": 6,
	}, asManager)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "insufficient_quantity" {
		t.Fatalf("expected insufficient_quantity, got %s", env.Error.Code)
	}
	if env.Error.Details["available"] != float64(5) || env.Error.Details["requested"] != float64(6) {
		t.Fatalf("unexpected details: %v", env.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, tasksURL, map[string]any{
		"name": "Fill", "resource_id": sand.ID, "quantity_used": 0,
	}, asManager)
	if res.StatusCode != http.StatusBadRequest || decodeError(t, data).Error.Code != "invalid_quantity" {
		t.Fatalf("expected invalid_quantity, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, tasksURL, map[string]any{
		"name": "Fill", "resource_id": "missing", "quantity_used": 1,
	}, asManager)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Error.Code != "resource_not_found" {
		t.Fatalf("expected resource_not_found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/nope/tasks", map[string]any{
		"name": "Fill", "resource_id": sand.ID, "quantity_used": 1,
	}, asManager)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d: %s", res.StatusCode, string(data))
	}

	if got := resourceQuantity(t, srv, sand.ID); got != 5 {
		t.Fatalf("failed requests must not change quantity, got %d", got)
	}

	res, data = doJSON(t, client, http.MethodPost, tasksURL, map[string]any{
		"name": "Fill", "resource_id": sand.ID, "quantity_used": 5,
	}, asManager)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("exact fit should succeed, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/resources/"+sand.ID, nil, asManager)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "resource_in_use" {
		t.Fatalf("expected resource_in_use, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRolePermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/site-1/documents", map[string]any{
		"title": "Ground floor", "document_type": "blueprint", "url": "https://files.example.com/gf.pdf",
	}, asSupervisor)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor should not create documents, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Details["permission"] != "document.create" {
		t.Fatalf("expected permission detail, got %v", env.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/site-1/documents", map[string]any{
		"title": "Ground floor", "document_type": "blueprint", "url": "https://files.example.com/gf.pdf",
	}, asManager)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("manager create document status %d: %s", res.StatusCode, string(data))
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if doc.UploadedBy != "mgr" {
		t.Fatalf("expected uploaded_by mgr, got %s", doc.UploadedBy)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources", map[string]any{"name": "Gravel", "quantity": 3}, asSupervisor)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor should not create resources, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/resources", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/resources", nil, map[string]string{"X-Actor-Id": "x", "X-Actor-Role": "owner"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown role, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not need auth, got %d", res.StatusCode)
	}
}

func TestBearerAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := SignToken(testJWTSecret, "alice", domain.RoleManager, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "alice" || me.Role != domain.RoleManager || me.Source != "jwt" || len(me.Permissions) == 0 {
		t.Fatalf("unexpected principal: %+v", me)
	}

	bad, err := SignToken("other-secret", "alice", domain.RoleManager, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}

	err = srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "key-1", ActorID: "bob", Role: domain.RoleSupervisor, KeyHash: repo.HashAPIKey("bl_secret"),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "bl_secret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key me status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "bob" || me.Role != domain.RoleSupervisor || me.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	cement := createResource(t, srv, "Cement", 100)
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources/"+cement.ID+"/restock", map[string]any{"amount": 5}, asManager)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("restock status %d: %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=resource.restocked&limit=2", nil, asManager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page PaginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == 0 {
		t.Fatalf("expected 2 items and a cursor, got %d items cursor %d", len(page.Items), page.NextCursor)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=resource.restocked&limit=2&cursor="+itoa(page.NextCursor), nil, asManager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	page = PaginatedEvents{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != 0 {
		t.Fatalf("expected last page with 1 item, got %d items cursor %d", len(page.Items), page.NextCursor)
	}
	if got := resourceQuantity(t, srv, cement.ID); got != 115 {
		t.Fatalf("expected 115 after restocks, got %d", got)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestUpdateProjectOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/projects/site-1"

	res, data := doJSON(t, client, http.MethodPatch, url, map[string]any{"name": "Riverside North"}, asSupervisor)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor should not update projects, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Details["permission"] != "project.update" {
		t.Fatalf("expected permission detail, got %v", env.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPatch, url, map[string]any{"budget": "1.234"}, asManager)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad budget, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, url, map[string]any{"name": "Riverside North", "budget": "1200.50"}, asManager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.Name != "Riverside North" || p.Budget != "1200.50" {
		t.Fatalf("unexpected project: %+v", p)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/nope", map[string]any{"name": "X"}, asManager)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}
