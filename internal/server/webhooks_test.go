package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/engine"
	"buildline/internal/migrate"
)

type capturedDelivery struct {
	Event  EventResponse
	Header http.Header
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var mu sync.Mutex
	var got []capturedDelivery
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt EventResponse
		if err := json.Unmarshal(data, &evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, capturedDelivery{Event: evt, Header: r.Header.Clone()})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    receiver.URL,
		Events: []string{"resource.restocked"},
		Secret: "shh",
	}}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	cement, err := e.CreateResource(ctx, engine.ResourceCreateOptions{Name: "Cement", Quantity: 10, ActorID: "mgr"})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	d := newWebhookDispatcher(e, nil)
	// First pass only positions the cursor past existing history.
	d.dispatchAll(ctx)
	if len(got) != 0 {
		t.Fatalf("history should not be delivered, got %d", len(got))
	}

	if _, err := e.Restock(ctx, cement.ID, 5, "mgr"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if _, err := e.CreateResource(ctx, engine.ResourceCreateOptions{Name: "Sand", Quantity: 3, ActorID: "mgr"}); err != nil {
		t.Fatalf("create resource: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one filtered delivery, got %d", len(got))
	}
	delivery := got[0]
	if delivery.Event.Type != "resource.restocked" || delivery.Event.EntityID != cement.ID {
		t.Fatalf("unexpected event: %+v", delivery.Event)
	}
	if delivery.Header.Get("X-Buildline-Event") != "resource.restocked" || delivery.Header.Get("X-Buildline-Secret") != "shh" {
		t.Fatalf("unexpected headers: %v", delivery.Header)
	}
	var payload map[string]any
	if err := json.Unmarshal(delivery.Event.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
}

func TestWebhookFailureKeepsCursor(t *testing.T) {
	var mu sync.Mutex
	fail := true
	var delivered int
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: receiver.URL}}
	e := engine.New(conn, cfg)
	ctx := context.Background()

	d := newWebhookDispatcher(e, nil)
	d.dispatchAll(ctx)
	if _, err := e.CreateResource(ctx, engine.ResourceCreateOptions{Name: "Rebar", Quantity: 40, ActorID: "mgr"}); err != nil {
		t.Fatalf("create resource: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	fail = false
	mu.Unlock()
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("expected redelivery after recovery, got %d", delivered)
	}
}
