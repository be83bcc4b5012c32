package app

import (
	"context"
	"os"
	"testing"

	"buildline/internal/config"
	"buildline/internal/coord"
	"buildline/internal/engine"
)

func TestOpenDefaultsToMemoryHolds(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, ok := rt.Engine.Coord.Locker.(*coord.KeyedMutex); !ok {
		t.Fatalf("expected keyed mutex, got %T", rt.Engine.Coord.Locker)
	}
	if rt.Engine.Coord.Wait != rt.Config.LockWaitDuration() {
		t.Fatalf("wait not taken from config")
	}
	res, err := rt.Engine.CreateResource(ctx, engine.ResourceCreateOptions{Name: "Cement", Quantity: 100, ActorID: "mgr"})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	if res.Quantity != 100 {
		t.Fatalf("unexpected quantity %d", res.Quantity)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("inventory:\n  lock_wait: 250ms\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rt, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if got := rt.Engine.Coord.Wait.String(); got != "250ms" {
		t.Fatalf("expected 250ms wait, got %s", got)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("inventory:\n  lock_backend: etcd\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), dir, nil); err == nil {
		t.Fatalf("expected config error")
	}
}
