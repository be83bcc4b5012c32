package coord

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/sourcegraph/conc"

	"buildline/internal/db"
	"buildline/internal/domain"
	"buildline/internal/migrate"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// recordingLocker remembers acquisition order.
type recordingLocker struct {
	inner *KeyedMutex
	order []string
}

func (l *recordingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	release, err := l.inner.Acquire(ctx, key)
	if err == nil {
		l.order = append(l.order, key)
	}
	return release, err
}

func TestWithResourcesSortsAndDedupes(t *testing.T) {
	conn := newTestDB(t)
	locker := &recordingLocker{inner: NewKeyedMutex()}
	c := New(conn, locker, time.Second)
	err := c.WithResources(context.Background(), []string{"c", "a", "", "c", "b"}, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("with resources: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(locker.order) != len(want) {
		t.Fatalf("unexpected order %v", locker.order)
	}
	for i := range want {
		if locker.order[i] != want[i] {
			t.Fatalf("unexpected order %v", locker.order)
		}
	}
	if locker.inner.Len() != 0 {
		t.Fatalf("holds not released")
	}
}

func TestWithResourcesRollsBackOnError(t *testing.T) {
	conn := newTestDB(t)
	c := New(conn, nil, time.Second)
	boom := errors.New("boom")
	err := c.WithResources(context.Background(), []string{"r"}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO resources(id,name,quantity,resource_type,created_at,updated_at) VALUES ('r','Brick',5,'material','t','t')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT count(*) FROM resources`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("insert survived rollback")
	}
}

func TestWithResourcesTimeoutIsConflict(t *testing.T) {
	conn := newTestDB(t)
	c := New(conn, nil, 30*time.Millisecond)
	entered := make(chan struct{})
	done := make(chan struct{})

	var wg conc.WaitGroup
	wg.Go(func() {
		_ = c.WithResources(context.Background(), []string{"r"}, func(ctx context.Context, tx *sql.Tx) error {
			close(entered)
			<-done
			return nil
		})
	})
	<-entered
	err := c.WithResources(context.Background(), []string{"r"}, func(ctx context.Context, tx *sql.Tx) error {
		t.Fatalf("should not run while held")
		return nil
	})
	close(done)
	wg.Wait()
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestWithResourcesParentCancel(t *testing.T) {
	conn := newTestDB(t)
	locker := NewKeyedMutex()
	release, err := locker.Acquire(context.Background(), "r")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	c := New(conn, locker, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.WithResources(ctx, []string{"r"}, func(ctx context.Context, tx *sql.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("caller cancellation must not look retryable")
	}
}
