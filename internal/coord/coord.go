// Package coord serializes inventory changes per resource.
//
// WithResources takes an exclusive hold on every resource an operation
// touches, in sorted id order, then runs the operation in one transaction.
// Holds on different resources never wait on each other.
package coord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"buildline/internal/db"
	"buildline/internal/domain"
)

const DefaultWait = 5 * time.Second

// Locker grants exclusive holds keyed by resource id. Acquire blocks until
// the hold is granted or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type Coordinator struct {
	DB     *sql.DB
	Locker Locker
	Wait   time.Duration
}

func New(conn *sql.DB, locker Locker, wait time.Duration) *Coordinator {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Coordinator{DB: conn, Locker: locker, Wait: wait}
}

// WithResources holds every id in resourceIDs, runs fn in a transaction and
// commits it. Any error from fn rolls the transaction back. Holds are
// released in reverse order after commit or rollback.
func (c *Coordinator) WithResources(ctx context.Context, resourceIDs []string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	keys := normalize(resourceIDs)
	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, key := range keys {
		release, err := c.acquire(ctx, key)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context, key string) (func(), error) {
	wait := c.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	release, err := c.Locker.Acquire(waitCtx, key)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: resource %s held longer than %s", domain.ErrConcurrencyConflict, key, wait)
	}
	return nil, fmt.Errorf("acquire hold on %s: %w", key, err)
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func classify(err error) error {
	if db.IsBusy(err) && !errors.Is(err, domain.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}
