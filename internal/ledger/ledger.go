// Package ledger owns every change to a resource's remaining quantity.
//
// All three operations run inside a transaction opened by the coordinator
// while it holds the resource; they never open their own.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buildline/internal/domain"
	"buildline/internal/repo"
)

type Ledger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Ledger {
	return Ledger{Repo: r, Now: time.Now}
}

func (l Ledger) now() string {
	if l.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return l.Now().UTC().Format(time.RFC3339)
}

// Hold reads the resource inside tx. The caller must already own the
// resource's exclusive hold.
func (l Ledger) Hold(ctx context.Context, tx *sql.Tx, resourceID string) (domain.Resource, error) {
	res, err := l.Repo.GetResourceTx(ctx, tx, resourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Resource{}, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, resourceID)
	}
	return res, err
}

// Reduce takes amount out of res and returns the updated resource.
func (l Ledger) Reduce(ctx context.Context, tx *sql.Tx, res domain.Resource, amount int) (domain.Resource, error) {
	if amount <= 0 {
		return res, domain.ErrInvalidQuantity
	}
	if res.Quantity < amount {
		return res, &domain.InsufficientQuantityError{
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Available:    res.Quantity,
			Requested:    amount,
		}
	}
	return l.write(ctx, tx, res, res.Quantity-amount)
}

// Restore puts amount back on res. There is no upper bound.
func (l Ledger) Restore(ctx context.Context, tx *sql.Tx, res domain.Resource, amount int) (domain.Resource, error) {
	if amount <= 0 {
		return res, domain.ErrInvalidQuantity
	}
	return l.write(ctx, tx, res, res.Quantity+amount)
}

func (l Ledger) write(ctx context.Context, tx *sql.Tx, res domain.Resource, to int) (domain.Resource, error) {
	ts := l.now()
	err := l.Repo.UpdateResourceQuantityTx(ctx, tx, res.ID, res.Quantity, to, ts)
	if errors.Is(err, repo.ErrStale) {
		return res, fmt.Errorf("%w: resource %s changed while held", domain.ErrConcurrencyConflict, res.ID)
	}
	if err != nil {
		return res, err
	}
	res.Quantity = to
	res.UpdatedAt = ts
	return res, nil
}
