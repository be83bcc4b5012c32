package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"buildline/internal/domain"
	"buildline/internal/events"
)

type ResourceCreateOptions struct {
	ID       string
	Name     string
	Quantity int
	Type     string
	ActorID  string
}

func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Resource{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if opts.Quantity < 0 {
		return domain.Resource{}, domain.ErrInvalidQuantity
	}
	if opts.Type == "" {
		opts.Type = domain.ResourceMaterial
	}
	if !domain.IsResourceType(opts.Type) {
		return domain.Resource{}, domain.ValidationError{Field: "resource_type", Reason: "must be one of " + strings.Join(domain.ResourceTypes, ", ")}
	}
	now := e.stamp()
	res := domain.Resource{ID: opts.ID, Name: name, Quantity: opts.Quantity, Type: opts.Type, CreatedAt: now, UpdatedAt: now}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResourceTx(ctx, tx, res); err != nil {
		return domain.Resource{}, fmt.Errorf("insert resource %q: %w", name, err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.ResourceCreated, EntityKind: "resource", EntityID: res.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"name": res.Name, "quantity": res.Quantity, "resource_type": res.Type},
	}); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// Restock adds delivered stock to a resource under its hold.
func (e Engine) Restock(ctx context.Context, resourceID string, amount int, actorID string) (domain.Resource, error) {
	if amount <= 0 {
		return domain.Resource{}, domain.ErrInvalidQuantity
	}
	var out domain.Resource
	err := e.withResources(ctx, "resource.restock", []string{resourceID}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := e.ledger().Hold(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		out, err = e.restore(ctx, tx, res, amount, events.ResourceRestocked, ledgerRef{ActorID: actorID})
		return err
	})
	if err != nil {
		return domain.Resource{}, err
	}
	return out, nil
}

// DeleteResource removes a resource no task references.
func (e Engine) DeleteResource(ctx context.Context, resourceID, actorID string) error {
	return e.withResources(ctx, "resource.delete", []string{resourceID}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := e.ledger().Hold(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		n, err := e.Repo.CountTasksForResourceTx(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s has %d task(s)", domain.ErrResourceInUse, res.Name, n)
		}
		if err := e.Repo.DeleteResourceTx(ctx, tx, resourceID); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Event{
			Type: events.ResourceDeleted, EntityKind: "resource", EntityID: resourceID, ActorID: actorID,
			Payload: events.EventPayload{"name": res.Name, "quantity": res.Quantity},
		})
	})
}

// ResourceUsage is a resource with what its tasks currently hold.
type ResourceUsage struct {
	domain.Resource
	Reserved int `json:"reserved"`
	// Total is what the quantity would be with no reservations.
	Total int `json:"total"`
}

func (e Engine) ResourceUsage(ctx context.Context, resourceType string) ([]ResourceUsage, error) {
	resources, err := e.Repo.ListResources(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	reserved, err := e.Repo.ReservedByResource(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceUsage, 0, len(resources))
	for _, r := range resources {
		out = append(out, ResourceUsage{Resource: r, Reserved: reserved[r.ID], Total: r.Quantity + reserved[r.ID]})
	}
	return out, nil
}
