package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"buildline/internal/domain"
	"buildline/internal/events"
	"buildline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	ProjectID    string
	Name         string
	ResourceID   string
	QuantityUsed int
	WorkerID     string
	SupervisorID string
	StartDate    string
	EndDate      string
	ImageURL     string
	Description  string
	ActorID      string
}

// CreateTask reserves QuantityUsed on the resource and stores the task in
// the same transaction.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.QuantityUsed <= 0 {
		return domain.Task{}, domain.ErrInvalidQuantity
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Task{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if opts.ProjectID == "" {
		return domain.Task{}, domain.ValidationError{Field: "project_id", Reason: "required"}
	}
	if opts.ResourceID == "" {
		return domain.Task{}, domain.ValidationError{Field: "resource_id", Reason: "required"}
	}
	if opts.StartDate == "" {
		opts.StartDate = e.now().UTC().Format(dateLayout)
	}
	end := optionalString(opts.EndDate)
	if err := validateTaskDates(opts.StartDate, end); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
	}

	// Fast fail before queueing for the hold.
	res, err := e.Repo.GetResource(ctx, opts.ResourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, opts.ResourceID)
	}
	if err != nil {
		return domain.Task{}, err
	}
	if res.Quantity < opts.QuantityUsed {
		return domain.Task{}, &domain.InsufficientQuantityError{ResourceID: res.ID, ResourceName: res.Name, Available: res.Quantity, Requested: opts.QuantityUsed}
	}

	now := e.stamp()
	t := domain.Task{
		ID:           opts.ID,
		ProjectID:    opts.ProjectID,
		Name:         strings.TrimSpace(opts.Name),
		ResourceID:   opts.ResourceID,
		QuantityUsed: opts.QuantityUsed,
		SupervisorID: optionalString(opts.SupervisorID),
		StartDate:    opts.StartDate,
		EndDate:      end,
		ImageURL:     optionalString(opts.ImageURL),
		Description:  opts.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	ref := ledgerRef{ProjectID: t.ProjectID, TaskID: t.ID, ActorID: opts.ActorID}
	err = e.withResources(ctx, "task.create", []string{t.ResourceID}, func(ctx context.Context, tx *sql.Tx) error {
		held, err := e.ledger().Hold(ctx, tx, t.ResourceID)
		if err != nil {
			return err
		}
		if _, err := e.reduce(ctx, tx, held, t.QuantityUsed, ref); err != nil {
			return err
		}
		worker, err := e.resolveWorker(ctx, tx, optionalString(opts.WorkerID))
		if err != nil {
			return err
		}
		t.WorkerID = worker
		if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return e.events().Append(ctx, tx, events.Event{
			Type: events.TaskCreated, ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"resource_id": t.ResourceID, "quantity_used": t.QuantityUsed},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions carries the fields to change. Nil leaves a field as is;
// an empty WorkerID, EndDate or ImageURL clears it.
type TaskUpdateOptions struct {
	ID           string
	ProjectID    string
	Name         *string
	ResourceID   *string
	QuantityUsed *int
	WorkerID     *string
	SupervisorID *string
	StartDate    *string
	EndDate      *string
	ImageURL     *string
	Description  *string
	ActorID      string
}

// UpdateTask applies the quantity delta, or moves the whole reservation when
// the resource changes, and persists the new fields in one transaction.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.QuantityUsed != nil && *opts.QuantityUsed <= 0 {
		return domain.Task{}, domain.ErrInvalidQuantity
	}
	if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
		return domain.Task{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if opts.ResourceID != nil && *opts.ResourceID == "" {
		return domain.Task{}, domain.ValidationError{Field: "resource_id", Reason: "required"}
	}
	for attempt := 0; attempt < maxHoldAttempts; attempt++ {
		current, err := e.getScopedTask(ctx, opts.ProjectID, opts.ID)
		if err != nil {
			return domain.Task{}, err
		}
		target := current.ResourceID
		if opts.ResourceID != nil {
			target = *opts.ResourceID
		}
		var updated domain.Task
		err = e.withResources(ctx, "task.update", []string{current.ResourceID, target}, func(ctx context.Context, tx *sql.Tx) error {
			t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
			if err != nil {
				return err
			}
			if t.ResourceID != current.ResourceID {
				return errMoved
			}
			updated, err = e.applyTaskUpdate(ctx, tx, t, target, opts)
			return err
		})
		if errors.Is(err, errMoved) {
			continue
		}
		if err != nil {
			return domain.Task{}, err
		}
		return updated, nil
	}
	return domain.Task{}, fmt.Errorf("%w: task %s kept changing resource", domain.ErrConcurrencyConflict, opts.ID)
}

func (e Engine) applyTaskUpdate(ctx context.Context, tx *sql.Tx, t domain.Task, target string, opts TaskUpdateOptions) (domain.Task, error) {
	old := t
	newQty := t.QuantityUsed
	if opts.QuantityUsed != nil {
		newQty = *opts.QuantityUsed
	}
	if opts.Name != nil {
		t.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.SupervisorID != nil {
		t.SupervisorID = optionalString(*opts.SupervisorID)
	}
	if opts.StartDate != nil {
		t.StartDate = *opts.StartDate
	}
	if opts.EndDate != nil {
		t.EndDate = optionalString(*opts.EndDate)
	}
	if opts.ImageURL != nil {
		t.ImageURL = optionalString(*opts.ImageURL)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if err := validateTaskDates(t.StartDate, t.EndDate); err != nil {
		return t, err
	}

	ref := ledgerRef{ProjectID: t.ProjectID, TaskID: t.ID, ActorID: opts.ActorID}
	if target == t.ResourceID {
		delta := newQty - t.QuantityUsed
		if delta != 0 {
			res, err := e.ledger().Hold(ctx, tx, t.ResourceID)
			if err != nil {
				return t, err
			}
			if delta > 0 {
				_, err = e.reduce(ctx, tx, res, delta, ref)
			} else {
				_, err = e.restore(ctx, tx, res, -delta, events.ResourceRestored, ref)
			}
			if err != nil {
				return t, err
			}
		}
	} else {
		// Release the old reservation in full, then reserve the new one.
		oldRes, err := e.ledger().Hold(ctx, tx, t.ResourceID)
		if err != nil {
			return t, err
		}
		if _, err := e.restore(ctx, tx, oldRes, t.QuantityUsed, events.ResourceRestored, ref); err != nil {
			return t, err
		}
		newRes, err := e.ledger().Hold(ctx, tx, target)
		if err != nil {
			return t, err
		}
		if _, err := e.reduce(ctx, tx, newRes, newQty, ref); err != nil {
			return t, err
		}
	}
	t.ResourceID = target
	t.QuantityUsed = newQty

	workerID := t.WorkerID
	if opts.WorkerID != nil {
		workerID = optionalString(*opts.WorkerID)
	}
	worker, err := e.resolveWorker(ctx, tx, workerID)
	if err != nil {
		return t, err
	}
	t.WorkerID = worker
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, fmt.Errorf("update task: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.TaskUpdated, ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{
			"from_resource_id":   old.ResourceID,
			"to_resource_id":     t.ResourceID,
			"from_quantity_used": old.QuantityUsed,
			"to_quantity_used":   t.QuantityUsed,
		},
	}); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask releases the task's reservation and removes it.
func (e Engine) DeleteTask(ctx context.Context, projectID, taskID, actorID string) error {
	for attempt := 0; attempt < maxHoldAttempts; attempt++ {
		current, err := e.getScopedTask(ctx, projectID, taskID)
		if err != nil {
			return err
		}
		err = e.withResources(ctx, "task.delete", []string{current.ResourceID}, func(ctx context.Context, tx *sql.Tx) error {
			t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if t.ResourceID != current.ResourceID {
				return errMoved
			}
			res, err := e.ledger().Hold(ctx, tx, t.ResourceID)
			if err != nil {
				return err
			}
			ref := ledgerRef{ProjectID: t.ProjectID, TaskID: t.ID, ActorID: actorID}
			if _, err := e.restore(ctx, tx, res, t.QuantityUsed, events.ResourceRestored, ref); err != nil {
				return err
			}
			if err := e.Repo.DeleteTaskTx(ctx, tx, t.ID); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Event{
				Type: events.TaskDeleted, ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: actorID,
				Payload: events.EventPayload{"resource_id": t.ResourceID, "quantity_used": t.QuantityUsed},
			})
		})
		if errors.Is(err, errMoved) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: task %s kept changing resource", domain.ErrConcurrencyConflict, taskID)
}

// getScopedTask reads a task, treating a task from another project as missing.
func (e Engine) getScopedTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if projectID != "" && t.ProjectID != projectID {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

// resolveWorker returns the worker reference to store: nil when none was
// given or the worker is not currently working.
func (e Engine) resolveWorker(ctx context.Context, tx *sql.Tx, workerID *string) (*string, error) {
	if workerID == nil {
		return nil, nil
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, *workerID)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", *workerID, err)
	}
	if !w.IsWorking {
		e.log().Debug("worker not working, clearing assignment", "worker_id", w.ID)
		return nil, nil
	}
	return &w.ID, nil
}
