package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"buildline/internal/domain"
	"buildline/internal/events"
)

type WorkerCreateOptions struct {
	ID         string
	Name       string
	NationalID string
	// IsWorking defaults to true.
	IsWorking *bool
	ActorID   string
}

func (e Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Worker{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if !nationalIDPattern.MatchString(opts.NationalID) {
		return domain.Worker{}, domain.ValidationError{Field: "national_id", Reason: "must be exactly 12 digits"}
	}
	w := domain.Worker{ID: opts.ID, Name: name, NationalID: opts.NationalID, IsWorking: true, CreatedAt: e.stamp()}
	if opts.IsWorking != nil {
		w.IsWorking = *opts.IsWorking
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkerTx(ctx, tx, w); err != nil {
		return domain.Worker{}, fmt.Errorf("insert worker: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.WorkerCreated, EntityKind: "worker", EntityID: w.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"name": w.Name, "is_working": w.IsWorking},
	}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// SetWorkerWorking flips the working flag. Existing task assignments keep
// their worker; the flag is only consulted when a task is saved.
func (e Engine) SetWorkerWorking(ctx context.Context, workerID string, working bool, actorID string) (domain.Worker, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetWorkerWorkingTx(ctx, tx, workerID, working); err != nil {
		return domain.Worker{}, err
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return domain.Worker{}, err
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.WorkerUpdated, EntityKind: "worker", EntityID: w.ID, ActorID: actorID,
		Payload: events.EventPayload{"is_working": working},
	}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// DeleteWorker removes the worker; tasks that referenced it lose the reference.
func (e Engine) DeleteWorker(ctx context.Context, workerID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWorkerTx(ctx, tx, workerID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.WorkerDeleted, EntityKind: "worker", EntityID: workerID, ActorID: actorID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
