package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"buildline/internal/config"
	"buildline/internal/coord"
	"buildline/internal/domain"
	"buildline/internal/events"
	"buildline/internal/ledger"
	"buildline/internal/logging"
	"buildline/internal/repo"
)

// maxHoldAttempts bounds how often an operation re-reads a task whose
// resource changed between the unlocked read and taking the hold.
const maxHoldAttempts = 3

// errMoved signals that the resource set read before taking holds is no
// longer the one stored; the caller retries with fresh ids.
var errMoved = errors.New("resource reference moved")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Coord  *coord.Coordinator
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Coord:  coord.New(db, coord.NewKeyedMutex(), cfg.LockWaitDuration()),
		Config: cfg,
		Logger: logging.Discard(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e Engine) ledger() ledger.Ledger {
	return ledger.Ledger{Repo: e.Repo, Now: e.now}
}

func (e Engine) events() events.Writer {
	return events.Writer{Now: e.now}
}

func (e Engine) lowStockThreshold() int {
	if e.Config == nil {
		return 0
	}
	return e.Config.Inventory.LowStockThreshold
}

// ledgerRef ties a quantity change to the event log.
type ledgerRef struct {
	ProjectID string
	TaskID    string
	ActorID   string
}

// reduce takes amount from res and records resource.reduced, plus
// resource.low_stock when the change crosses the configured threshold.
func (e Engine) reduce(ctx context.Context, tx *sql.Tx, res domain.Resource, amount int, ref ledgerRef) (domain.Resource, error) {
	before := res.Quantity
	updated, err := e.ledger().Reduce(ctx, tx, res, amount)
	if err != nil {
		var insufficient *domain.InsufficientQuantityError
		if errors.As(err, &insufficient) {
			e.log().Debug("reservation rejected", "resource_id", res.ID, "available", insufficient.Available, "requested", insufficient.Requested, "task_id", ref.TaskID)
		}
		return res, err
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.ResourceReduced, ProjectID: ref.ProjectID, EntityKind: "resource", EntityID: res.ID, ActorID: ref.ActorID,
		Payload: events.EventPayload{"from": before, "to": updated.Quantity, "amount": amount, "task_id": ref.TaskID},
	}); err != nil {
		return res, err
	}
	threshold := e.lowStockThreshold()
	if before > threshold && updated.Quantity <= threshold {
		e.log().Info("resource low on stock", "resource_id", res.ID, "name", res.Name, "quantity", updated.Quantity)
		if err := e.events().Append(ctx, tx, events.Event{
			Type: events.ResourceLowStock, ProjectID: ref.ProjectID, EntityKind: "resource", EntityID: res.ID, ActorID: ref.ActorID,
			Payload: events.EventPayload{"name": res.Name, "quantity": updated.Quantity, "threshold": threshold},
		}); err != nil {
			return res, err
		}
	}
	return updated, nil
}

// restore puts amount back on res and records evtType.
func (e Engine) restore(ctx context.Context, tx *sql.Tx, res domain.Resource, amount int, evtType string, ref ledgerRef) (domain.Resource, error) {
	before := res.Quantity
	updated, err := e.ledger().Restore(ctx, tx, res, amount)
	if err != nil {
		return res, err
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: evtType, ProjectID: ref.ProjectID, EntityKind: "resource", EntityID: res.ID, ActorID: ref.ActorID,
		Payload: events.EventPayload{"from": before, "to": updated.Quantity, "amount": amount, "task_id": ref.TaskID},
	}); err != nil {
		return res, err
	}
	return updated, nil
}

// withResources runs fn under holds for ids and logs conflicts.
func (e Engine) withResources(ctx context.Context, op string, ids []string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	err := e.Coord.WithResources(ctx, ids, fn)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		e.log().Warn("inventory operation conflicted", "op", op, "resources", ids, "err", err)
	}
	return err
}

var (
	budgetPattern     = regexp.MustCompile(`^\d{1,8}(\.\d{1,2})?$`)
	nationalIDPattern = regexp.MustCompile(`^\d{12}$`)
)

const dateLayout = "2006-01-02"

func validateDate(field, v string) error {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return domain.ValidationError{Field: field, Reason: "expected YYYY-MM-DD"}
	}
	return nil
}

func validateTaskDates(start string, end *string) error {
	if err := validateDate("start_date", start); err != nil {
		return err
	}
	if end == nil {
		return nil
	}
	if err := validateDate("end_date", *end); err != nil {
		return err
	}
	// Same layout, so string order is date order.
	if *end < start {
		return domain.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sameResources(held map[string]bool, tasks []domain.Task) bool {
	for _, t := range tasks {
		if !held[t.ResourceID] {
			return false
		}
	}
	return true
}
