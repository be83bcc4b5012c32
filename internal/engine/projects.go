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

type ProjectCreateOptions struct {
	ID           string
	Name         string
	Location     string
	Budget       string
	Timeline     string
	ManagerID    string
	SupervisorID string
	ActorID      string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name, err := projectName(opts.Name)
	if err != nil {
		return domain.Project{}, err
	}
	budget, err := projectBudget(opts.Budget)
	if err != nil {
		return domain.Project{}, err
	}
	if err := projectTimeline(opts.Timeline); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:           opts.ID,
		Name:         name,
		Location:     strings.TrimSpace(opts.Location),
		Budget:       budget,
		Timeline:     optionalString(opts.Timeline),
		ManagerID:    optionalString(opts.ManagerID),
		SupervisorID: optionalString(opts.SupervisorID),
		CreatedAt:    e.stamp(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.ProjectCreated, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"name": p.Name, "budget": p.Budget},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func projectName(v string) (string, error) {
	name := strings.TrimSpace(v)
	if name == "" {
		return "", domain.ValidationError{Field: "name", Reason: "required"}
	}
	return name, nil
}

func projectBudget(v string) (string, error) {
	budget := strings.TrimSpace(v)
	if budget == "" {
		budget = "0"
	}
	if !budgetPattern.MatchString(budget) {
		return "", domain.ValidationError{Field: "budget", Reason: "expected a decimal with up to 10 digits and 2 decimal places"}
	}
	return budget, nil
}

func projectTimeline(v string) error {
	if v == "" {
		return nil
	}
	return validateDate("timeline", v)
}

// ProjectUpdateOptions changes only the non-nil fields. An empty string
// clears timeline, manager and supervisor.
type ProjectUpdateOptions struct {
	ID           string
	Name         *string
	Location     *string
	Budget       *string
	Timeline     *string
	ManagerID    *string
	SupervisorID *string
	ActorID      string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	changed := []string{}
	if opts.Name != nil {
		name, err := projectName(*opts.Name)
		if err != nil {
			return domain.Project{}, err
		}
		opts.Name = &name
		changed = append(changed, "name")
	}
	if opts.Budget != nil {
		budget, err := projectBudget(*opts.Budget)
		if err != nil {
			return domain.Project{}, err
		}
		opts.Budget = &budget
		changed = append(changed, "budget")
	}
	if opts.Timeline != nil {
		if err := projectTimeline(*opts.Timeline); err != nil {
			return domain.Project{}, err
		}
		changed = append(changed, "timeline")
	}
	if opts.Location != nil {
		changed = append(changed, "location")
	}
	if opts.ManagerID != nil {
		changed = append(changed, "manager_id")
	}
	if opts.SupervisorID != nil {
		changed = append(changed, "supervisor_id")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		p.Name = *opts.Name
	}
	if opts.Location != nil {
		p.Location = strings.TrimSpace(*opts.Location)
	}
	if opts.Budget != nil {
		p.Budget = *opts.Budget
	}
	if opts.Timeline != nil {
		p.Timeline = optionalString(*opts.Timeline)
	}
	if opts.ManagerID != nil {
		p.ManagerID = optionalString(*opts.ManagerID)
	}
	if opts.SupervisorID != nil {
		p.SupervisorID = optionalString(*opts.SupervisorID)
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Event{
		Type: events.ProjectUpdated, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"fields": changed},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject releases every reservation held by the project's tasks,
// then removes the tasks, the project and its documents.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	for attempt := 0; attempt < maxHoldAttempts; attempt++ {
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return err
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: projectID})
		if err != nil {
			return err
		}
		held := map[string]bool{}
		var ids []string
		for _, t := range tasks {
			if !held[t.ResourceID] {
				held[t.ResourceID] = true
				ids = append(ids, t.ResourceID)
			}
		}
		err = e.withResources(ctx, "project.delete", ids, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
				return err
			}
			tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilter{ProjectID: projectID})
			if err != nil {
				return err
			}
			if !sameResources(held, tasks) {
				return errMoved
			}
			snapshots := map[string]domain.Resource{}
			released := 0
			for _, t := range tasks {
				res, ok := snapshots[t.ResourceID]
				if !ok {
					res, err = e.ledger().Hold(ctx, tx, t.ResourceID)
					if err != nil {
						return err
					}
				}
				ref := ledgerRef{ProjectID: projectID, TaskID: t.ID, ActorID: actorID}
				res, err = e.restore(ctx, tx, res, t.QuantityUsed, events.ResourceRestored, ref)
				if err != nil {
					return err
				}
				snapshots[t.ResourceID] = res
				if err := e.Repo.DeleteTaskTx(ctx, tx, t.ID); err != nil {
					return err
				}
				released++
			}
			if err := e.Repo.DeleteProjectTx(ctx, tx, projectID); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Event{
				Type: events.ProjectDeleted, ProjectID: projectID, EntityKind: "project", EntityID: projectID, ActorID: actorID,
				Payload: events.EventPayload{"tasks_released": released},
			})
		})
		if errors.Is(err, errMoved) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: project %s tasks kept changing resources", domain.ErrConcurrencyConflict, projectID)
}
