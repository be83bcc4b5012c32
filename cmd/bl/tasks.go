package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"buildline/internal/app"
	"buildline/internal/engine"
	"buildline/internal/repo"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks of --project"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskDeleteCmd())
	t.AddCommand(taskImportCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task and reserve its resource quantity",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			opts.ProjectID = projectID
			opts.ActorID = viper.GetString("actor-id")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.ResourceID, "resource-id", "", "resource to draw from")
	cmd.Flags().IntVar(&opts.QuantityUsed, "quantity", 0, "quantity to reserve")
	cmd.Flags().StringVar(&opts.WorkerID, "worker-id", "", "assigned worker")
	cmd.Flags().StringVar(&opts.SupervisorID, "supervisor-id", "", "responsible supervisor")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.ImageURL, "image-url", "", "progress photo url")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("resource-id")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			f.ProjectID = projectID
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable(table.Row{"ID", "Name", "Resource", "Qty", "Worker", "Start", "End"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.ResourceID, t.QuantityUsed, deref(t.WorkerID), t.StartDate, deref(t.EndDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ResourceID, "resource-id", "", "resource filter")
	cmd.Flags().StringVar(&f.WorkerID, "worker-id", "", "worker filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, resourceID, workerID, supervisorID, start, end, imageURL, description string
	var quantity int
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task; quantity and resource changes adjust inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{ID: args[0], ProjectID: projectID, ActorID: viper.GetString("actor-id")}
			flags := cmd.Flags()
			set := func(flag string, v *string) *string {
				if flags.Changed(flag) {
					return v
				}
				return nil
			}
			opts.Name = set("name", &name)
			opts.ResourceID = set("resource-id", &resourceID)
			opts.WorkerID = set("worker-id", &workerID)
			opts.SupervisorID = set("supervisor-id", &supervisorID)
			opts.StartDate = set("start", &start)
			opts.EndDate = set("end", &end)
			opts.ImageURL = set("image-url", &imageURL)
			opts.Description = set("description", &description)
			if flags.Changed("quantity") {
				opts.QuantityUsed = &quantity
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "move the reservation to this resource")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "new reserved quantity")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "assigned worker")
	cmd.Flags().StringVar(&supervisorID, "supervisor-id", "", "responsible supervisor")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "progress photo url")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and release its reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteTask(ctx, projectID, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func taskImportCmd() *cobra.Command {
	var file string
	var workers int
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create tasks from a YAML plan",
		Long: `Creates every task listed in a YAML plan:

tasks:
  - name: Footings
    resource: Cement      # resource name or id
    quantity_used: 30
    start_date: 2026-03-01

Tasks are created concurrently; each one succeeds or fails on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				results, err := importTasks(ctx, rt.Engine, projectID, viper.GetString("actor-id"), data, workers)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				failed := 0
				tw := newTable(table.Row{"#", "Name", "Task ID", "Error"})
				for _, r := range results {
					if r.Error != "" {
						failed++
					}
					tw.AppendRow(table.Row{r.Index + 1, r.Name, r.TaskID, r.Error})
				}
				tw.Render()
				if failed > 0 {
					return fmt.Errorf("%d of %d tasks failed", failed, len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML plan")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent creates")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type taskPlan struct {
	Tasks []plannedTask `yaml:"tasks"`
}

type plannedTask struct {
	Name         string `yaml:"name"`
	Resource     string `yaml:"resource"`
	QuantityUsed int    `yaml:"quantity_used"`
	WorkerID     string `yaml:"worker_id"`
	SupervisorID string `yaml:"supervisor_id"`
	StartDate    string `yaml:"start_date"`
	EndDate      string `yaml:"end_date"`
	Description  string `yaml:"description"`
}

type importResult struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// importTasks creates the planned tasks with at most workers in flight.
// Results come back in plan order.
func importTasks(ctx context.Context, e engine.Engine, projectID, actorID string, data []byte, workers int) ([]importResult, error) {
	var plan taskPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("invalid plan yaml: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	resources, err := e.Repo.ListResources(ctx, "")
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(resources))
	for _, r := range resources {
		byName[r.Name] = r.ID
	}
	if workers <= 0 {
		workers = 1
	}
	p := pool.NewWithResults[importResult]().WithMaxGoroutines(workers)
	for i, pt := range plan.Tasks {
		p.Go(func() importResult {
			res := importResult{Index: i, Name: pt.Name}
			resourceID := pt.Resource
			if id, ok := byName[pt.Resource]; ok {
				resourceID = id
			}
			t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
				ProjectID:    projectID,
				Name:         pt.Name,
				ResourceID:   resourceID,
				QuantityUsed: pt.QuantityUsed,
				WorkerID:     pt.WorkerID,
				SupervisorID: pt.SupervisorID,
				StartDate:    pt.StartDate,
				EndDate:      pt.EndDate,
				Description:  pt.Description,
				ActorID:      actorID,
			})
			if err != nil {
				res.Error = err.Error()
				return res
			}
			res.TaskID = t.ID
			return res
		})
	}
	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results, nil
}
