package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"buildline/internal/app"
	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Location, "location", "", "site location")
	cmd.Flags().StringVar(&opts.Budget, "budget", "", "budget, e.g. 250000.00")
	cmd.Flags().StringVar(&opts.Timeline, "timeline", "", "target date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.ManagerID, "manager-id", "", "manager user id")
	cmd.Flags().StringVar(&opts.SupervisorID, "supervisor-id", "", "supervisor user id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor := ""
				if mine {
					actor = viper.GetString("actor-id")
				}
				items, err := rt.Engine.Repo.ListProjects(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Location", "Budget", "Manager", "Supervisor"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Location, p.Budget, deref(p.ManagerID), deref(p.SupervisorID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only projects managed or supervised by --actor-id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the --project project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, location, budget, timeline, managerID, supervisorID string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update project details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			set := func(flag string, v *string) *string {
				if flags.Changed(flag) {
					return v
				}
				return nil
			}
			opts := engine.ProjectUpdateOptions{
				ID:           args[0],
				Name:         set("name", &name),
				Location:     set("location", &location),
				Budget:       set("budget", &budget),
				Timeline:     set("timeline", &timeline),
				ManagerID:    set("manager-id", &managerID),
				SupervisorID: set("supervisor-id", &supervisorID),
				ActorID:      viper.GetString("actor-id"),
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&location, "location", "", "site location")
	cmd.Flags().StringVar(&budget, "budget", "", "budget, e.g. 250000.00")
	cmd.Flags().StringVar(&timeline, "timeline", "", "target date YYYY-MM-DD, empty to clear")
	cmd.Flags().StringVar(&managerID, "manager-id", "", "manager user id, empty to clear")
	cmd.Flags().StringVar(&supervisorID, "supervisor-id", "", "supervisor user id, empty to clear")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the --project project, releasing its task reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteProject(ctx, projectID, viper.GetString("actor-id"))
			})
		},
	}
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{Use: "resource", Short: "Manage inventory"}
	res.AddCommand(resourceCreateCmd())
	res.AddCommand(resourceUsageCmd())
	res.AddCommand(resourceRestockCmd())
	res.AddCommand(resourceDeleteCmd())
	return res
}

func resourceCreateCmd() *cobra.Command {
	var opts engine.ResourceCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.CreateResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "resource id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "unique resource name")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 0, "initial quantity")
	cmd.Flags().StringVar(&opts.Type, "type", domain.ResourceMaterial, "material, equipment or labor")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func resourceUsageCmd() *cobra.Command {
	var resourceType string
	cmd := &cobra.Command{
		Use:     "usage",
		Aliases: []string{"list"},
		Short:   "List resources with reserved and total quantities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ResourceUsage(ctx, resourceType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Type", "Available", "Reserved", "Total"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Type, u.Quantity, u.Reserved, u.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resourceType, "type", "", "resource type filter")
	return cmd
}

func resourceRestockCmd() *cobra.Command {
	var amount int
	cmd := &cobra.Command{
		Use:   "restock <resource-id>",
		Short: "Add delivered stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.Restock(ctx, args[0], amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().IntVar(&amount, "amount", 0, "quantity delivered")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func resourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource-id>",
		Short: "Delete a resource no task references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteResource(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage workers"}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	w.AddCommand(workerSetWorkingCmd())
	w.AddCommand(workerDeleteCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var opts engine.WorkerCreateOptions
	var idle bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if idle {
				working := false
				opts.IsWorking = &working
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				w, err := rt.Engine.CreateWorker(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "worker name")
	cmd.Flags().StringVar(&opts.NationalID, "national-id", "", "12 digit national id")
	cmd.Flags().BoolVar(&idle, "idle", false, "create as not working")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("national-id")
	return cmd
}

func workerListCmd() *cobra.Command {
	var working string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *bool
			if working != "" {
				v, err := strconv.ParseBool(working)
				if err != nil {
					return fmt.Errorf("--working: %w", err)
				}
				filter = &v
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListWorkers(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "National ID", "Working"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.NationalID, w.IsWorking})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&working, "working", "", "filter by working flag (true/false)")
	return cmd
}

func workerSetWorkingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-working <worker-id> <true|false>",
		Short: "Set whether a worker is on site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			working, err := strconv.ParseBool(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				w, err := rt.Engine.SetWorkerWorking(ctx, args[0], working, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <worker-id>",
		Short: "Delete worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteWorker(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func documentCmd() *cobra.Command {
	d := &cobra.Command{Use: "document", Short: "Manage project documents"}
	d.AddCommand(documentAddCmd())
	d.AddCommand(documentListCmd())
	return d
}

func documentAddCmd() *cobra.Command {
	var opts engine.DocumentCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a document for --project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			opts.ProjectID = projectID
			opts.ActorID = viper.GetString("actor-id")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.CreateDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "document title")
	cmd.Flags().StringVar(&opts.DocumentType, "type", "", "blueprint, contract, inspection_report, video or image")
	cmd.Flags().StringVar(&opts.URL, "url", "", "where the file is stored")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func documentListCmd() *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents for --project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListDocuments(ctx, projectID, docType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Type", "URL", "Uploaded By"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Title, d.DocumentType, d.URL, d.UploadedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "document type filter")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ProjectID = viper.GetString("project")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
