package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/notify"
	"taskline/internal/repo"
	"taskline/internal/scheduler"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks work items through a simple lifecycle with deadline
escalation. Tasks flow pending -> in_progress -> completed, and delegated
tasks get a final verified step by their creator. Every task carries a
reference code like TASK-20260831-0001, an audit trail, and optional
deadline; overdue tasks escalate to senior management on a 72h/120h clock.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userDeactivateCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var name, email, role, unit string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" {
				return fmt.Errorf("--name and --email required")
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				u := domain.User{
					ID:        uuid.New().String(),
					Name:      strings.TrimSpace(name),
					Email:     strings.ToLower(strings.TrimSpace(email)),
					Role:      r,
					Unit:      strings.TrimSpace(unit),
					Active:    true,
					CreatedAt: time.Now().UTC(),
				}
				if err := rp.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "employee", "role (employee, manager, senior_manager_1, senior_manager_2, admin)")
	cmd.Flags().StringVar(&unit, "unit", "", "organizational unit")
	return cmd
}

func userListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				var (
					users []domain.User
					err   error
				)
				if all {
					users, err = rp.ListUsers(ctx)
				} else {
					users, err = rp.ActiveUsers(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Unit", "Active"})
				for _, u := range users {
					t.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.Unit, u.Active})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include deactivated users")
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				return rp.SetUserActive(ctx, args[0], false)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				if _, err := rp.GetUser(ctx, userID); err != nil {
					return err
				}
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "tlk_" + hex.EncodeToString(raw)
				k := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC(),
				}
				if err := rp.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				// The secret is shown once and never stored.
				return printJSONOrTable(map[string]string{"id": k.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				return rp.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long: `Tasks are the work items. Self-assigned tasks are personal and end at
completed; tasks assigned to someone else are delegated and need the
creator's verification after completion. Cancellation is its own command.`,
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskReassignCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskAttachCmd())
	task.AddCommand(taskActivityCmd())
	task.AddCommand(taskCountsCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, description, assignee, priority, deadline, source, sourceRef string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			opts := engine.TaskCreateOptions{
				Title:       title,
				Description: description,
				AssigneeID:  assignee,
				CreatorID:   actorID,
				Priority:    domain.Priority(priority),
				Source:      source,
				SourceRef:   sourceRef,
			}
			if assignee == "" {
				opts.AssigneeID = actorID
			}
			if deadline != "" {
				d, err := parseDeadline(deadline)
				if err != nil {
					return err
				}
				opts.Deadline = &d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id (defaults to the actor: a personal task)")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&source, "source", "", "origin system")
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "origin reference")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var tab, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var tasks []domain.Task
				var err error
				switch tab {
				case "personal":
					tasks, err = e.Repo.PersonalTasks(ctx, actorID)
				case "delegated":
					tasks, err = e.Repo.DelegatedTasks(ctx, actorID)
				case "assigned":
					tasks, err = e.Repo.AssignedTasks(ctx, actorID)
				case "all":
					tasks, err = e.Repo.ListTasks(ctx, domain.Status(status))
				default:
					return fmt.Errorf("unknown tab %q (personal, assigned, delegated, all)", tab)
				}
				if err != nil {
					return err
				}
				if status != "" && tab != "all" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if t.Status == domain.Status(status) {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := time.Now().UTC()
				t := newTable()
				t.AppendHeader(table.Row{"Ref", "Title", "Status", "Priority", "Assignee", "Deadline", "Esc"})
				for _, item := range tasks {
					deadline := "-"
					if item.Deadline != nil {
						deadline = item.Deadline.UTC().Format("02 Jan 15:04")
						if item.IsOverdue(now) {
							deadline += " (overdue)"
						}
					}
					t.AppendRow(table.Row{item.Ref, item.Title, item.Status, item.Priority, item.AssigneeID, deadline, item.EscalationLevel()})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tab, "tab", "assigned", "tab (personal, assigned, delegated, all)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a task with comments and activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ViewTask(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				comments, err := e.Repo.ListComments(ctx, t.Ref)
				if err != nil {
					return err
				}
				activity, err := e.Repo.ListActivities(ctx, t.Ref, 20)
				if err != nil {
					return err
				}
				out := map[string]any{"task": t, "comments": comments, "activity": activity}
				if a, err := e.Repo.GetAttachment(ctx, t.Ref); err == nil {
					out["attachment"] = a
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, deadline string
	var clearDeadline bool
	cmd := &cobra.Command{
		Use:   "update <ref>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			var upd engine.TaskUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				p := domain.Priority(priority)
				upd.Priority = &p
			}
			if clearDeadline {
				upd.ClearDeadline = true
			} else if deadline != "" {
				d, err := parseDeadline(deadline)
				if err != nil {
					return err
				}
				upd.Deadline = &d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], actorID, upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <ref> <status>",
		Short: "Move a task forward (in_progress, completed, verified)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ChangeStatus(ctx, args[0], actorID, domain.Status(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReassignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "reassign <ref>",
		Short: "Reassign a task to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			if assignee == "" {
				return fmt.Errorf("--assignee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Reassign(ctx, args[0], actorID, assignee)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee user id")
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <ref>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Cancel(ctx, args[0], actorID, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "comment <ref>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			if message == "" {
				return fmt.Errorf("--message required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], actorID, message)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "comment text")
	return cmd
}

func taskAttachCmd() *cobra.Command {
	var file string
	var remove bool
	cmd := &cobra.Command{
		Use:   "attach <ref>",
		Short: "Add, replace or remove the task attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if remove {
					return e.RemoveAttachment(ctx, args[0], actorID)
				}
				if file == "" {
					return fmt.Errorf("--file required")
				}
				info, err := os.Stat(file)
				if err != nil {
					return err
				}
				a, err := e.AttachFile(ctx, args[0], actorID, filepath.Base(file), info.Size())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the file")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the current attachment")
	return cmd
}

func taskActivityCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity <ref>",
		Short: "Show the task activity trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.ViewTask(ctx, args[0], actorID); err != nil {
					return err
				}
				items, err := e.Repo.ListActivities(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"When", "Actor", "Action", "Description"})
				for _, a := range items {
					t.AppendRow(table.Row{a.CreatedAt.Format("02 Jan 15:04"), a.ActorID, a.Action, a.Description})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of entries")
	return cmd
}

func taskCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show the actor's dashboard counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				counts, err := rp.CountTasksForUser(ctx, actorID, time.Now().UTC())
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Reporting dashboard queries",
		Long: `Reports aggregate the task table for oversight. Unit leads see their
own unit; senior managers and admins see everything and can narrow with
--unit. Base contributors have no report access.`,
	}
	report.AddCommand(reportSummaryCmd())
	report.AddCommand(reportUsersCmd())
	report.AddCommand(reportOverdueCmd())
	report.AddCommand(reportEscalatedCmd())
	return report
}

func reportSummaryCmd() *cobra.Command {
	var unit string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.ReportSummary(ctx, actorID, unit)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "restrict to one unit (senior/admin only)")
	return cmd
}

func reportUsersCmd() *cobra.Command {
	var unit string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Per-user task breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.ReportUserBreakdown(ctx, actorID, unit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				t := newTable()
				t.AppendHeader(table.Row{"User", "Unit", "Pending", "In progress", "Completed", "Overdue", "Total"})
				for _, r := range rows {
					t.AppendRow(table.Row{r.Name, r.Unit, r.Pending, r.InProgress, r.Completed, r.Overdue, r.Total})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "restrict to one unit (senior/admin only)")
	return cmd
}

func reportOverdueCmd() *cobra.Command {
	var unit string
	var limit int
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Most overdue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ReportOverdue(ctx, actorID, unit, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := time.Now().UTC()
				t := newTable()
				t.AppendHeader(table.Row{"Ref", "Title", "Assignee", "Unit", "Deadline", "Hours overdue", "Esc"})
				for _, item := range tasks {
					hours := 0
					if item.Deadline != nil {
						hours = int(now.Sub(item.Deadline.UTC()).Hours())
					}
					t.AppendRow(table.Row{item.Ref, item.Title, item.AssigneeID, item.Unit,
						item.Deadline.UTC().Format("02 Jan 15:04"), hours, item.EscalationLevel()})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "restrict to one unit (senior/admin only)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func reportEscalatedCmd() *cobra.Command {
	var unit string
	var limit int
	cmd := &cobra.Command{
		Use:   "escalated",
		Short: "Tasks escalated to senior management",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ReportEscalated(ctx, actorID, unit, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Ref", "Title", "Assignee", "Unit", "Deadline", "Level"})
				for _, item := range tasks {
					deadline := "-"
					if item.Deadline != nil {
						deadline = item.Deadline.UTC().Format("02 Jan 15:04")
					}
					t.AppendRow(table.Row{item.Ref, item.Title, item.AssigneeID, item.Unit, deadline, item.EscalationLevel()})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "restrict to one unit (senior/admin only)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Run escalation jobs",
		Long: `Jobs sweep the task table for deadline reminders, overdue escalation
and daily digests. A milestone is flagged on the task only once its
notification is delivered, so re-running a job never double-notifies and
failed deliveries are retried on the next run.`,
	}
	jobs.AddCommand(jobsRunCmd("reminders", "Send deadline reminders (23-25h before deadline)",
		func(ctx context.Context, s *scheduler.Scheduler) (any, error) { return s.RunDeadlineReminders(ctx) }))
	jobs.AddCommand(jobsRunCmd("overdue", "Notify and escalate overdue tasks",
		func(ctx context.Context, s *scheduler.Scheduler) (any, error) { return s.RunOverdueCheck(ctx) }))
	jobs.AddCommand(jobsRunCmd("digest", "Send daily digests",
		func(ctx context.Context, s *scheduler.Scheduler) (any, error) { return s.RunDailyDigest(ctx) }))
	return jobs
}

func jobsRunCmd(name, short string, run func(context.Context, *scheduler.Scheduler) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s *scheduler.Scheduler) error {
				stats, err := run(ctx, s)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			gw := notify.NewGateway(cfg)
			e := engine.New(conn, cfg, gw)
			s := scheduler.New(e.Repo, cfg, gw)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TASKLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Scheduler: s, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if withJobs {
				go s.Start(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withJobs, "with-jobs", true, "run the escalation jobs alongside the server")
	return cmd
}

// --- helpers ---

func requireActor() (string, error) {
	actorID := strings.TrimSpace(viper.GetString("actor-id"))
	if actorID == "" {
		return "", fmt.Errorf("--actor-id (or TASKLINE_ACTOR_ID) is required")
	}
	return actorID, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, notify.NewGateway(cfg))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withScheduler(ctx context.Context, fn func(context.Context, *scheduler.Scheduler) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	s := scheduler.New(repo.Repo{DB: conn}, cfg, notify.NewGateway(cfg))
	return fn(ctx, s)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDeadline(raw string) (time.Time, error) {
	if d, err := time.Parse(time.RFC3339, raw); err == nil {
		return d.UTC(), nil
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		// Bare dates mean end of that day.
		return d.Add(24*time.Hour - time.Second).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse deadline %q (use RFC3339 or YYYY-MM-DD)", raw)
}
