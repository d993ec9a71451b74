package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"claudesched/internal/core"
	"claudesched/internal/manager"
)

// taskFlags binds the task fields shared by add and update.
type taskFlags struct {
	id              string
	name            string
	description     string
	cron            string
	timezone        string
	prompt          string
	dir             string
	timeout         time.Duration
	env             []string
	tags            []string
	skipPermissions bool
	disabled        bool
	worktree        bool
	branchPrefix    string
	remote          string
	worktreeBase    string
}

func (f *taskFlags) bind(fs *pflag.FlagSet, withID bool) {
	if withID {
		fs.StringVar(&f.id, "id", "", "task id (default: generated)")
	}
	fs.StringVarP(&f.name, "name", "n", "", "task name")
	fs.StringVar(&f.description, "description", "", "free-form description")
	fs.StringVar(&f.cron, "cron", "", `five-field cron expression, e.g. "0 9 * * 1-5"`)
	fs.StringVar(&f.timezone, "timezone", "", "IANA timezone for previews (default local)")
	fs.StringVarP(&f.prompt, "prompt", "p", "", "prompt passed to claude -p")
	fs.StringVarP(&f.dir, "dir", "C", "", "working directory")
	fs.DurationVar(&f.timeout, "timeout", 0, "task timeout (default 5m)")
	fs.StringArrayVarP(&f.env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	fs.BoolVar(&f.skipPermissions, "skip-permissions", false, "pass --dangerously-skip-permissions")
	fs.BoolVar(&f.disabled, "disabled", false, "store the task without registering it")
	fs.BoolVar(&f.worktree, "worktree", false, "run in a fresh git worktree and push the result")
	fs.StringVar(&f.branchPrefix, "branch-prefix", "", "worktree branch prefix (default claude-task/)")
	fs.StringVar(&f.remote, "remote", "", "worktree push remote (default origin)")
	fs.StringVar(&f.worktreeBase, "worktree-base", "", "directory that holds worktrees")
}

// apply copies every flag the user set onto task.
func (f *taskFlags) apply(fs *pflag.FlagSet, task *core.ScheduledTask) error {
	if fs.Changed("name") {
		task.Name = strings.TrimSpace(f.name)
	}
	if fs.Changed("description") {
		task.Description = f.description
	}
	if fs.Changed("cron") {
		task.Trigger.Expression = strings.TrimSpace(f.cron)
	}
	if fs.Changed("timezone") {
		task.Trigger.Timezone = f.timezone
	}
	if fs.Changed("prompt") {
		task.Execution.Command = f.prompt
	}
	if fs.Changed("dir") {
		task.Execution.WorkingDirectory = f.dir
	}
	if fs.Changed("timeout") {
		task.Execution.TimeoutSeconds = int(f.timeout / time.Second)
	}
	if fs.Changed("env") {
		env, err := parseEnvPairs(f.env)
		if err != nil {
			return err
		}
		task.Execution.Env = env
	}
	if fs.Changed("tag") {
		task.Tags = f.tags
	}
	if fs.Changed("skip-permissions") {
		task.Execution.SkipPermissions = f.skipPermissions
	}
	if fs.Changed("disabled") {
		task.Enabled = !f.disabled
	}
	if fs.Changed("worktree") || fs.Changed("branch-prefix") || fs.Changed("remote") || fs.Changed("worktree-base") {
		wt := task.Execution.Worktree
		if wt == nil {
			wt = &core.WorktreeConfig{}
		}
		if fs.Changed("worktree") {
			wt.Enabled = f.worktree
		}
		if fs.Changed("branch-prefix") {
			wt.BranchPrefix = f.branchPrefix
		}
		if fs.Changed("remote") {
			wt.RemoteName = f.remote
		}
		if fs.Changed("worktree-base") {
			wt.BasePath = f.worktreeBase
		}
		task.Execution.Worktree = wt
	}
	return nil
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("env %q must be KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	f := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task and register it with the native scheduler",
		Example: `  claudesched add -n "daily review" --cron "0 9 * * 1-5" -p "/review" -C ~/src/app
  claudesched add -n nightly --cron "0 2 * * *" -p "fix flaky tests" --worktree --remote upstream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				task := core.NewTask("", "", "")
				if f.id != "" {
					task.ID = f.id
				}
				if err := f.apply(cmd.Flags(), task); err != nil {
					return err
				}
				created, err := a.manager.Add(ctx, task)
				if created != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Task %s added (%s)\n", created.ID, a.manager.Scheduler().Name())
				}
				return registrationHint(err)
			})
		},
	}
	f.bind(cmd.Flags(), true)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	f := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Change a task and re-register it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.manager.Get(ctx, args[0])
				if err != nil {
					return notFoundHint(args[0], err)
				}
				if err := f.apply(cmd.Flags(), task); err != nil {
					return err
				}
				updated, err := a.manager.Update(ctx, task)
				if err != nil {
					return registrationHint(notFoundHint(args[0], err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s updated\n", updated.ID)
				return nil
			})
		},
	}
	f.bind(cmd.Flags(), false)
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <task-id>...",
		Aliases: []string{"rm"},
		Short:   "Unregister and delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				var errs []error
				for _, id := range args {
					if err := a.manager.Remove(ctx, id); err != nil {
						errs = append(errs, notFoundHint(id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Task %s removed\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newEnableCmd(opts *rootOptions, enable bool) *cobra.Command {
	use, short := "enable", "Enable a task and register it"
	if !enable {
		use, short = "disable", "Disable a task and unregister it"
	}
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				var err error
				if enable {
					_, err = a.manager.Enable(ctx, args[0])
				} else {
					_, err = a.manager.Disable(ctx, args[0])
				}
				if err != nil {
					return registrationHint(notFoundHint(args[0], err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var status string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *bool
			switch status {
			case "", "all":
			case "enabled", "disabled":
				v := status == "enabled"
				filter = &v
			default:
				return fmt.Errorf("--status must be all, enabled or disabled")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				tasks, err := a.manager.List(ctx, filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), tasks)
				}
				writeTaskTable(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "filter: all, enabled or disabled")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeTaskTable(w io.Writer, tasks []*core.ScheduledTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCRON\tENABLED\tNEXT RUN")
	for _, t := range tasks {
		next := "-"
		if t.Enabled {
			if times, err := core.Preview(t.Trigger.Expression, t.Trigger.Timezone, time.Now(), 1); err == nil && len(times) > 0 {
				next = times[0].Format("2006-01-02 15:04")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", t.ID, t.Name, t.Trigger.Expression, t.Enabled, next)
	}
	_ = tw.Flush()
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print a task as JSON with its native registration state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.manager.Get(ctx, args[0])
				if err != nil {
					return notFoundHint(args[0], err)
				}
				registered, err := a.manager.Scheduler().IsRegistered(ctx, task.ID)
				if err != nil {
					a.logger.Warn("check native registration", "task_id", task.ID, "err", err)
				}
				return writeJSON(cmd.OutOrStdout(), struct {
					*core.ScheduledTask
					Registered bool `json:"registered"`
				}{task, registered})
			})
		},
	}
}

func newScriptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "script <task-id>",
		Short: "Print the worktree script generated for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				script, err := a.manager.Script(ctx, args[0])
				if err != nil {
					return notFoundHint(args[0], err)
				}
				if script == "" {
					return fmt.Errorf("task %s does not use a worktree", args[0])
				}
				_, err = io.WriteString(cmd.OutOrStdout(), script)
				return err
			})
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print output the native scheduler captured for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				files, err := a.manager.TaskLog(ctx, args[0], tail)
				if err != nil {
					return notFoundHint(args[0], err)
				}
				out := cmd.OutOrStdout()
				if len(files) == 0 {
					fmt.Fprintln(out, "No output captured yet")
					return nil
				}
				paths := make([]string, 0, len(files))
				for p := range files {
					paths = append(paths, p)
				}
				sort.Strings(paths)
				for _, p := range paths {
					fmt.Fprintf(out, "==> %s <==\n%s", p, files[p])
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "t", 50, "last N lines per file, 0 for all")
	return cmd
}

func newRegistrationsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "registrations <task-id>",
		Short: "Show recent native registration attempts of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.manager.Get(ctx, args[0]); err != nil {
					return notFoundHint(args[0], err)
				}
				regs, err := a.manager.Registrations(ctx, args[0], limit, 0)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tOP\tPLATFORM\tSTATUS\tERROR")
				for _, r := range regs {
					msg := ""
					if r.Error != nil {
						msg = *r.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Op, r.Platform, r.Status, msg)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

func notFoundHint(id string, err error) error {
	if manager.IsNotFound(err) {
		return fmt.Errorf("task %s not found", id)
	}
	return err
}

func registrationHint(err error) error {
	if errors.Is(err, manager.ErrRegistration) {
		return fmt.Errorf("%w\nthe task is saved; run `claudesched sync` to retry", err)
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
