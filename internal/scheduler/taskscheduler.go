package scheduler

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"claudesched/internal/core"
)

const (
	taskSchedulerPlatform = "windows"
	taskSchedulerFolder   = `\ClaudeScheduler\`
)

// psQuoteReplacer doubles every character PowerShell treats as a single
// quote inside a single-quoted string.
var psQuoteReplacer = strings.NewReplacer(
	"'", "''",
	"‘", "‘‘",
	"’", "’’",
	"‚", "‚‚",
	"‛", "‛‛",
)

// EscapePowerShell returns s as a PowerShell single-quoted string literal.
func EscapePowerShell(s string) string {
	return "'" + psQuoteReplacer.Replace(s) + "'"
}

// TaskScheduler registers tasks with schtasks.exe under a dedicated folder.
type TaskScheduler struct {
	logDir    string
	claudeBin string
	runner    Runner
	logger    *slog.Logger
}

// NewTaskScheduler builds the argument-based backend.
func NewTaskScheduler(opts Options) *TaskScheduler {
	opts = opts.withDefaults()
	return &TaskScheduler{
		logDir:    opts.LogDir,
		claudeBin: opts.ClaudeBin,
		runner:    opts.Runner,
		logger:    opts.Logger,
	}
}

func (s *TaskScheduler) Name() string     { return "Task Scheduler" }
func (s *TaskScheduler) Platform() string { return taskSchedulerPlatform }

// TaskName is the native task path for id.
func (s *TaskScheduler) TaskName(id string) string {
	return taskSchedulerFolder + id
}

func (s *TaskScheduler) fail(op, msg string, err error) error {
	return &Error{Platform: taskSchedulerPlatform, Op: op, Message: msg, Err: err}
}

// NativeSchedule is the schtasks approximation of a cron expression.
type NativeSchedule struct {
	Schedule string // MINUTE, HOURLY, DAILY, WEEKLY or MONTHLY
	Modifier string // /MO
	Time     string // /ST, HH:MM
	Days     string // /D
}

var weekdayNames = []string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

// TranslateCron maps a cron expression onto schtasks schedule arguments.
// Schedules schtasks cannot express fall back to DAILY. MINUTE and HOURLY
// repeat from registration time and carry no /ST.
func TranslateCron(expr string) (NativeSchedule, error) {
	f, err := core.SplitCron(expr)
	if err != nil {
		return NativeSchedule{}, err
	}

	switch {
	case strings.HasPrefix(f.Minute, "*/"):
		return NativeSchedule{Schedule: "MINUTE", Modifier: strings.TrimPrefix(f.Minute, "*/")}, nil
	case strings.HasPrefix(f.Hour, "*/"):
		return NativeSchedule{Schedule: "HOURLY", Modifier: strings.TrimPrefix(f.Hour, "*/")}, nil
	}

	ns := NativeSchedule{Time: startTime(f.Minute, f.Hour)}
	switch {
	case f.Weekday != "*" && f.Day == "*":
		ns.Days = weekdayList(f.Weekday)
		if ns.Days == "" {
			ns.Schedule = "DAILY"
			break
		}
		ns.Schedule = "WEEKLY"
	case f.Day != "*":
		ns.Schedule = "MONTHLY"
		ns.Modifier = f.Day
	default:
		ns.Schedule = "DAILY"
	}
	return ns, nil
}

// startTime is the /ST value. It is empty unless both fields name a single
// fixed value; schtasks rejects steps, ranges and lists there.
func startTime(minute, hour string) string {
	if !isNumber(minute) || !isNumber(hour) {
		return ""
	}
	return padTwo(hour) + ":" + padTwo(minute)
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func padTwo(s string) string {
	if len(s) < 2 {
		return strings.Repeat("0", 2-len(s)) + s
	}
	return s
}

func weekdayList(field string) string {
	var names []string
	for _, part := range strings.Split(field, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, end := weekdayIndex(lo), weekdayIndex(hi)
			if start < 0 || end < 0 {
				continue
			}
			for i := start; i <= end; i++ {
				names = append(names, weekdayNames[i])
			}
			continue
		}
		if i := weekdayIndex(part); i >= 0 {
			names = append(names, weekdayNames[i])
		}
	}
	return strings.Join(names, ",")
}

func weekdayIndex(s string) int {
	if len(s) == 1 && s[0] >= '0' && s[0] <= '7' {
		return int(s[0] - '0')
	}
	for i, name := range weekdayNames[:7] {
		if strings.EqualFold(s, name) {
			return i
		}
	}
	return -1
}

// toUnixPath is the form bash on Windows expects for script paths.
func toUnixPath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// logPath uses a Windows separator regardless of the host OS.
func (s *TaskScheduler) logPath(id string) string {
	return strings.TrimRight(s.logDir, `\/`) + `\` + id + ".log"
}

// powerShellInvocation is the PowerShell side of the /TR command. Every
// task-controlled value is a single-quoted PowerShell literal.
func (s *TaskScheduler) powerShellInvocation(task *core.ScheduledTask) string {
	logPath := EscapePowerShell(s.logPath(task.ID))
	if UsesWorktree(task) {
		script := EscapePowerShell(toUnixPath(WorktreeScriptPath(s.logDir, task.ID)))
		return "& bash " + script + " *>> " + logPath
	}

	parts := []string{"Set-Location -LiteralPath " + EscapePowerShell(workingDirectory(task))}
	for _, k := range envKeys(task) {
		parts = append(parts, "$env:"+k+" = "+EscapePowerShell(task.Execution.Env[k]))
	}
	call := "& " + EscapePowerShell(s.claudeBin) + " -p " + EscapePowerShell(task.Execution.Command)
	if task.Execution.SkipPermissions {
		call += " --dangerously-skip-permissions"
	}
	parts = append(parts, call+" *>> "+logPath)
	return strings.Join(parts, "; ")
}

// TaskCommand is the /TR value. The PowerShell text is quoted as a single
// Windows command-line argument.
func (s *TaskScheduler) TaskCommand(task *core.ScheduledTask) string {
	return `powershell -NoProfile -Command ` + quoteWindowsArg(s.powerShellInvocation(task))
}

// quoteWindowsArg wraps arg in double quotes following the
// CommandLineToArgvW rules: backslashes are literal unless they precede a
// double quote, in which case the run is doubled and the quote escaped.
func quoteWindowsArg(arg string) string {
	var b strings.Builder
	b.Grow(len(arg) + 2)
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(arg); i++ {
		c := arg[i]
		switch c {
		case '\\':
			slashes++
		case '"':
			b.WriteString(strings.Repeat(`\`, slashes+1))
			slashes = 0
		default:
			slashes = 0
		}
		b.WriteByte(c)
	}
	b.WriteString(strings.Repeat(`\`, slashes))
	b.WriteByte('"')
	return b.String()
}

// CreateArgs returns the schtasks /Create arguments for task.
func (s *TaskScheduler) CreateArgs(task *core.ScheduledTask) ([]string, error) {
	expr, _, err := cronFields(taskSchedulerPlatform, task)
	if err != nil {
		return nil, err
	}
	ns, err := TranslateCron(expr)
	if err != nil {
		return nil, s.fail("register", "invalid cron expression", err)
	}

	args := []string{"/Create", "/TN", s.TaskName(task.ID), "/TR", s.TaskCommand(task), "/SC", ns.Schedule}
	if ns.Modifier != "" {
		args = append(args, "/MO", ns.Modifier)
	}
	if ns.Time != "" {
		args = append(args, "/ST", ns.Time)
	}
	if ns.Days != "" {
		args = append(args, "/D", ns.Days)
	}
	return args, nil
}

func (s *TaskScheduler) Register(ctx context.Context, task *core.ScheduledTask) error {
	args, err := s.CreateArgs(task)
	if err != nil {
		return err
	}
	script, err := GenerateWorktreeScript(task, s.logDir, s.claudeBin)
	if err != nil {
		return s.fail("register", "generate worktree script", err)
	}
	failMsg := fmt.Sprintf("failed to register task %q with Task Scheduler", displayName(task))

	if script != "" {
		if err := writeScript(WorktreeScriptPath(s.logDir, task.ID), script); err != nil {
			return s.fail("register", failMsg, err)
		}
	}

	// schtasks has no upsert; a missing task makes /Delete fail harmlessly.
	_, _ = s.runner.Run(ctx, "schtasks", []string{"/Delete", "/TN", s.TaskName(task.ID), "/F"}, "")

	if _, err := s.runner.Run(ctx, "schtasks", args, ""); err != nil {
		return s.fail("register", failMsg, err)
	}
	s.logger.Info("task registered", "platform", taskSchedulerPlatform, "task_id", task.ID, "name", displayName(task))
	return nil
}

func (s *TaskScheduler) Unregister(ctx context.Context, id string) error {
	_, err := s.runner.Run(ctx, "schtasks", []string{"/Delete", "/TN", s.TaskName(id), "/F"}, "")
	if err != nil && !stderrContains(err, "does not exist", "cannot find") {
		return s.fail("unregister", fmt.Sprintf("failed to delete task %s", id), err)
	}
	if err := removeFile(WorktreeScriptPath(s.logDir, id)); err != nil {
		return s.fail("unregister", fmt.Sprintf("failed to remove worktree script for task %s", id), err)
	}
	s.logger.Info("task unregistered", "platform", taskSchedulerPlatform, "task_id", id)
	return nil
}

func (s *TaskScheduler) IsRegistered(ctx context.Context, id string) (bool, error) {
	_, err := s.runner.Run(ctx, "schtasks", []string{"/Query", "/TN", s.TaskName(id)}, "")
	if err != nil {
		if ctx.Err() != nil {
			return false, s.fail("isRegistered", "query task", ctx.Err())
		}
		return false, nil
	}
	return true, nil
}

func (s *TaskScheduler) ListRegistered(ctx context.Context) ([]string, error) {
	out, err := s.runner.Run(ctx, "schtasks", []string{"/Query", "/FO", "CSV", "/NH"}, "")
	if err != nil {
		return nil, s.fail("list", "failed to query Task Scheduler", err)
	}

	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	ids := []string{}
	seen := make(map[string]struct{})
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, s.fail("list", "parse schtasks output", err)
		}
		if len(record) == 0 || !strings.HasPrefix(record[0], taskSchedulerFolder) {
			continue
		}
		id := strings.TrimPrefix(record[0], taskSchedulerFolder)
		if id == "" || strings.Contains(id, `\`) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *TaskScheduler) Status(ctx context.Context) core.SchedulerStatus {
	status := core.SchedulerStatus{Healthy: true, Errors: []string{}, Platform: taskSchedulerPlatform}
	ids, err := s.ListRegistered(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, "Failed to query Task Scheduler")
		return status
	}
	status.TaskCount = len(ids)
	return status
}
