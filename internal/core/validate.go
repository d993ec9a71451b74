package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"claudesched/internal/shell"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// idPattern keeps ids usable as file names, launchd labels and schtasks names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateTask rejects records that are malformed or carry obviously hostile
// identifiers. Adapters escape every value regardless of this check.
func ValidateTask(task *ScheduledTask) error {
	var errs []error

	if !idPattern.MatchString(task.ID) {
		errs = append(errs, fmt.Errorf("id %q must match %s", task.ID, idPattern))
	}
	if strings.TrimSpace(task.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(task.Execution.Command) == "" {
		errs = append(errs, errors.New("execution.command is required"))
	}

	if expr, err := CronExpression(task); err != nil {
		errs = append(errs, err)
	} else if _, err := ParseCron(expr); err != nil {
		errs = append(errs, err)
	}
	if _, err := Location(task.Trigger.Timezone); err != nil {
		errs = append(errs, err)
	}

	if task.Execution.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("execution.timeout must be non-negative"))
	}
	for key := range task.Execution.Env {
		if !envKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Errorf("execution.env key %q is not a valid variable name", key))
		}
	}

	if wt := task.Execution.Worktree; wt != nil {
		if wt.BranchPrefix != "" && !shell.IsSafeIdentifier(wt.BranchPrefix, shell.GitRefPattern) {
			errs = append(errs, fmt.Errorf("worktree.branchPrefix %q contains unsafe characters", wt.BranchPrefix))
		}
		if wt.RemoteName != "" && !shell.IsSafeIdentifier(wt.RemoteName, shell.GitRemotePattern) {
			errs = append(errs, fmt.Errorf("worktree.remoteName %q contains unsafe characters", wt.RemoteName))
		}
		if wt.BasePath != "" && !shell.IsSafeIdentifier(wt.BasePath, shell.SafePathPattern) {
			errs = append(errs, fmt.Errorf("worktree.basePath %q contains unsafe characters", wt.BasePath))
		}
	}

	return errors.Join(errs...)
}

// UsesWorktree reports whether the task opted into worktree mode.
func (t *ScheduledTask) UsesWorktree() bool {
	return t.Execution.Worktree != nil && t.Execution.Worktree.Enabled
}
