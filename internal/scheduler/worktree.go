package scheduler

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"claudesched/internal/core"
	"claudesched/internal/shell"
)

// Every task-controlled value goes through sh (shell values) or comment
// (comment lines). Nothing from the task is interpolated raw.
var worktreeTemplate = template.Must(template.New("worktree").Funcs(template.FuncMap{
	"sh":      shell.Escape,
	"comment": shell.SanitizeForComment,
}).Parse(`#!/bin/bash
# Claude scheduled task (worktree mode)
# Task: {{comment .Name}}
# Task ID: {{comment .ID}}
# Generated by claudesched. Changes are overwritten on the next register.

TASK_ID={{sh .ID}}
TASK_NAME={{sh .Name}}
MAIN_REPO={{sh .WorkDir}}
LOG_DIR={{sh .LogDir}}
BRANCH_PREFIX={{sh .BranchPrefix}}
REMOTE_NAME={{sh .RemoteName}}
WORKTREE_BASE={{sh .BasePath}}
TASK_TIMEOUT={{sh .Timeout}}

set -u

expand_home() {
    case "$1" in
        "~") printf '%s\n' "$HOME" ;;
        "~/"*) printf '%s/%s\n' "$HOME" "${1#"~/"}" ;;
        *) printf '%s\n' "$1" ;;
    esac
}

MAIN_REPO="$(cd "$(expand_home "$MAIN_REPO")" && pwd)" || exit 1
if [ -z "$WORKTREE_BASE" ]; then
    WORKTREE_BASE="$(dirname "$MAIN_REPO")/.$(basename "$MAIN_REPO")-worktrees"
else
    WORKTREE_BASE="$(expand_home "$WORKTREE_BASE")"
fi

WORKTREE_NAME="task-${TASK_ID:0:8}-$(date +%s)"
BRANCH_NAME="${BRANCH_PREFIX}${WORKTREE_NAME}"
WORKTREE_PATH="${WORKTREE_BASE}/${WORKTREE_NAME}"
RESULT_LOG="${LOG_DIR}/${TASK_ID}.worktree.log"
PUSHED=false
TASK_EXIT=1

record_result() {
    mkdir -p "$LOG_DIR"
    printf '%s task_id=%s branch=%s worktree=%s pushed=%s exit=%s timeout=%s\n' \
        "$(date -u +%Y-%m-%dT%H:%M:%SZ)" "$TASK_ID" "$BRANCH_NAME" "$WORKTREE_PATH" \
        "$PUSHED" "$TASK_EXIT" "$TASK_TIMEOUT" >> "$RESULT_LOG"
}

cleanup() {
    cd "$MAIN_REPO" || return
    if [ -d "$WORKTREE_PATH" ]; then
        if ! git worktree remove --force "$WORKTREE_PATH" 2>/dev/null; then
            sleep 1
            git worktree remove --force "$WORKTREE_PATH"
        fi
    fi
    record_result
}
trap cleanup EXIT

echo "[claudesched] task_id=${TASK_ID} branch=${BRANCH_NAME} worktree=${WORKTREE_PATH}"

mkdir -p "$WORKTREE_BASE" || exit 1
cd "$MAIN_REPO" || exit 1
git worktree add -b "$BRANCH_NAME" "$WORKTREE_PATH" || exit 1
cd "$WORKTREE_PATH" || exit 1
{{range .Exports}}
{{.}}{{end}}

{{.Command}}
TASK_EXIT=$?

git add -A
if [ -n "$(git status --porcelain)" ]; then
    if git commit -m "claudesched: ${TASK_NAME}" -m "Task ID: ${TASK_ID}"; then
        if git push -u "$REMOTE_NAME" "$BRANCH_NAME"; then
            PUSHED=true
        fi
    fi
fi

exit "$TASK_EXIT"
`))

type worktreeScriptData struct {
	ID           string
	Name         string
	WorkDir      string
	LogDir       string
	BranchPrefix string
	RemoteName   string
	BasePath     string
	Timeout      string
	Exports      []string
	Command      string
}

// GenerateWorktreeScript renders the bash script that runs task inside a
// fresh git worktree. It returns "" when worktree mode is off.
func GenerateWorktreeScript(task *core.ScheduledTask, logDir, claudeBin string) (string, error) {
	if !UsesWorktree(task) {
		return "", nil
	}
	wt := task.Execution.Worktree

	data := worktreeScriptData{
		ID:           task.ID,
		Name:         task.Name,
		WorkDir:      workingDirectory(task),
		LogDir:       logDir,
		BranchPrefix: wt.BranchPrefix,
		RemoteName:   wt.RemoteName,
		BasePath:     wt.BasePath,
		Timeout:      strconv.Itoa(task.Execution.TimeoutSeconds),
		Exports:      EnvExports(task),
		Command:      BuildCommand(claudeBin, task),
	}
	if data.BranchPrefix == "" {
		data.BranchPrefix = core.DefaultBranchPrefix
	}
	if data.RemoteName == "" {
		data.RemoteName = core.DefaultRemoteName
	}

	var buf bytes.Buffer
	if err := worktreeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render worktree script: %w", err)
	}
	return buf.String(), nil
}
