package core

import (
	"time"
)

// TriggerType identifies how a task is fired.
type TriggerType string

const (
	TriggerCron TriggerType = "cron"
)

// Defaults applied to task records that leave fields empty.
const (
	DefaultTimezone         = "local"
	DefaultWorkingDirectory = "."
	DefaultTimeoutSeconds   = 300
	DefaultBranchPrefix     = "claude-task/"
	DefaultRemoteName       = "origin"
)

// Trigger describes when a task fires.
type Trigger struct {
	Type       TriggerType `json:"type"`
	Expression string      `json:"expression"`
	Timezone   string      `json:"timezone,omitempty"`
}

// WorktreeConfig enables isolated execution in a dedicated git worktree.
// Every string field is treated as untrusted.
type WorktreeConfig struct {
	Enabled      bool   `json:"enabled"`
	BasePath     string `json:"basePath,omitempty"`
	BranchPrefix string `json:"branchPrefix,omitempty"`
	RemoteName   string `json:"remoteName,omitempty"`
}

// Execution describes what runs when a task fires.
type Execution struct {
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	TimeoutSeconds   int               `json:"timeout,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	SkipPermissions  bool              `json:"skipPermissions,omitempty"`
	Worktree         *WorktreeConfig   `json:"worktree,omitempty"`
}

// ScheduledTask is a user-declared unit of work with a cron trigger.
type ScheduledTask struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Trigger     Trigger   `json:"trigger"`
	Execution   Execution `json:"execution"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SchedulerStatus is computed fresh on every status query.
type SchedulerStatus struct {
	Healthy   bool     `json:"healthy"`
	TaskCount int      `json:"taskCount"`
	Errors    []string `json:"errors"`
	Platform  string   `json:"platform"`
}

// NewTask returns an enabled cron task with defaults applied.
func NewTask(name, cronExpr, command string) *ScheduledTask {
	now := time.Now().UTC()
	task := &ScheduledTask{
		ID:      NewTaskID(),
		Name:    name,
		Enabled: true,
		Trigger: Trigger{
			Type:       TriggerCron,
			Expression: cronExpr,
		},
		Execution: Execution{
			Command: command,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ApplyDefaults(task)
	return task
}

// ApplyDefaults fills empty optional fields in place.
func ApplyDefaults(task *ScheduledTask) {
	if task.Trigger.Type == "" {
		task.Trigger.Type = TriggerCron
	}
	if task.Trigger.Timezone == "" {
		task.Trigger.Timezone = DefaultTimezone
	}
	if task.Execution.WorkingDirectory == "" {
		task.Execution.WorkingDirectory = DefaultWorkingDirectory
	}
	if task.Execution.TimeoutSeconds == 0 {
		task.Execution.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if wt := task.Execution.Worktree; wt != nil {
		if wt.BranchPrefix == "" {
			wt.BranchPrefix = DefaultBranchPrefix
		}
		if wt.RemoteName == "" {
			wt.RemoteName = DefaultRemoteName
		}
	}
}

// RegistrationOp names a native-side change attempted for a task.
type RegistrationOp string

const (
	OpRegister   RegistrationOp = "register"
	OpUnregister RegistrationOp = "unregister"
)

// RegistrationStatus is the outcome of a RegistrationOp.
type RegistrationStatus string

const (
	RegistrationSucceeded RegistrationStatus = "succeeded"
	RegistrationFailed    RegistrationStatus = "failed"
)

// Registration records one attempt to change a task's native entry.
type Registration struct {
	ID        string             `json:"id"`
	TaskID    string             `json:"taskId"`
	Op        RegistrationOp     `json:"op"`
	Platform  string             `json:"platform"`
	Status    RegistrationStatus `json:"status"`
	Error     *string            `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}
