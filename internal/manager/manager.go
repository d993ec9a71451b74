// Package manager keeps the task registry and the native scheduler in step.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claudesched/internal/core"
	"claudesched/internal/notify"
	"claudesched/internal/scheduler"
	"claudesched/internal/shell"
	"claudesched/internal/store"
)

var (
	// ErrInvalidTask wraps validation failures.
	ErrInvalidTask = errors.New("invalid task")
	// ErrRegistration wraps native scheduler failures. The registry change
	// that preceded it is kept; Sync retries it.
	ErrRegistration = errors.New("native registration failed")
)

// Store is the slice of the registry the manager needs.
type Store interface {
	InsertTask(ctx context.Context, task *core.ScheduledTask) error
	UpdateTask(ctx context.Context, task *core.ScheduledTask) error
	SetTaskEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*core.ScheduledTask, error)
	ListTasks(ctx context.Context, enabled *bool) ([]*core.ScheduledTask, error)

	InsertRegistration(ctx context.Context, reg *core.Registration) error
	ListRegistrations(ctx context.Context, taskID string, limit, offset int) ([]*core.Registration, error)
}

// Options carries the settings shared with the native backend.
type Options struct {
	LogDir    string
	ClaudeBin string
}

// Manager orchestrates registry writes and native registration.
type Manager struct {
	store    Store
	sched    scheduler.Scheduler
	notifier notify.Notifier
	logger   *slog.Logger
	opts     Options

	// mu serializes native read-modify-write cycles within this process.
	mu sync.Mutex
}

func New(st Store, sched scheduler.Scheduler, notifier notify.Notifier, logger *slog.Logger, opts Options) *Manager {
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    st,
		sched:    sched,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Scheduler exposes the resolved native backend.
func (m *Manager) Scheduler() scheduler.Scheduler {
	return m.sched
}

// Add validates and stores task, then registers it when enabled.
func (m *Manager) Add(ctx context.Context, task *core.ScheduledTask) (*core.ScheduledTask, error) {
	if task.ID == "" {
		task.ID = core.NewTaskID()
	}
	core.ApplyDefaults(task)
	if err := core.ValidateTask(task); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task added", "task_id", task.ID, "name", shell.SanitizeForComment(task.Name), "enabled", task.Enabled)

	if task.Enabled {
		if err := m.register(ctx, task); err != nil {
			return task, err
		}
	}
	return task, nil
}

// Update replaces a stored task and re-registers it.
func (m *Manager) Update(ctx context.Context, task *core.ScheduledTask) (*core.ScheduledTask, error) {
	core.ApplyDefaults(task)
	if err := core.ValidateTask(task); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	task.CreatedAt = existing.CreatedAt
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task updated", "task_id", task.ID, "name", shell.SanitizeForComment(task.Name), "enabled", task.Enabled)

	if err := m.unregister(ctx, task.ID); err != nil {
		return task, err
	}
	if task.Enabled {
		if err := m.register(ctx, task); err != nil {
			return task, err
		}
	}
	return task, nil
}

// Remove unregisters the task and deletes it from the registry. The record
// is kept when the native entry cannot be removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.GetTask(ctx, id); err != nil {
		return err
	}
	if err := m.unregister(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.logger.Info("task removed", "task_id", id)
	return nil
}

func (m *Manager) Enable(ctx context.Context, id string) (*core.ScheduledTask, error) {
	return m.setEnabled(ctx, id, true)
}

func (m *Manager) Disable(ctx context.Context, id string) (*core.ScheduledTask, error) {
	return m.setEnabled(ctx, id, false)
}

func (m *Manager) setEnabled(ctx context.Context, id string, enabled bool) (*core.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetTaskEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	m.logger.Info("task toggled", "task_id", id, "enabled", enabled)

	if enabled {
		err = m.register(ctx, task)
	} else {
		err = m.unregister(ctx, id)
	}
	return task, err
}

func (m *Manager) Get(ctx context.Context, id string) (*core.ScheduledTask, error) {
	return m.store.GetTask(ctx, id)
}

func (m *Manager) List(ctx context.Context, enabled *bool) ([]*core.ScheduledTask, error) {
	return m.store.ListTasks(ctx, enabled)
}

// Registrations returns the native registration history of a task.
func (m *Manager) Registrations(ctx context.Context, id string, limit, offset int) ([]*core.Registration, error) {
	return m.store.ListRegistrations(ctx, id, limit, offset)
}

// Script renders the worktree script the native entry for id runs.
func (m *Manager) Script(ctx context.Context, id string) (string, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return scheduler.GenerateWorktreeScript(task, m.opts.LogDir, m.opts.ClaudeBin)
}

func (m *Manager) register(ctx context.Context, task *core.ScheduledTask) error {
	err := m.sched.Register(ctx, task)
	m.record(ctx, task.ID, shell.SanitizeForComment(task.Name), core.OpRegister, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	return nil
}

func (m *Manager) unregister(ctx context.Context, id string) error {
	err := m.sched.Unregister(ctx, id)
	m.record(ctx, id, "", core.OpUnregister, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	return nil
}

// record stores the outcome of a native change and alerts on failure.
func (m *Manager) record(ctx context.Context, id, name string, op core.RegistrationOp, opErr error) {
	reg := &core.Registration{
		TaskID:    id,
		Op:        op,
		Platform:  m.sched.Platform(),
		Status:    core.RegistrationSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	if opErr != nil {
		msg := opErr.Error()
		reg.Status = core.RegistrationFailed
		reg.Error = &msg
	}
	if err := m.store.InsertRegistration(ctx, reg); err != nil {
		m.logger.Warn("record registration", "task_id", id, "op", op, "err", err)
	}
	if opErr == nil {
		return
	}

	m.logger.Error("native scheduler change failed", "task_id", id, "name", name, "op", op, "platform", m.sched.Platform(), "err", opErr)
	title := fmt.Sprintf("claudesched: %s failed", op)
	body := fmt.Sprintf("%s task %s on %s: %v", op, id, m.sched.Name(), opErr)
	if name != "" {
		body = fmt.Sprintf("%s task %s (%s) on %s: %v", op, id, name, m.sched.Name(), opErr)
	}
	if err := m.notifier.Send(ctx, title, body); err != nil {
		m.logger.Warn("send failure notification", "task_id", id, "err", err)
	}
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrTaskNotFound)
}
