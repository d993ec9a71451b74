package manager

import (
	"context"
	"fmt"
	"sort"

	"claudesched/internal/core"
)

// SyncFailure is one native change Sync could not apply.
type SyncFailure struct {
	TaskID string              `json:"taskId"`
	Op     core.RegistrationOp `json:"op"`
	Error  string              `json:"error"`
}

// SyncReport summarizes a Sync pass.
type SyncReport struct {
	Registered     []string      `json:"registered"`
	Unregistered   []string      `json:"unregistered"`
	OrphansRemoved []string      `json:"orphansRemoved"`
	Failures       []SyncFailure `json:"failures"`
}

// OK reports whether every change was applied.
func (r SyncReport) OK() bool {
	return len(r.Failures) == 0
}

// Sync makes the native scheduler match the registry: enabled tasks are
// (re)registered, disabled ones removed, and native entries owned by this
// system with no registry record are removed as orphans.
func (m *Manager) Sync(ctx context.Context) (SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := SyncReport{
		Registered:     []string{},
		Unregistered:   []string{},
		OrphansRemoved: []string{},
		Failures:       []SyncFailure{},
	}

	tasks, err := m.store.ListTasks(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("list tasks: %w", err)
	}
	native, err := m.sched.ListRegistered(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	registered := make(map[string]bool, len(native))
	for _, id := range native {
		registered[id] = true
	}

	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		known[task.ID] = true
		switch {
		case task.Enabled:
			if err := m.register(ctx, task); err != nil {
				report.Failures = append(report.Failures, SyncFailure{TaskID: task.ID, Op: core.OpRegister, Error: err.Error()})
				continue
			}
			report.Registered = append(report.Registered, task.ID)
		case registered[task.ID]:
			if err := m.unregister(ctx, task.ID); err != nil {
				report.Failures = append(report.Failures, SyncFailure{TaskID: task.ID, Op: core.OpUnregister, Error: err.Error()})
				continue
			}
			report.Unregistered = append(report.Unregistered, task.ID)
		}
	}

	for _, id := range native {
		if known[id] {
			continue
		}
		if err := m.unregister(ctx, id); err != nil {
			report.Failures = append(report.Failures, SyncFailure{TaskID: id, Op: core.OpUnregister, Error: err.Error()})
			continue
		}
		report.OrphansRemoved = append(report.OrphansRemoved, id)
	}

	m.logger.Info("sync finished",
		"registered", len(report.Registered),
		"unregistered", len(report.Unregistered),
		"orphans_removed", len(report.OrphansRemoved),
		"failures", len(report.Failures))
	return report, nil
}

// StatusReport combines the native status with the registry view.
type StatusReport struct {
	Scheduler    string               `json:"scheduler"`
	Native       core.SchedulerStatus `json:"native"`
	StoredTasks  int                  `json:"storedTasks"`
	EnabledTasks int                  `json:"enabledTasks"`
	// Missing are enabled tasks without a native entry.
	Missing []string `json:"missing"`
	// Orphans are native entries with no registry record.
	Orphans []string `json:"orphans"`
}

// Healthy reports whether the native side is healthy and in sync.
func (r StatusReport) Healthy() bool {
	return r.Native.Healthy && len(r.Missing) == 0 && len(r.Orphans) == 0
}

func (m *Manager) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{
		Scheduler: m.sched.Name(),
		Native:    m.sched.Status(ctx),
		Missing:   []string{},
		Orphans:   []string{},
	}

	tasks, err := m.store.ListTasks(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("list tasks: %w", err)
	}
	report.StoredTasks = len(tasks)

	native, err := m.sched.ListRegistered(ctx)
	if err != nil {
		// Native status already carries the failure.
		return report, nil
	}
	registered := make(map[string]bool, len(native))
	for _, id := range native {
		registered[id] = true
	}

	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		known[task.ID] = true
		if !task.Enabled {
			continue
		}
		report.EnabledTasks++
		if !registered[task.ID] {
			report.Missing = append(report.Missing, task.ID)
		}
	}
	for _, id := range native {
		if !known[id] {
			report.Orphans = append(report.Orphans, id)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphans)
	return report, nil
}
