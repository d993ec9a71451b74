package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"claudesched/internal/core"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

const taskColumns = `id, name, description, enabled, trigger_type, cron, timezone, execution, tags, created_at, updated_at`

// InsertTask stores a new task. CreatedAt and UpdatedAt are set to now.
func (s *Store) InsertTask(ctx context.Context, task *core.ScheduledTask) error {
	execution, tags, err := encodeTask(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, nullableString(task.Description), task.Enabled, string(task.Trigger.Type),
		task.Trigger.Expression, nullableString(task.Trigger.Timezone), execution, tags,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if exists, _ := s.taskExists(ctx, task.ID); exists {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask replaces every mutable field of an existing task.
func (s *Store) UpdateTask(ctx context.Context, task *core.ScheduledTask) error {
	execution, tags, err := encodeTask(task)
	if err != nil {
		return err
	}
	task.UpdatedAt = time.Now().UTC()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, description = ?, enabled = ?, trigger_type = ?, cron = ?, timezone = ?,
			execution = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`, task.Name, nullableString(task.Description), task.Enabled, string(task.Trigger.Type),
		task.Trigger.Expression, nullableString(task.Trigger.Timezone), execution, tags,
		formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectRow(res, "update task")
}

// SetTaskEnabled flips the enabled flag without touching other fields.
func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set task enabled: %w", err)
	}
	return expectRow(res, "set task enabled")
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRow(res, "delete task")
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.ScheduledTask, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by enabled state.
func (s *Store) ListTasks(ctx context.Context, enabled *bool) ([]*core.ScheduledTask, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if enabled != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks WHERE enabled = ? ORDER BY created_at DESC, rowid DESC
		`, *enabled)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*core.ScheduledTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) taskExists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func encodeTask(task *core.ScheduledTask) (execution string, tags any, err error) {
	data, err := json.Marshal(task.Execution)
	if err != nil {
		return "", nil, fmt.Errorf("encode execution: %w", err)
	}
	if len(task.Tags) > 0 {
		tagData, err := json.Marshal(task.Tags)
		if err != nil {
			return "", nil, fmt.Errorf("encode tags: %w", err)
		}
		tags = string(tagData)
	}
	return string(data), tags, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.ScheduledTask, error) {
	var (
		id          string
		name        string
		description sql.NullString
		enabled     bool
		triggerType string
		cronExpr    string
		timezone    sql.NullString
		execution   string
		tags        sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(&id, &name, &description, &enabled, &triggerType, &cronExpr, &timezone,
		&execution, &tags, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.ScheduledTask{
		ID:          id,
		Name:        name,
		Description: description.String,
		Enabled:     enabled,
		Trigger: core.Trigger{
			Type:       core.TriggerType(triggerType),
			Expression: cronExpr,
			Timezone:   timezone.String,
		},
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(execution), &task.Execution); err != nil {
		return nil, fmt.Errorf("decode execution for task %s: %w", id, err)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &task.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for task %s: %w", id, err)
		}
	}
	return task, nil
}

func expectRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
