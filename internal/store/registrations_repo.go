package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"claudesched/internal/core"
)

var ErrRegistrationNotFound = errors.New("registration not found")

const registrationColumns = `id, task_id, op, platform, status, error, created_at`

// InsertRegistration records a native register/unregister attempt and
// prunes the task's history beyond the retention limit.
func (s *Store) InsertRegistration(ctx context.Context, reg *core.Registration) error {
	if reg.ID == "" {
		reg.ID = core.NewTaskID()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	var errMsg any
	if reg.Error != nil {
		errMsg = *reg.Error
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, reg.ID, reg.TaskID, string(reg.Op), reg.Platform, string(reg.Status), errMsg, formatTime(reg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return s.PruneRegistrations(ctx, reg.TaskID)
}

// ListRegistrations returns a task's registration history, newest first.
func (s *Store) ListRegistrations(ctx context.Context, taskID string, limit, offset int) ([]*core.Registration, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	regs := []*core.Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return regs, nil
}

// LastRegistration returns the most recent record for a task.
func (s *Store) LastRegistration(ctx context.Context, taskID string) (*core.Registration, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, taskID)
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return reg, nil
}

// PruneRegistrations drops records beyond the retention limit for a task.
func (s *Store) PruneRegistrations(ctx context.Context, taskID string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM registrations
		WHERE id IN (
			SELECT id FROM registrations
			WHERE task_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)
	`, taskID, s.Retention)
	if err != nil {
		return fmt.Errorf("prune registrations: %w", err)
	}
	return nil
}

func scanRegistration(scanner interface {
	Scan(dest ...any) error
}) (*core.Registration, error) {
	var (
		id        string
		taskID    string
		op        string
		platform  string
		status    string
		errMsg    sql.NullString
		createdAt string
	)
	if err := scanner.Scan(&id, &taskID, &op, &platform, &status, &errMsg, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg := &core.Registration{
		ID:        id,
		TaskID:    taskID,
		Op:        core.RegistrationOp(op),
		Platform:  platform,
		Status:    core.RegistrationStatus(status),
		CreatedAt: parseTime(createdAt),
	}
	if errMsg.Valid {
		reg.Error = &errMsg.String
	}
	return reg, nil
}
