package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskprinter/internal/model"
)

const taskColumns = `id, uid, title, description, category, start_at, until, rrule,
	auto_print, is_active, last_fired_at, created_at, updated_at`

func scanTask(row scanner) (*model.Task, error) {
	var (
		t         model.Task
		until     sql.NullTime
		lastFired sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UID, &t.Title, &t.Description, &t.Category,
		&t.StartAt, &until, &t.RRule, &t.AutoPrint, &t.IsActive, &lastFired,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.StartAt = t.StartAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.Until = timePtr(until)
	t.LastFiredAt = timePtr(lastFired)
	return &t, nil
}

// ListTasks returns every task ordered by start time. With activeOnly set
// only tasks with is_active are returned.
func (s *Store) ListTasks(ctx context.Context, activeOnly bool) ([]*model.Task, error) {
	q := "SELECT " + taskColumns + " FROM tasks"
	if activeOnly {
		q += " WHERE is_active = 1"
	}
	q += " ORDER BY start_at, id"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given id or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", id, err)
	}
	return t, nil
}

// ValidateTask checks the fields every stored task needs.
func ValidateTask(t *model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("title is required")
	}
	if t.StartAt.IsZero() {
		return errors.New("start_at is required")
	}
	if t.Until != nil && t.Until.Before(t.StartAt) {
		return errors.New("until must not be before start_at")
	}
	return nil
}

// CreateTask inserts t, assigning ID, UID (when empty) and timestamps.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	if err := ValidateTask(t); err != nil {
		return err
	}
	return insertTask(ctx, s.db, t, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, t *model.Task, now time.Time) error {
	if t.UID == "" {
		t.UID = uuid.NewString()
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := db.ExecContext(ctx, `
		INSERT INTO tasks (uid, title, description, category, start_at, until, rrule,
			auto_print, is_active, last_fired_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UID, t.Title, t.Description, t.Category, t.StartAt.UTC(), nullTime(t.Until), t.RRule,
		t.AutoPrint, t.IsActive, nullTime(t.LastFiredAt), now, now)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// UpdateTask writes every editable field of t. The watermark is never
// written back: it is cleared when the schedule changed and otherwise left
// to AdvanceWatermark, so an edit racing a due check cannot rewind it.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	if err := ValidateTask(t); err != nil {
		return err
	}
	prev, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	t.UID = prev.UID
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = s.now()

	set := `title = ?, description = ?, category = ?, start_at = ?, until = ?,
		rrule = ?, auto_print = ?, is_active = ?, updated_at = ?`
	if scheduleChanged(prev, t) {
		set += ", last_fired_at = NULL"
	}
	res, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+set+" WHERE id = ?",
		t.Title, t.Description, t.Category, t.StartAt.UTC(), nullTime(t.Until),
		t.RRule, t.AutoPrint, t.IsActive, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("updating task %d: %w", t.ID, err)
	}
	if err := expectOne(res); err != nil {
		return err
	}

	var lastFired sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT last_fired_at FROM tasks WHERE id = ?", t.ID).Scan(&lastFired); err != nil {
		return fmt.Errorf("reading watermark of task %d: %w", t.ID, err)
	}
	t.LastFiredAt = timePtr(lastFired)
	return nil
}

func scheduleChanged(a, b *model.Task) bool {
	return !a.StartAt.Equal(b.StartAt) || a.RRule != b.RRule || !sameTime(a.Until, b.Until)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	return expectOne(res)
}

// AdvanceWatermark moves last_fired_at from prev to next. It succeeds only
// when the stored value still equals prev, so two concurrent checks can
// never both act on the same occurrence. The boolean reports whether this
// call won.
func (s *Store) AdvanceWatermark(ctx context.Context, id int64, prev *time.Time, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET last_fired_at = ?, updated_at = ? WHERE id = ? AND last_fired_at IS ?",
		next.UTC(), s.now(), id, nullTime(prev))
	if err != nil {
		return false, fmt.Errorf("advancing watermark of task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ImportTasks inserts all tasks in a single transaction. With replace set
// the existing tasks are deleted first. Tasks whose UID already exists are
// updated in place; their watermark is kept unless the schedule differs.
func (s *Store) ImportTasks(ctx context.Context, tasks []*model.Task, replace bool) (int, error) {
	for i, t := range tasks {
		if err := ValidateTask(t); err != nil {
			return 0, fmt.Errorf("task %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
			return 0, fmt.Errorf("clearing tasks: %w", err)
		}
	}

	now := s.now()
	for _, t := range tasks {
		if t.UID != "" {
			updated, err := updateByUID(ctx, tx, t, now)
			if err != nil {
				return 0, err
			}
			if updated {
				continue
			}
		}
		if err := insertTask(ctx, tx, t, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return len(tasks), nil
}

// updateByUID overwrites the task sharing t's UID and reports whether one
// existed.
func updateByUID(ctx context.Context, tx *sql.Tx, t *model.Task, now time.Time) (bool, error) {
	prev, err := scanTask(tx.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE uid = ?", t.UID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("importing task %q: %w", t.UID, err)
	}

	set := `title = ?, description = ?, category = ?, start_at = ?, until = ?,
		rrule = ?, auto_print = ?, is_active = ?, updated_at = ?`
	if scheduleChanged(prev, t) {
		set += ", last_fired_at = NULL"
	}
	if _, err := tx.ExecContext(ctx, "UPDATE tasks SET "+set+" WHERE id = ?",
		t.Title, t.Description, t.Category, t.StartAt.UTC(), nullTime(t.Until),
		t.RRule, t.AutoPrint, t.IsActive, now, prev.ID); err != nil {
		return false, fmt.Errorf("importing task %q: %w", t.UID, err)
	}
	return true, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
