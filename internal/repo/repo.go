package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const timeFormat = time.RFC3339

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

const taskColumns = `ref,title,COALESCE(description,''),assignee_id,creator_id,COALESCE(unit,''),task_type,status,priority,deadline,created_at,updated_at,completed_at,cancelled_at,COALESCE(cancelled_by,''),reminder_sent,first_overdue_sent,tier1_escalated_at,tier2_escalated_at,source,COALESCE(source_ref,'')`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var deadline, completedAt, cancelledAt, tier1At, tier2At sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&t.Ref, &t.Title, &t.Description, &t.AssigneeID, &t.CreatorID, &t.Unit,
		&t.Type, &t.Status, &t.Priority, &deadline, &createdAt, &updatedAt,
		&completedAt, &cancelledAt, &t.CancelledBy,
		&t.ReminderSent, &t.FirstOverdueSent, &tier1At, &tier2At,
		&t.Source, &t.SourceRef,
	)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, err
	}
	if t.Deadline, err = parseTimePtr(deadline); err != nil {
		return t, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return t, err
	}
	if t.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return t, err
	}
	if t.Tier1EscalatedAt, err = parseTimePtr(tier1At); err != nil {
		return t, err
	}
	if t.Tier2EscalatedAt, err = parseTimePtr(tier2At); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, ref string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE ref=?`, ref))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, ref string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE ref=?`, ref))
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(ref,title,description,assignee_id,creator_id,unit,task_type,status,priority,deadline,created_at,updated_at,completed_at,cancelled_at,cancelled_by,reminder_sent,first_overdue_sent,tier1_escalated_at,tier2_escalated_at,source,source_ref)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Ref, t.Title, nullable(t.Description), t.AssigneeID, t.CreatorID, nullable(t.Unit),
		t.Type, t.Status, t.Priority, fmtTimePtr(t.Deadline), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		fmtTimePtr(t.CompletedAt), fmtTimePtr(t.CancelledAt), nullable(t.CancelledBy),
		t.ReminderSent, t.FirstOverdueSent, fmtTimePtr(t.Tier1EscalatedAt), fmtTimePtr(t.Tier2EscalatedAt),
		t.Source, nullable(t.SourceRef))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,assignee_id=?,unit=?,task_type=?,status=?,priority=?,deadline=?,updated_at=?,completed_at=?,cancelled_at=?,cancelled_by=? WHERE ref=?`,
		t.Title, nullable(t.Description), t.AssigneeID, nullable(t.Unit), t.Type, t.Status, t.Priority,
		fmtTimePtr(t.Deadline), fmtTime(t.UpdatedAt), fmtTimePtr(t.CompletedAt),
		fmtTimePtr(t.CancelledAt), nullable(t.CancelledBy), t.Ref)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWithRefPrefix counts tasks whose reference code starts with the given
// prefix, inside the caller's transaction so same-day reference numbering
// stays serialized with the insert.
func (r Repo) CountWithRefPrefix(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE ref LIKE ? || '%'`, prefix).Scan(&n)
	return n, err
}

func (r Repo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasks returns tasks filtered by status, newest first. Empty status
// means all.
func (r Repo) ListTasks(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	if status == "" {
		return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	}
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status=? ORDER BY created_at DESC`, status)
}

// PersonalTasks lists a user's own self-assigned tasks, cancelled excluded.
func (r Repo) PersonalTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE creator_id=? AND assignee_id=? AND task_type='personal' AND status != 'cancelled'
ORDER BY created_at DESC`, userID, userID)
}

// AssignedTasks lists delegated tasks assigned to the user, cancelled excluded.
func (r Repo) AssignedTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE assignee_id=? AND task_type='delegated' AND status != 'cancelled'
ORDER BY created_at DESC`, userID)
}

// DelegatedTasks lists tasks the user handed to others, cancelled excluded.
func (r Repo) DelegatedTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE creator_id=? AND task_type='delegated' AND assignee_id != ? AND status != 'cancelled'
ORDER BY created_at DESC`, userID, userID)
}

// TasksInUnit lists tasks belonging to an organizational unit.
func (r Repo) TasksInUnit(ctx context.Context, unit string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE unit=? ORDER BY created_at DESC`, unit)
}

// TaskCounts summarizes a user's dashboard badges.
type TaskCounts struct {
	Personal   int `json:"personal"`
	AssignedTo int `json:"assigned_to_me"`
	Delegated  int `json:"i_assigned"`
	Overdue    int `json:"overdue"`
}

func (r Repo) CountTasksForUser(ctx context.Context, userID string, now time.Time) (TaskCounts, error) {
	var c TaskCounts
	row := r.DB.QueryRowContext(ctx, `SELECT
(SELECT COUNT(*) FROM tasks WHERE creator_id=?1 AND assignee_id=?1 AND task_type='personal' AND status IN ('pending','in_progress')),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=?1 AND task_type='delegated' AND status IN ('pending','in_progress')),
(SELECT COUNT(*) FROM tasks WHERE creator_id=?1 AND task_type='delegated' AND assignee_id != ?1 AND status IN ('pending','in_progress')),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=?1 AND status IN ('pending','in_progress') AND deadline IS NOT NULL AND deadline < ?2)`,
		userID, fmtTime(now))
	if err := row.Scan(&c.Personal, &c.AssignedTo, &c.Delegated, &c.Overdue); err != nil {
		return c, err
	}
	return c, nil
}
