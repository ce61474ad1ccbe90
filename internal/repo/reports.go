package repo

import (
	"context"
	"time"

	"taskline/internal/domain"
)

// SummaryStats aggregates task counts for the reports dashboard. Completed
// folds verified in; cancelled tasks are excluded throughout. An empty unit
// means all units.
type SummaryStats struct {
	Pending     int `json:"pending"`
	InProgress  int `json:"in_progress"`
	Completed   int `json:"completed"`
	Overdue     int `json:"overdue"`
	TotalActive int `json:"total_active"`
}

func (r Repo) SummarizeTasks(ctx context.Context, now time.Time, unit string) (SummaryStats, error) {
	var s SummaryStats
	row := r.DB.QueryRowContext(ctx, `SELECT
(SELECT COUNT(*) FROM tasks WHERE status='pending' AND (?1='' OR unit=?1)),
(SELECT COUNT(*) FROM tasks WHERE status='in_progress' AND (?1='' OR unit=?1)),
(SELECT COUNT(*) FROM tasks WHERE status IN ('completed','verified') AND (?1='' OR unit=?1)),
(SELECT COUNT(*) FROM tasks WHERE status IN ('pending','in_progress') AND deadline IS NOT NULL AND deadline < ?2 AND (?1='' OR unit=?1))`,
		unit, fmtTime(now))
	if err := row.Scan(&s.Pending, &s.InProgress, &s.Completed, &s.Overdue); err != nil {
		return s, err
	}
	s.TotalActive = s.Pending + s.InProgress
	return s, nil
}

// UserTaskStats is one row of the per-user breakdown.
type UserTaskStats struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Unit       string `json:"unit,omitempty"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Overdue    int    `json:"overdue"`
	Total      int    `json:"total"`
}

// UserBreakdown returns assigned-task counts per active user, ordered by
// unit then name.
func (r Repo) UserBreakdown(ctx context.Context, now time.Time, unit string) ([]UserTaskStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id, u.name, u.email, COALESCE(u.unit,''),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=u.id AND status='pending'),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=u.id AND status='in_progress'),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=u.id AND status IN ('completed','verified')),
(SELECT COUNT(*) FROM tasks WHERE assignee_id=u.id AND status IN ('pending','in_progress') AND deadline IS NOT NULL AND deadline < ?2)
FROM users u
WHERE u.active=1 AND (?1='' OR u.unit=?1)
ORDER BY u.unit, u.name`, unit, fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserTaskStats
	for rows.Next() {
		var s UserTaskStats
		if err := rows.Scan(&s.UserID, &s.Name, &s.Email, &s.Unit,
			&s.Pending, &s.InProgress, &s.Completed, &s.Overdue); err != nil {
			return nil, err
		}
		s.Total = s.Pending + s.InProgress + s.Completed
		out = append(out, s)
	}
	return out, rows.Err()
}

// OverdueReport lists active tasks past their deadline, most overdue first.
func (r Repo) OverdueReport(ctx context.Context, now time.Time, unit string, limit int) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status IN ('pending','in_progress')
  AND deadline IS NOT NULL AND deadline < ?2
  AND (?1='' OR unit=?1)
ORDER BY deadline LIMIT ?3`, unit, fmtTime(now), limit)
}

// EscalatedTasks lists active tasks that reached at least tier 1, oldest
// escalation first.
func (r Repo) EscalatedTasks(ctx context.Context, unit string, limit int) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE tier1_escalated_at IS NOT NULL
  AND status IN ('pending','in_progress')
  AND (?1='' OR unit=?1)
ORDER BY tier1_escalated_at LIMIT ?2`, unit, limit)
}
