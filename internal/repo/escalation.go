package repo

import (
	"context"
	"fmt"
	"time"

	"taskline/internal/domain"
)

// DueForReminder selects active tasks with a deadline inside [start,end) from
// now and no reminder sent yet.
func (r Repo) DueForReminder(ctx context.Context, now time.Time, start, end time.Duration) ([]domain.Task, error) {
	windowStart := now.Add(start)
	windowEnd := now.Add(end)
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status IN ('pending','in_progress')
  AND deadline IS NOT NULL AND deadline >= ? AND deadline <= ?
  AND reminder_sent = 0
ORDER BY deadline`, fmtTime(windowStart), fmtTime(windowEnd))
}

// OverdueTasks selects active tasks past their deadline, oldest deadline first.
func (r Repo) OverdueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status IN ('pending','in_progress')
  AND deadline IS NOT NULL AND deadline < ?
ORDER BY deadline`, fmtTime(now))
}

// ActiveAssignedTo lists a user's active assigned tasks for the daily digest,
// soonest deadline first (tasks without a deadline sort last).
func (r Repo) ActiveAssignedTo(ctx context.Context, userID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE assignee_id=? AND status IN ('pending','in_progress')
ORDER BY deadline IS NULL, deadline, priority DESC`, userID)
}

// ActiveDelegatedBy lists active tasks the user created for others,
// excluding self-assigned ones.
func (r Repo) ActiveDelegatedBy(ctx context.Context, userID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE creator_id=? AND assignee_id != ? AND status IN ('pending','in_progress')
ORDER BY deadline IS NULL, deadline, priority DESC`, userID, userID)
}

// markIfUnset runs a conditional update and reports whether this call won the
// flag. RowsAffected is the compare-and-set: overlapping job runs race on the
// same row but only one observes a change.
func (r Repo) markIfUnset(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkReminderSent sets the deadline-reminder flag if still unset.
func (r Repo) MarkReminderSent(ctx context.Context, ref string, now time.Time) (bool, error) {
	ok, err := r.markIfUnset(ctx,
		`UPDATE tasks SET reminder_sent=1, updated_at=? WHERE ref=? AND reminder_sent=0`,
		fmtTime(now), ref)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent %s: %w", ref, err)
	}
	return ok, nil
}

// MarkFirstOverdueSent sets the first-overdue flag if still unset.
func (r Repo) MarkFirstOverdueSent(ctx context.Context, ref string, now time.Time) (bool, error) {
	ok, err := r.markIfUnset(ctx,
		`UPDATE tasks SET first_overdue_sent=1, updated_at=? WHERE ref=? AND first_overdue_sent=0`,
		fmtTime(now), ref)
	if err != nil {
		return false, fmt.Errorf("mark first overdue sent %s: %w", ref, err)
	}
	return ok, nil
}

// StampTier1 records the tier-1 escalation timestamp if still unset.
func (r Repo) StampTier1(ctx context.Context, ref string, now time.Time) (bool, error) {
	ok, err := r.markIfUnset(ctx,
		`UPDATE tasks SET tier1_escalated_at=?, updated_at=? WHERE ref=? AND tier1_escalated_at IS NULL`,
		fmtTime(now), fmtTime(now), ref)
	if err != nil {
		return false, fmt.Errorf("stamp tier1 %s: %w", ref, err)
	}
	return ok, nil
}

// StampTier2 records the tier-2 escalation timestamp if still unset.
func (r Repo) StampTier2(ctx context.Context, ref string, now time.Time) (bool, error) {
	ok, err := r.markIfUnset(ctx,
		`UPDATE tasks SET tier2_escalated_at=?, updated_at=? WHERE ref=? AND tier2_escalated_at IS NULL`,
		fmtTime(now), fmtTime(now), ref)
	if err != nil {
		return false, fmt.Errorf("stamp tier2 %s: %w", ref, err)
	}
	return ok, nil
}
