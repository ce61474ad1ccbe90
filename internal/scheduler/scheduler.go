package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

// Scheduler runs the periodic escalation jobs. Each job is a pure sweep over
// the task table: candidates are selected by their unset milestone flag, the
// notification goes out, and only a successful delivery sets the flag via a
// compare-and-set write. A failed delivery leaves the flag unset so the next
// sweep retries; concurrent sweeps racing the same row reconcile on the flag
// write.
type Scheduler struct {
	Repo     repo.Repo
	Notifier notify.Gateway
	Config   *config.Config
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(r repo.Repo, cfg *config.Config, gw notify.Gateway) *Scheduler {
	return &Scheduler{
		Repo:     r,
		Notifier: gw,
		Config:   cfg,
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ReminderStats summarizes one deadline-reminder sweep.
type ReminderStats struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RunDeadlineReminders notifies assignees whose task deadline falls inside
// the reminder window. The reminder flag is set only after a successful
// delivery, so each task gets exactly one reminder: failures stay eligible
// for the next sweep and a set flag ends the matter.
func (s *Scheduler) RunDeadlineReminders(ctx context.Context) (ReminderStats, error) {
	var stats ReminderStats
	now := s.now()
	start, end := s.Config.ReminderWindow()
	tasks, err := s.Repo.DueForReminder(ctx, now, start, end)
	if err != nil {
		return stats, fmt.Errorf("select reminder candidates: %w", err)
	}
	stats.Scanned = len(tasks)
	for _, t := range tasks {
		assignee, err := s.Repo.GetUser(ctx, t.AssigneeID)
		if err != nil {
			stats.Errors++
			s.logger().Error("reminder assignee lookup failed", slog.String("task", t.Ref), slog.String("error", err.Error()))
			continue
		}
		err = s.send(ctx, notify.KindDeadlineReminder, []string{assignee.Email}, notify.Payload{
			Title:    "Deadline approaching: " + t.Ref,
			Message:  fmt.Sprintf("%q is due %s.", t.Title, t.Deadline.UTC().Format("02 Jan 2006, 15:04")),
			TaskRef:  t.Ref,
			Priority: string(t.Priority),
		})
		if err != nil {
			stats.Errors++
			continue
		}
		claimed, err := s.Repo.MarkReminderSent(ctx, t.Ref, now)
		if err != nil {
			stats.Errors++
			s.logger().Error("reminder flag write failed", slog.String("task", t.Ref), slog.String("error", err.Error()))
			continue
		}
		if claimed {
			stats.Sent++
		} else {
			stats.Skipped++
		}
	}
	s.logger().Info("deadline reminder sweep finished",
		slog.Int("scanned", stats.Scanned), slog.Int("sent", stats.Sent),
		slog.Int("skipped", stats.Skipped), slog.Int("errors", stats.Errors))
	return stats, nil
}

// OverdueStats summarizes one overdue sweep.
type OverdueStats struct {
	Scanned     int `json:"scanned"`
	FirstNotice int `json:"first_notice"`
	FollowUps   int `json:"follow_ups"`
	Tier1       int `json:"tier1_escalations"`
	Tier2       int `json:"tier2_escalations"`
	Errors      int `json:"errors"`
}

// RunOverdueCheck walks every active overdue task. The assignee always hears
// about it (a sterner first notice, softer follow-ups afterwards); once a
// task crosses the tier thresholds the configured oversight roles are pulled
// in, each tier exactly once per task.
func (s *Scheduler) RunOverdueCheck(ctx context.Context) (OverdueStats, error) {
	var stats OverdueStats
	now := s.now()
	tasks, err := s.Repo.OverdueTasks(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("select overdue tasks: %w", err)
	}
	stats.Scanned = len(tasks)
	for _, t := range tasks {
		if err := s.processOverdue(ctx, t, now, &stats); err != nil {
			stats.Errors++
			s.logger().Error("overdue processing failed", slog.String("task", t.Ref), slog.String("error", err.Error()))
		}
	}
	s.logger().Info("overdue sweep finished",
		slog.Int("scanned", stats.Scanned), slog.Int("first", stats.FirstNotice),
		slog.Int("follow_ups", stats.FollowUps), slog.Int("tier1", stats.Tier1),
		slog.Int("tier2", stats.Tier2), slog.Int("errors", stats.Errors))
	return stats, nil
}

func (s *Scheduler) processOverdue(ctx context.Context, t domain.Task, now time.Time, stats *OverdueStats) error {
	assignee, err := s.Repo.GetUser(ctx, t.AssigneeID)
	if err != nil {
		return fmt.Errorf("assignee lookup: %w", err)
	}
	overdueFor := now.Sub(t.Deadline.UTC())

	// Both sides of a delegation hear about an overdue task.
	recipients := []string{assignee.Email}
	if t.CreatorID != t.AssigneeID {
		if creator, err := s.Repo.GetUser(ctx, t.CreatorID); err == nil {
			recipients = append(recipients, creator.Email)
		}
	}

	if t.FirstOverdueSent {
		err = s.send(ctx, notify.KindOverdueFollowup, recipients, notify.Payload{
			Title:    "Still overdue: " + t.Ref,
			Message:  fmt.Sprintf("Reminder: %q is %s overdue.", t.Title, humanize(overdueFor)),
			TaskRef:  t.Ref,
			Priority: string(t.Priority),
		})
		if err != nil {
			return err
		}
		stats.FollowUps++
	} else {
		err = s.send(ctx, notify.KindOverdueFirst, recipients, notify.Payload{
			Title:    "Task overdue: " + t.Ref,
			Message:  fmt.Sprintf("%q passed its deadline %s ago. Please complete it or flag a blocker.", t.Title, humanize(overdueFor)),
			TaskRef:  t.Ref,
			Priority: string(t.Priority),
		})
		if err != nil {
			return err
		}
		if _, err := s.Repo.MarkFirstOverdueSent(ctx, t.Ref, now); err != nil {
			return err
		}
		stats.FirstNotice++
	}

	if overdueFor >= s.Config.Tier1After() && t.Tier1EscalatedAt == nil {
		if err := s.escalate(ctx, t, assignee, overdueFor, domain.RoleSeniorManager2, notify.KindEscalationTier1); err != nil {
			return err
		}
		claimed, err := s.Repo.StampTier1(ctx, t.Ref, now)
		if err != nil {
			return err
		}
		if claimed {
			stats.Tier1++
		}
	}
	if overdueFor >= s.Config.Tier2After() && t.Tier2EscalatedAt == nil {
		if err := s.escalate(ctx, t, assignee, overdueFor, domain.RoleSeniorManager1, notify.KindEscalationTier2); err != nil {
			return err
		}
		claimed, err := s.Repo.StampTier2(ctx, t.Ref, now)
		if err != nil {
			return err
		}
		if claimed {
			stats.Tier2++
		}
	}
	return nil
}

func (s *Scheduler) escalate(ctx context.Context, t domain.Task, assignee domain.User, overdueFor time.Duration, role domain.Role, kind notify.Kind) error {
	managers, err := s.Repo.ActiveUsersByRole(ctx, role)
	if err != nil {
		return fmt.Errorf("lookup %s users: %w", role, err)
	}
	if len(managers) == 0 {
		s.logger().Warn("no recipients for escalation",
			slog.String("task", t.Ref), slog.String("role", string(role)))
		return nil
	}
	emails := make([]string, 0, len(managers))
	for _, m := range managers {
		emails = append(emails, m.Email)
	}
	return s.send(ctx, kind, emails, notify.Payload{
		Title: "Escalation: " + t.Ref,
		Message: fmt.Sprintf("%q assigned to %s (%s) has been overdue for %s.",
			t.Title, assignee.Name, t.Unit, humanize(overdueFor)),
		TaskRef:  t.Ref,
		Priority: string(t.Priority),
	})
}

// DigestStats summarizes one daily-digest sweep.
type DigestStats struct {
	Users   int `json:"users"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RunDailyDigest sends each active user a summary of their open work: tasks
// assigned to them and tasks they delegated that are still open. Users with
// nothing open are skipped.
func (s *Scheduler) RunDailyDigest(ctx context.Context) (DigestStats, error) {
	var stats DigestStats
	now := s.now()
	users, err := s.Repo.ActiveUsers(ctx)
	if err != nil {
		return stats, fmt.Errorf("list users: %w", err)
	}
	stats.Users = len(users)
	for _, u := range users {
		assigned, err := s.Repo.ActiveAssignedTo(ctx, u.ID)
		if err != nil {
			stats.Errors++
			s.logger().Error("digest query failed", slog.String("user", u.ID), slog.String("error", err.Error()))
			continue
		}
		delegated, err := s.Repo.ActiveDelegatedBy(ctx, u.ID)
		if err != nil {
			stats.Errors++
			s.logger().Error("digest query failed", slog.String("user", u.ID), slog.String("error", err.Error()))
			continue
		}
		if len(assigned) == 0 && len(delegated) == 0 {
			stats.Skipped++
			continue
		}
		err = s.send(ctx, notify.KindDailyDigest, []string{u.Email}, notify.Payload{
			Title:   fmt.Sprintf("Daily digest for %s", now.Format("02 Jan 2006")),
			Message: digestBody(assigned, delegated, now),
		})
		if err != nil {
			stats.Errors++
			continue
		}
		stats.Sent++
	}
	s.logger().Info("digest sweep finished",
		slog.Int("users", stats.Users), slog.Int("sent", stats.Sent),
		slog.Int("skipped", stats.Skipped), slog.Int("errors", stats.Errors))
	return stats, nil
}

func digestBody(assigned, delegated []domain.Task, now time.Time) string {
	var b strings.Builder
	if len(assigned) > 0 {
		fmt.Fprintf(&b, "Assigned to you (%d):\n", len(assigned))
		for _, t := range assigned {
			b.WriteString(digestLine(t, now))
		}
	}
	if len(delegated) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Delegated by you (%d):\n", len(delegated))
		for _, t := range delegated {
			b.WriteString(digestLine(t, now))
		}
	}
	return b.String()
}

func digestLine(t domain.Task, now time.Time) string {
	due := "no deadline"
	if t.Deadline != nil {
		due = "due " + t.Deadline.UTC().Format("02 Jan 15:04")
		if t.IsOverdue(now) {
			due = "OVERDUE, was " + due
		}
	}
	return fmt.Sprintf("  %s  %s [%s, %s]\n", t.Ref, t.Title, t.Priority, due)
}

func humanize(d time.Duration) string {
	hours := int(d.Hours())
	if hours < 1 {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if hours < 48 {
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d days", hours/24)
}

// send logs delivery failures and reports them so callers can leave the
// corresponding milestone unclaimed.
func (s *Scheduler) send(ctx context.Context, kind notify.Kind, recipients []string, p notify.Payload) error {
	if err := s.Notifier.Send(ctx, kind, recipients, p); err != nil {
		s.logger().Warn("notification delivery failed",
			slog.String("kind", string(kind)), slog.String("task", p.TaskRef),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Start runs all three jobs on their configured intervals until the context
// is cancelled. Jobs run once immediately on startup.
func (s *Scheduler) Start(ctx context.Context) {
	s.runAll(ctx)

	reminder := time.NewTicker(s.Config.ReminderInterval())
	overdue := time.NewTicker(s.Config.OverdueInterval())
	digest := time.NewTicker(s.Config.DigestInterval())
	defer reminder.Stop()
	defer overdue.Stop()
	defer digest.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reminder.C:
			if _, err := s.RunDeadlineReminders(ctx); err != nil {
				s.logger().Error("deadline reminder sweep failed", slog.String("error", err.Error()))
			}
		case <-overdue.C:
			if _, err := s.RunOverdueCheck(ctx); err != nil {
				s.logger().Error("overdue sweep failed", slog.String("error", err.Error()))
			}
		case <-digest.C:
			if _, err := s.RunDailyDigest(ctx); err != nil {
				s.logger().Error("digest sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	if _, err := s.RunDeadlineReminders(ctx); err != nil {
		s.logger().Error("deadline reminder sweep failed", slog.String("error", err.Error()))
	}
	if _, err := s.RunOverdueCheck(ctx); err != nil {
		s.logger().Error("overdue sweep failed", slog.String("error", err.Error()))
	}
	if _, err := s.RunDailyDigest(ctx); err != nil {
		s.logger().Error("digest sweep failed", slog.String("error", err.Error()))
	}
}
