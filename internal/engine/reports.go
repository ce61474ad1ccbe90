package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

const defaultReportLimit = 50

// reportScope resolves the unit a report covers. Unit leads are pinned to
// their own unit regardless of the requested filter; senior oversight and
// admins see everything and may narrow to one unit; base contributors get
// nothing.
func reportScope(actor domain.User, unit string) (string, error) {
	switch actor.Role {
	case domain.RoleManager:
		if actor.Unit == "" {
			return "", auth.DeniedError{Operation: "view reports"}
		}
		return actor.Unit, nil
	case domain.RoleSeniorManager1, domain.RoleSeniorManager2, domain.RoleAdmin:
		return unit, nil
	default:
		return "", auth.DeniedError{Operation: "view reports"}
	}
}

// ReportSummary returns task counts by status plus the overdue total for the
// actor's report scope.
func (e Engine) ReportSummary(ctx context.Context, actorID, unit string) (repo.SummaryStats, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return repo.SummaryStats{}, err
	}
	scope, err := reportScope(actor, unit)
	if err != nil {
		return repo.SummaryStats{}, err
	}
	return e.Repo.SummarizeTasks(ctx, e.now(), scope)
}

// ReportUserBreakdown returns per-user assigned-task counts for the actor's
// report scope.
func (e Engine) ReportUserBreakdown(ctx context.Context, actorID, unit string) ([]repo.UserTaskStats, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	scope, err := reportScope(actor, unit)
	if err != nil {
		return nil, err
	}
	return e.Repo.UserBreakdown(ctx, e.now(), scope)
}

// ReportOverdue lists the most overdue active tasks in the actor's report
// scope.
func (e Engine) ReportOverdue(ctx context.Context, actorID, unit string, limit int) ([]domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	scope, err := reportScope(actor, unit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultReportLimit
	}
	return e.Repo.OverdueReport(ctx, e.now(), scope, limit)
}

// ReportEscalated lists active tasks that reached tier 1 or tier 2 in the
// actor's report scope.
func (e Engine) ReportEscalated(ctx context.Context, actorID, unit string, limit int) ([]domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	scope, err := reportScope(actor, unit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultReportLimit
	}
	return e.Repo.EscalatedTasks(ctx, scope, limit)
}
