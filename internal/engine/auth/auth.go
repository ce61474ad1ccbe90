// Package auth holds the pure authorization predicates. Every mutating path
// in the engine funnels through here instead of scattering role checks at
// call sites; a false answer is turned into a DeniedError by the caller.
package auth

import (
	"fmt"

	"taskline/internal/domain"
)

// DeniedError indicates a guard said no. The message is intentionally
// generic; the predicates never explain which rule failed.
type DeniedError struct {
	Operation string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Operation)
}

// CanAssignTo reports whether actor may assign work to target.
// Self-assignment is always allowed; employees reach only themselves,
// managers their own unit, senior managers and admins anyone.
func CanAssignTo(actor, target domain.User) bool {
	if actor.ID == target.ID {
		return true
	}
	switch actor.Role {
	case domain.RoleEmployee:
		return false
	case domain.RoleAdmin, domain.RoleSeniorManager1, domain.RoleSeniorManager2:
		return true
	case domain.RoleManager:
		return actor.Unit != "" && actor.Unit == target.Unit
	}
	return false
}

// AssignableUsers filters candidates down to those the actor can assign to.
func AssignableUsers(actor domain.User, candidates []domain.User) []domain.User {
	var out []domain.User
	for _, u := range candidates {
		if !u.Active {
			continue
		}
		if CanAssignTo(actor, u) {
			out = append(out, u)
		}
	}
	return out
}

// CanView reports whether actor may see the task at all.
func CanView(actor domain.User, t domain.Task) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSeniorManager1, domain.RoleSeniorManager2:
		return true
	case domain.RoleManager:
		if actor.Unit != "" && t.Unit == actor.Unit {
			return true
		}
	}
	return t.AssigneeID == actor.ID || t.CreatorID == actor.ID
}

// CanEdit reports whether actor may update task fields. Terminal tasks are
// frozen, including completed personal ones.
func CanEdit(actor domain.User, t domain.Task) bool {
	if t.Status == domain.StatusCancelled || t.Status == domain.StatusVerified {
		return false
	}
	if t.IsPersonal() && t.Status == domain.StatusCompleted {
		return false
	}
	return actor.Role == domain.RoleAdmin || t.CreatorID == actor.ID
}

// CanChangeStatus reports whether actor may move the task through its
// workflow. A completed delegated task sits behind the verification gate:
// only its creator or an admin may act on it.
func CanChangeStatus(actor domain.User, t domain.Task) bool {
	if t.Terminal() {
		return false
	}
	if t.Status == domain.StatusCompleted && t.IsDelegated() {
		return t.CreatorID == actor.ID || actor.Role == domain.RoleAdmin
	}
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if t.AssigneeID == actor.ID {
		return true
	}
	return t.CreatorID == actor.ID && t.IsDelegated()
}

// CanReassign reports whether actor may hand the task to someone else.
// Personal tasks are never reassigned; they would silently become delegated.
func CanReassign(actor domain.User, t domain.Task) bool {
	if t.Status == domain.StatusCancelled || t.Status == domain.StatusVerified {
		return false
	}
	if t.IsPersonal() {
		return false
	}
	return actor.Role == domain.RoleAdmin || t.CreatorID == actor.ID
}

// CanCancel reports whether actor may cancel the task. Completed work can no
// longer be cancelled.
func CanCancel(actor domain.User, t domain.Task) bool {
	switch t.Status {
	case domain.StatusCompleted, domain.StatusVerified, domain.StatusCancelled:
		return false
	}
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if t.IsPersonal() {
		return t.AssigneeID == actor.ID
	}
	return t.CreatorID == actor.ID
}

// CanComment is strictly narrower than CanView: unit managers who can see a
// task but are neither creator nor assignee may not comment on it.
func CanComment(actor domain.User, t domain.Task) bool {
	if t.Status == domain.StatusCancelled {
		return false
	}
	if actor.Role == domain.RoleAdmin || actor.Role.SeniorOversight() {
		return true
	}
	return t.CreatorID == actor.ID || t.AssigneeID == actor.ID
}

// CanAttach mirrors CanComment but also locks verified tasks.
func CanAttach(actor domain.User, t domain.Task) bool {
	if t.Status == domain.StatusCancelled || t.Status == domain.StatusVerified {
		return false
	}
	if actor.Role == domain.RoleAdmin || actor.Role.SeniorOversight() {
		return true
	}
	return t.CreatorID == actor.ID || t.AssigneeID == actor.ID
}
