package auth_test

import (
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

func user(id string, role domain.Role, unit string) domain.User {
	return domain.User{ID: id, Role: role, Unit: unit, Active: true}
}

var (
	admin  = user("admin", domain.RoleAdmin, "hq")
	sm1    = user("sm1", domain.RoleSeniorManager1, "hq")
	sm2    = user("sm2", domain.RoleSeniorManager2, "hq")
	mgr    = user("mgr", domain.RoleManager, "ops")
	outMgr = user("outmgr", domain.RoleManager, "sales")
	emp    = user("emp", domain.RoleEmployee, "ops")
	peer   = user("peer", domain.RoleEmployee, "ops")
)

func delegated(status domain.Status) domain.Task {
	return domain.Task{
		Ref: "TASK-20260101-0001", AssigneeID: "emp", CreatorID: "mgr",
		Unit: "ops", Type: domain.TypeDelegated, Status: status,
	}
}

func personal(status domain.Status) domain.Task {
	return domain.Task{
		Ref: "TASK-20260101-0002", AssigneeID: "emp", CreatorID: "emp",
		Unit: "ops", Type: domain.TypePersonal, Status: status,
	}
}

func TestCanAssignTo(t *testing.T) {
	cases := []struct {
		name          string
		actor, target domain.User
		want          bool
	}{
		{"self always", emp, emp, true},
		{"employee to peer", emp, peer, false},
		{"manager within unit", mgr, emp, true},
		{"manager across units", outMgr, emp, false},
		{"manager with empty unit", user("m0", domain.RoleManager, ""), user("e0", domain.RoleEmployee, ""), false},
		{"senior anywhere", sm1, emp, true},
		{"senior anywhere 2", sm2, outMgr, true},
		{"admin anywhere", admin, emp, true},
	}
	for _, tc := range cases {
		if got := auth.CanAssignTo(tc.actor, tc.target); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanView(t *testing.T) {
	task := delegated(domain.StatusPending)
	cases := []struct {
		name  string
		actor domain.User
		want  bool
	}{
		{"assignee", emp, true},
		{"creator", mgr, true},
		{"peer in unit", peer, false},
		{"manager other unit", outMgr, false},
		{"senior", sm1, true},
		{"admin", admin, true},
	}
	for _, tc := range cases {
		if got := auth.CanView(tc.actor, task); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanEdit(t *testing.T) {
	if auth.CanEdit(emp, delegated(domain.StatusPending)) {
		t.Error("assignee must not edit a delegated task")
	}
	if !auth.CanEdit(mgr, delegated(domain.StatusPending)) {
		t.Error("creator edits their task")
	}
	if !auth.CanEdit(admin, delegated(domain.StatusInProgress)) {
		t.Error("admin edits anything live")
	}
	for _, status := range []domain.Status{domain.StatusCancelled, domain.StatusVerified} {
		if auth.CanEdit(admin, delegated(status)) {
			t.Errorf("%s tasks are frozen even for admins", status)
		}
	}
	if auth.CanEdit(emp, personal(domain.StatusCompleted)) {
		t.Error("completed personal tasks are frozen")
	}
	if !auth.CanEdit(emp, personal(domain.StatusInProgress)) {
		t.Error("owner edits a live personal task")
	}
}

func TestCanChangeStatus(t *testing.T) {
	if !auth.CanChangeStatus(emp, delegated(domain.StatusPending)) {
		t.Error("assignee drives the workflow")
	}
	if !auth.CanChangeStatus(mgr, delegated(domain.StatusPending)) {
		t.Error("creator of a delegated task may act")
	}
	if auth.CanChangeStatus(peer, delegated(domain.StatusPending)) {
		t.Error("bystander must not act")
	}
	// completed delegated: verification gate
	if auth.CanChangeStatus(emp, delegated(domain.StatusCompleted)) {
		t.Error("assignee must not pass the verification gate")
	}
	if !auth.CanChangeStatus(mgr, delegated(domain.StatusCompleted)) {
		t.Error("creator verifies")
	}
	if !auth.CanChangeStatus(admin, delegated(domain.StatusCompleted)) {
		t.Error("admin verifies")
	}
	// terminal states
	if auth.CanChangeStatus(admin, delegated(domain.StatusVerified)) {
		t.Error("verified is terminal")
	}
	if auth.CanChangeStatus(admin, personal(domain.StatusCompleted)) {
		t.Error("completed personal is terminal")
	}
}

func TestCanReassign(t *testing.T) {
	if !auth.CanReassign(mgr, delegated(domain.StatusPending)) {
		t.Error("creator reassigns")
	}
	if auth.CanReassign(emp, delegated(domain.StatusPending)) {
		t.Error("assignee must not reassign")
	}
	if auth.CanReassign(admin, personal(domain.StatusPending)) {
		t.Error("personal tasks are never reassigned")
	}
	if auth.CanReassign(admin, delegated(domain.StatusCancelled)) {
		t.Error("cancelled tasks are frozen")
	}
	if !auth.CanReassign(admin, delegated(domain.StatusCompleted)) {
		t.Error("admin may still reroute a completed delegated task")
	}
}

func TestCanCancel(t *testing.T) {
	if !auth.CanCancel(mgr, delegated(domain.StatusPending)) {
		t.Error("creator cancels delegated work")
	}
	if auth.CanCancel(emp, delegated(domain.StatusPending)) {
		t.Error("assignee must not cancel delegated work")
	}
	if !auth.CanCancel(emp, personal(domain.StatusInProgress)) {
		t.Error("owner cancels their personal task")
	}
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusVerified, domain.StatusCancelled} {
		if auth.CanCancel(admin, delegated(status)) {
			t.Errorf("%s tasks must not be cancellable", status)
		}
	}
}

func TestCanCommentAndAttach(t *testing.T) {
	task := delegated(domain.StatusInProgress)
	if !auth.CanComment(emp, task) || !auth.CanComment(mgr, task) {
		t.Error("participants comment")
	}
	if auth.CanComment(peer, task) {
		t.Error("bystander must not comment")
	}
	if !auth.CanComment(sm2, task) {
		t.Error("senior oversight comments anywhere")
	}
	if auth.CanComment(emp, delegated(domain.StatusCancelled)) {
		t.Error("no comments on cancelled tasks")
	}
	// completed still accepts commentary and evidence
	if !auth.CanComment(emp, delegated(domain.StatusCompleted)) || !auth.CanAttach(emp, delegated(domain.StatusCompleted)) {
		t.Error("completed tasks still take comments and attachments")
	}
	// verified locks attachments but not comments
	if !auth.CanComment(emp, delegated(domain.StatusVerified)) {
		t.Error("verified tasks still take comments")
	}
	if auth.CanAttach(emp, delegated(domain.StatusVerified)) {
		t.Error("verified tasks take no new attachments")
	}
}

func TestAssignableUsers(t *testing.T) {
	inactive := domain.User{ID: "gone", Role: domain.RoleEmployee, Unit: "ops", Active: false}
	pool := []domain.User{admin, sm1, mgr, emp, peer, outMgr, inactive}

	got := auth.AssignableUsers(emp, pool)
	if len(got) != 1 || got[0].ID != "emp" {
		t.Fatalf("employee pool should be just self, got %d", len(got))
	}

	got = auth.AssignableUsers(mgr, pool)
	for _, u := range got {
		if u.ID != "mgr" && u.Unit != "ops" {
			t.Fatalf("manager pool leaked %s", u.ID)
		}
	}

	got = auth.AssignableUsers(admin, pool)
	if len(got) != len(pool)-1 {
		t.Fatalf("admin pool should be every active user, got %d", len(got))
	}
}
