package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/migrate"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Sent   *notify.Recorder
	Ctx    context.Context
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &notify.Recorder{}
	eng := engine.New(conn, config.Default(), rec)
	eng.Now = func() time.Time { return testNow }
	env := testEnv{Engine: eng, Sent: rec, Ctx: context.Background()}

	for _, u := range []struct {
		id, unit string
		role     domain.Role
	}{
		{"admin", "hq", domain.RoleAdmin},
		{"mgr", "ops", domain.RoleManager},
		{"emp", "ops", domain.RoleEmployee},
		{"emp2", "ops", domain.RoleEmployee},
		{"sales", "sales", domain.RoleEmployee},
		{"sm1", "hq", domain.RoleSeniorManager1},
		{"sm2", "hq", domain.RoleSeniorManager2},
	} {
		env.seedUser(t, u.id, u.role, u.unit, true)
	}
	return env
}

func (env testEnv) seedUser(t *testing.T, id string, role domain.Role, unit string, active bool) {
	t.Helper()
	err := env.Engine.Repo.InsertUser(env.Ctx, domain.User{
		ID:        id,
		Name:      strings.ToUpper(id[:1]) + id[1:],
		Email:     id + "@example.test",
		Role:      role,
		Unit:      unit,
		Active:    active,
		CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func (env testEnv) mustCreate(t *testing.T, creator, assignee string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Prepare report",
		AssigneeID: assignee,
		CreatorID:  creator,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskReferenceAndType(t *testing.T) {
	env := newTestEnv(t)
	first := env.mustCreate(t, "emp", "emp")
	if first.Ref != "TASK-20260302-0001" {
		t.Fatalf("unexpected ref %s", first.Ref)
	}
	if first.Type != domain.TypePersonal {
		t.Fatalf("self-assigned task should be personal, got %s", first.Type)
	}
	if first.Unit != "ops" {
		t.Fatalf("task should mirror assignee unit, got %q", first.Unit)
	}
	if len(env.Sent.All()) != 0 {
		t.Fatalf("personal creation must not notify, got %d", len(env.Sent.All()))
	}

	second := env.mustCreate(t, "mgr", "emp")
	if second.Ref != "TASK-20260302-0002" {
		t.Fatalf("same-day counter broken: %s", second.Ref)
	}
	if second.Type != domain.TypeDelegated {
		t.Fatalf("expected delegated, got %s", second.Type)
	}
	assigned := env.Sent.ByKind(notify.KindAssigned)
	if len(assigned) != 1 || assigned[0].Recipients[0] != "emp@example.test" {
		t.Fatalf("expected one assigned notification to emp, got %+v", assigned)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.TaskCreateOptions
	}{
		{"empty title", engine.TaskCreateOptions{Title: "  ", AssigneeID: "emp", CreatorID: "emp"}},
		{"unknown assignee", engine.TaskCreateOptions{Title: "x", AssigneeID: "ghost", CreatorID: "emp"}},
		{"past deadline", engine.TaskCreateOptions{Title: "x", AssigneeID: "emp", CreatorID: "emp",
			Deadline: func() *time.Time { d := testNow.Add(-time.Hour); return &d }()}},
	}
	for _, tc := range cases {
		if _, err := env.Engine.CreateTask(env.Ctx, tc.opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	env.seedUser(t, "gone", domain.RoleEmployee, "ops", false)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssigneeID: "gone", CreatorID: "mgr",
	}); err == nil {
		t.Fatalf("expected inactive assignee rejection")
	}
}

func TestAssignmentAuthority(t *testing.T) {
	env := newTestEnv(t)
	// employee cannot delegate
	var denied auth.DeniedError
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssigneeID: "emp2", CreatorID: "emp",
	}); !errors.As(err, &denied) {
		t.Fatalf("expected denied, got %v", err)
	}
	// manager delegates within unit
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssigneeID: "emp", CreatorID: "mgr",
	}); err != nil {
		t.Fatalf("manager in-unit assign: %v", err)
	}
	// manager cannot cross units
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssigneeID: "sales", CreatorID: "mgr",
	}); err == nil {
		t.Fatalf("expected cross-unit denial")
	}
	// senior managers and admin assign anywhere
	for _, creator := range []string{"sm1", "sm2", "admin"} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Title: "x", AssigneeID: "sales", CreatorID: creator,
		}); err != nil {
			t.Fatalf("%s cross-unit assign: %v", creator, err)
		}
	}
}

func TestDelegatedLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")
	env.Sent.Reset()

	task, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusInProgress)
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusCompleted)
	if err != nil || task.Status != domain.StatusCompleted {
		t.Fatalf("to completed: %v", err)
	}
	if task.CompletedAt == nil || !task.CompletedAt.Equal(testNow) {
		t.Fatalf("completed_at not stamped")
	}
	done := env.Sent.ByKind(notify.KindCompleted)
	if len(done) != 1 || done[0].Recipients[0] != "mgr@example.test" {
		t.Fatalf("creator should hear about completion, got %+v", done)
	}

	// the assignee cannot verify their own work
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusVerified); err == nil {
		t.Fatalf("assignee must not verify")
	}
	task, err = env.Engine.ChangeStatus(env.Ctx, task.Ref, "mgr", domain.StatusVerified)
	if err != nil || task.Status != domain.StatusVerified {
		t.Fatalf("creator verify: %v", err)
	}
	verified := env.Sent.ByKind(notify.KindVerified)
	if len(verified) != 1 || verified[0].Recipients[0] != "emp@example.test" {
		t.Fatalf("assignee should hear about verification, got %+v", verified)
	}

	// verified is terminal
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "admin", domain.StatusInProgress); err == nil {
		t.Fatalf("verified task must not move")
	}
}

func TestPersonalCompletedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "emp", "emp")
	var err error
	task, err = env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Sent.ByKind(notify.KindCompleted)) != 0 {
		t.Fatalf("personal completion must not notify")
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusVerified); err == nil {
		t.Fatalf("personal tasks have no verified step")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.Ref, "emp", engine.TaskUpdate{
		Title: strptr("new title"),
	}); err == nil {
		t.Fatalf("completed personal task must be read-only")
	}
}

func TestStatusTransitionGuards(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")

	// no skipping steps
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "emp", domain.StatusCompleted); err == nil {
		t.Fatalf("pending -> completed must be rejected")
	}
	// cancelled is not a transition target
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "mgr", domain.StatusCancelled); err == nil {
		t.Fatalf("cancel must go through Cancel")
	}
	// only the assignee (or admin) progresses work
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "mgr", domain.StatusInProgress); err == nil {
		t.Fatalf("creator must not start the assignee's work")
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.Ref, "admin", domain.StatusInProgress); err != nil {
		t.Fatalf("admin may progress: %v", err)
	}
}

func TestUpdateTaskRecordsChanges(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")

	deadline := testNow.Add(48 * time.Hour)
	high := domain.PriorityHigh
	updated, err := env.Engine.UpdateTask(env.Ctx, task.Ref, "mgr", engine.TaskUpdate{
		Title:    strptr("Prepare quarterly report"),
		Priority: &high,
		Deadline: &deadline,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != domain.PriorityHigh || updated.Deadline == nil {
		t.Fatalf("fields not applied: %+v", updated)
	}
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, task.Ref, 10)
	if err != nil {
		t.Fatal(err)
	}
	updates := 0
	for _, a := range acts {
		if a.Action == domain.ActionUpdated {
			updates++
		}
	}
	if updates != 3 {
		t.Fatalf("expected one activity entry per change, got %d", updates)
	}

	// the assignee of a delegated task cannot edit fields
	if _, err := env.Engine.UpdateTask(env.Ctx, task.Ref, "emp", engine.TaskUpdate{
		Title: strptr("sneaky"),
	}); err == nil {
		t.Fatalf("assignee must not edit a delegated task")
	}
	// no-op update adds no activity
	before := len(acts)
	if _, err := env.Engine.UpdateTask(env.Ctx, task.Ref, "mgr", engine.TaskUpdate{
		Priority: &high,
	}); err != nil {
		t.Fatal(err)
	}
	acts, _ = env.Engine.Repo.ListActivities(env.Ctx, task.Ref, 10)
	if len(acts) != before {
		t.Fatalf("no-op update must not append activity")
	}
}

func TestReassignKeepsEscalationState(t *testing.T) {
	env := newTestEnv(t)
	deadline := testNow.Add(24 * time.Hour)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Handoff", AssigneeID: "emp", CreatorID: "mgr", Deadline: &deadline,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.MarkReminderSent(env.Ctx, task.Ref, testNow); err != nil {
		t.Fatal(err)
	}
	env.Sent.Reset()

	task, err = env.Engine.Reassign(env.Ctx, task.Ref, "mgr", "emp2")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if task.AssigneeID != "emp2" || task.Unit != "ops" {
		t.Fatalf("assignee/unit not updated: %+v", task)
	}
	if !task.ReminderSent {
		t.Fatalf("reminder flag must survive reassignment")
	}
	if task.Deadline == nil || !task.Deadline.Equal(deadline) {
		t.Fatalf("deadline must survive reassignment")
	}
	sent := env.Sent.All()
	if len(sent) != 1 || sent[0].Kind != notify.KindReassigned || sent[0].Recipients[0] != "emp2@example.test" {
		t.Fatalf("only the new assignee is notified, got %+v", sent)
	}

	// reassigning to self flips the task personal
	task, err = env.Engine.Reassign(env.Ctx, task.Ref, "mgr", "mgr")
	if err != nil {
		t.Fatal(err)
	}
	if task.Type != domain.TypePersonal {
		t.Fatalf("creator-assigned task should be personal, got %s", task.Type)
	}
	// same assignee again is rejected
	if _, err := env.Engine.Reassign(env.Ctx, task.Ref, "mgr", "mgr"); err == nil {
		t.Fatalf("expected same-assignee rejection")
	}
}

func TestCancelRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")
	env.Sent.Reset()

	// the assignee of a delegated task cannot cancel it
	if _, err := env.Engine.Cancel(env.Ctx, task.Ref, "emp", "nope"); err == nil {
		t.Fatalf("assignee must not cancel a delegated task")
	}
	cancelled, err := env.Engine.Cancel(env.Ctx, task.Ref, "mgr", "priorities changed")
	if err != nil {
		t.Fatalf("creator cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.CancelledAt == nil || cancelled.CancelledBy != "mgr" {
		t.Fatalf("cancel bookkeeping wrong: %+v", cancelled)
	}
	sent := env.Sent.ByKind(notify.KindCancelled)
	if len(sent) != 1 || sent[0].Recipients[0] != "emp@example.test" {
		t.Fatalf("assignee should hear about cancellation, got %+v", sent)
	}
	// cancelled is frozen
	if _, err := env.Engine.AddComment(env.Ctx, task.Ref, "mgr", "too late"); err == nil {
		t.Fatalf("no comments on cancelled tasks")
	}
	if _, err := env.Engine.Cancel(env.Ctx, task.Ref, "admin", ""); err == nil {
		t.Fatalf("double cancel must fail")
	}

	// a completed task cannot be cancelled
	done := env.mustCreate(t, "mgr", "emp")
	_, _ = env.Engine.ChangeStatus(env.Ctx, done.Ref, "emp", domain.StatusInProgress)
	_, _ = env.Engine.ChangeStatus(env.Ctx, done.Ref, "emp", domain.StatusCompleted)
	if _, err := env.Engine.Cancel(env.Ctx, done.Ref, "mgr", ""); err == nil {
		t.Fatalf("completed task must not be cancellable")
	}

	// self-cancelling a personal task sends nothing
	env.Sent.Reset()
	personal := env.mustCreate(t, "emp", "emp")
	if _, err := env.Engine.Cancel(env.Ctx, personal.Ref, "emp", ""); err != nil {
		t.Fatal(err)
	}
	if len(env.Sent.All()) != 0 {
		t.Fatalf("self-cancel must not notify")
	}
}

func TestComments(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")

	c, err := env.Engine.AddComment(env.Ctx, task.Ref, "emp", "  working on it  ")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.Content != "working on it" {
		t.Fatalf("comment not trimmed: %q", c.Content)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.Ref, "emp", "   "); err == nil {
		t.Fatalf("empty comment must fail")
	}
	// an unrelated employee has no comment access
	if _, err := env.Engine.AddComment(env.Ctx, task.Ref, "sales", "hi"); err == nil {
		t.Fatalf("outsider must not comment")
	}
	// senior oversight may comment anywhere
	if _, err := env.Engine.AddComment(env.Ctx, task.Ref, "sm2", "status?"); err != nil {
		t.Fatalf("senior comment: %v", err)
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, task.Ref)
	if err != nil || len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d (%v)", len(comments), err)
	}
}

func TestAttachmentAddReplaceRemove(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")

	if _, err := env.Engine.AttachFile(env.Ctx, task.Ref, "emp", "huge.pdf", 3*1024*1024); err == nil {
		t.Fatalf("oversized attachment must fail")
	}
	if _, err := env.Engine.AttachFile(env.Ctx, task.Ref, "emp", "script.exe", 100); err == nil {
		t.Fatalf("disallowed extension must fail")
	}
	a, err := env.Engine.AttachFile(env.Ctx, task.Ref, "emp", "report.pdf", 1024)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if a.Filename != "report.pdf" {
		t.Fatalf("unexpected attachment %+v", a)
	}
	// second attach replaces the first
	if _, err := env.Engine.AttachFile(env.Ctx, task.Ref, "emp", "report-v2.PDF", 2048); err != nil {
		t.Fatalf("replace: %v", err)
	}
	current, err := env.Engine.Repo.GetAttachment(env.Ctx, task.Ref)
	if err != nil || current.Filename != "report-v2.PDF" {
		t.Fatalf("expected replacement to win, got %+v (%v)", current, err)
	}
	acts, _ := env.Engine.Repo.ListActivities(env.Ctx, task.Ref, 10)
	var replaced bool
	for _, act := range acts {
		if act.Action == domain.ActionAttachmentReplaced {
			replaced = true
		}
	}
	if !replaced {
		t.Fatalf("replacement must be logged as attachment_replaced")
	}

	if err := env.Engine.RemoveAttachment(env.Ctx, task.Ref, "emp"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.Repo.GetAttachment(env.Ctx, task.Ref); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("attachment should be gone, got %v", err)
	}
	if err := env.Engine.RemoveAttachment(env.Ctx, task.Ref, "emp"); err == nil {
		t.Fatalf("removing a missing attachment must fail")
	}
}

func TestNotificationFailureDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	env.Sent.Fail = func(notify.Kind) bool { return true }
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Resilient", AssigneeID: "emp", CreatorID: "mgr",
	})
	if err != nil {
		t.Fatalf("mutation must survive notifier outage: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.Ref); err != nil {
		t.Fatalf("task must be persisted: %v", err)
	}
}

func TestViewTaskVisibility(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, "mgr", "emp")

	for _, actor := range []string{"mgr", "emp", "admin", "sm1"} {
		if _, err := env.Engine.ViewTask(env.Ctx, task.Ref, actor); err != nil {
			t.Errorf("%s should see the task: %v", actor, err)
		}
	}
	if _, err := env.Engine.ViewTask(env.Ctx, task.Ref, "sales"); err == nil {
		t.Fatalf("cross-unit employee must not see the task")
	}
	// emp2 shares the unit but is an employee, not a manager
	if _, err := env.Engine.ViewTask(env.Ctx, task.Ref, "emp2"); err == nil {
		t.Fatalf("unrelated employee must not see the task")
	}
}

func TestAssignableUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "retired", domain.RoleEmployee, "ops", false)

	users, err := env.Engine.AssignableUsers(env.Ctx, "emp")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "emp" {
		t.Fatalf("employee assigns only to self, got %+v", users)
	}

	users, err = env.Engine.AssignableUsers(env.Ctx, "mgr")
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if u.ID != "mgr" && u.Unit != "ops" {
			t.Fatalf("manager should only reach own unit, got %s", u.ID)
		}
		if u.ID == "retired" {
			t.Fatalf("inactive users are never assignable")
		}
	}
}

func strptr(s string) *string { return &s }
