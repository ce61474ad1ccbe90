package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	for _, id := range []string{"mgr", "emp"} {
		err := r.InsertUser(context.Background(), domain.User{
			ID: id, Name: id, Email: id + "@example.test",
			Role: domain.RoleEmployee, Unit: "ops", Active: true, CreatedAt: testNow,
		})
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return r
}

func insertTask(t *testing.T, r repo.Repo, ref string) domain.Task {
	t.Helper()
	ctx := context.Background()
	task := domain.Task{
		Ref: ref, Title: "t", AssigneeID: "emp", CreatorID: "mgr",
		Unit: "ops", Type: domain.TypeDelegated, Status: domain.StatusPending,
		Priority: domain.PriorityMedium, CreatedAt: testNow, UpdatedAt: testNow,
		Source: "manual",
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertTask(ctx, tx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestEscalationFlagsSingleWinner(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := insertTask(t, r, "TASK-20260302-0001")

	for name, mark := range map[string]func(context.Context, string, time.Time) (bool, error){
		"reminder":      r.MarkReminderSent,
		"first_overdue": r.MarkFirstOverdueSent,
		"tier1":         r.StampTier1,
		"tier2":         r.StampTier2,
	} {
		won, err := mark(ctx, task.Ref, testNow)
		if err != nil || !won {
			t.Fatalf("%s: first claim should win (%v, %v)", name, won, err)
		}
		won, err = mark(ctx, task.Ref, testNow.Add(time.Minute))
		if err != nil || won {
			t.Fatalf("%s: second claim must lose (%v, %v)", name, won, err)
		}
	}

	got, err := r.GetTask(ctx, task.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ReminderSent || !got.FirstOverdueSent || got.Tier1EscalatedAt == nil || got.Tier2EscalatedAt == nil {
		t.Fatalf("flags not persisted: %+v", got)
	}
	if !got.Tier1EscalatedAt.Equal(testNow) {
		t.Fatalf("losing claim must not move the stamp: %v", got.Tier1EscalatedAt)
	}
}

func TestUpdateMissingTask(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = r.UpdateTask(ctx, tx, domain.Task{
		Ref: "TASK-19990101-0001", Title: "ghost",
		AssigneeID: "emp", CreatorID: "mgr",
		Type: domain.TypeDelegated, Status: domain.StatusPending,
		Priority: domain.PriorityMedium, UpdatedAt: testNow,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountWithRefPrefix(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertTask(t, r, "TASK-20260302-0001")
	insertTask(t, r, "TASK-20260302-0002")
	insertTask(t, r, "TASK-20260301-0001")

	check := func(tx *sql.Tx, prefix string, want int) {
		t.Helper()
		n, err := r.CountWithRefPrefix(ctx, tx, prefix)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("prefix %s: got %d want %d", prefix, n, want)
		}
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	check(tx, "TASK-20260302-", 2)
	check(tx, "TASK-20260301-", 1)
	check(tx, "TASK-20260303-", 0)
}

func TestTaskRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	deadline := testNow.Add(48 * time.Hour)
	task := domain.Task{
		Ref: "TASK-20260302-0009", Title: "Round trip", Description: "all fields",
		AssigneeID: "emp", CreatorID: "mgr", Unit: "ops",
		Type: domain.TypeDelegated, Status: domain.StatusInProgress,
		Priority: domain.PriorityHigh, Deadline: &deadline,
		CreatedAt: testNow, UpdatedAt: testNow,
		Source: "import", SourceRef: "EXT-42",
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertTask(ctx, tx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetTask(ctx, task.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != task.Title || got.Description != task.Description ||
		got.Priority != task.Priority || got.Source != task.Source || got.SourceRef != task.SourceRef {
		t.Fatalf("fields lost: %+v", got)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatalf("deadline lost: %v", got.Deadline)
	}
	if got.CompletedAt != nil || got.CancelledAt != nil {
		t.Fatalf("nil times should stay nil")
	}
}
