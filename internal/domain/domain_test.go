package domain_test

import (
	"testing"
	"time"

	"taskline/internal/domain"
)

func task(tt domain.TaskType, status domain.Status) domain.Task {
	return domain.Task{Type: tt, Status: status}
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		name string
		task domain.Task
		next domain.Status
		want bool
	}{
		{"pending starts", task(domain.TypeDelegated, domain.StatusPending), domain.StatusInProgress, true},
		{"pending cannot skip", task(domain.TypeDelegated, domain.StatusPending), domain.StatusCompleted, false},
		{"in_progress completes", task(domain.TypeDelegated, domain.StatusInProgress), domain.StatusCompleted, true},
		{"no going back", task(domain.TypeDelegated, domain.StatusInProgress), domain.StatusPending, false},
		{"delegated verifies", task(domain.TypeDelegated, domain.StatusCompleted), domain.StatusVerified, true},
		{"personal never verifies", task(domain.TypePersonal, domain.StatusCompleted), domain.StatusVerified, false},
		{"verified is final", task(domain.TypeDelegated, domain.StatusVerified), domain.StatusInProgress, false},
		{"cancelled is final", task(domain.TypeDelegated, domain.StatusCancelled), domain.StatusInProgress, false},
		{"cancel is not a transition", task(domain.TypeDelegated, domain.StatusPending), domain.StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := tc.task.CanTransitionTo(tc.next); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestNextStatus(t *testing.T) {
	if next := task(domain.TypeDelegated, domain.StatusCompleted).NextStatus(); next != domain.StatusVerified {
		t.Fatalf("delegated completed should offer verified, got %q", next)
	}
	if next := task(domain.TypePersonal, domain.StatusCompleted).NextStatus(); next != "" {
		t.Fatalf("personal completed is the end, got %q", next)
	}
}

func TestTerminal(t *testing.T) {
	if !task(domain.TypePersonal, domain.StatusCompleted).Terminal() {
		t.Error("completed personal is terminal")
	}
	if task(domain.TypeDelegated, domain.StatusCompleted).Terminal() {
		t.Error("completed delegated awaits verification")
	}
	if !task(domain.TypeDelegated, domain.StatusVerified).Terminal() || !task(domain.TypePersonal, domain.StatusCancelled).Terminal() {
		t.Error("verified and cancelled are terminal")
	}
}

func TestOverdueMath(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(-36 * time.Hour)

	tk := task(domain.TypeDelegated, domain.StatusInProgress)
	tk.Deadline = &deadline
	if !tk.IsOverdue(now) {
		t.Fatal("expected overdue")
	}
	if h := tk.HoursOverdue(now); h != 36 {
		t.Fatalf("hours overdue: %v", h)
	}

	// a closed task is never overdue
	tk.Status = domain.StatusCompleted
	if tk.IsOverdue(now) || tk.HoursOverdue(now) != 0 {
		t.Fatal("completed tasks do not count as overdue")
	}

	// no deadline, no overdue
	tk = task(domain.TypeDelegated, domain.StatusPending)
	if tk.IsOverdue(now) {
		t.Fatal("deadline-free tasks are never overdue")
	}
}

func TestEscalationLevel(t *testing.T) {
	now := time.Now()
	tk := task(domain.TypeDelegated, domain.StatusPending)
	if tk.EscalationLevel() != 0 {
		t.Fatal("fresh task at level 0")
	}
	tk.Tier1EscalatedAt = &now
	if tk.EscalationLevel() != 1 {
		t.Fatal("tier1 stamp means level 1")
	}
	tk.Tier2EscalatedAt = &now
	if tk.EscalationLevel() != 2 {
		t.Fatal("tier2 stamp means level 2")
	}
}

func TestClassifyTask(t *testing.T) {
	if domain.ClassifyTask("u1", "u1") != domain.TypePersonal {
		t.Fatal("self-assigned is personal")
	}
	if domain.ClassifyTask("u1", "u2") != domain.TypeDelegated {
		t.Fatal("cross-assigned is delegated")
	}
}

func TestRoleRank(t *testing.T) {
	if domain.RoleSeniorManager1.Rank() != domain.RoleSeniorManager2.Rank() {
		t.Fatal("the two senior roles share a rank")
	}
	order := []domain.Role{domain.RoleEmployee, domain.RoleManager, domain.RoleSeniorManager1, domain.RoleAdmin}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if domain.Role("intern").Valid() {
		t.Fatal("unknown roles are invalid")
	}
}
