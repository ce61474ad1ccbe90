package domain

import "time"

// Role is the closed rank hierarchy. Senior manager 1 and 2 share a rank;
// they exist as distinct roles only to route the two escalation tiers.
type Role string

const (
	RoleEmployee       Role = "employee"
	RoleManager        Role = "manager"
	RoleSeniorManager1 Role = "senior_manager_1"
	RoleSeniorManager2 Role = "senior_manager_2"
	RoleAdmin          Role = "admin"
)

// Rank orders roles for comparison: employee < manager < senior < admin.
func (r Role) Rank() int {
	switch r {
	case RoleEmployee:
		return 0
	case RoleManager:
		return 1
	case RoleSeniorManager1, RoleSeniorManager2:
		return 2
	case RoleAdmin:
		return 3
	}
	return -1
}

func (r Role) Valid() bool { return r.Rank() >= 0 }

// SeniorOversight reports whether the role belongs to the senior manager tier.
func (r Role) SeniorOversight() bool {
	return r == RoleSeniorManager1 || r == RoleSeniorManager2
}

// User is the engine's read-only view of a directory entry.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Unit      string    `json:"unit,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusVerified, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TaskType is derived, never set directly: personal iff assignee == creator.
type TaskType string

const (
	TypePersonal  TaskType = "personal"
	TypeDelegated TaskType = "delegated"
)

// Task is the work item. Ref is the immutable reference code
// (PREFIX-YYYYMMDD-NNNN) and serves as the primary key.
type Task struct {
	Ref         string     `json:"ref"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assignee_id"`
	CreatorID   string     `json:"creator_id"`
	Unit        string     `json:"unit,omitempty"`
	Type        TaskType   `json:"type" enum:"personal,delegated"`
	Status      Status     `json:"status" enum:"pending,in_progress,completed,verified,cancelled"`
	Priority    Priority   `json:"priority" enum:"low,medium,high,critical"`
	Deadline    *time.Time `json:"deadline,omitempty" format:"date-time"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" format:"date-time"`
	CancelledBy string     `json:"cancelled_by,omitempty"`

	// Escalation bookkeeping. Flags and stamps are monotonic: once set they
	// are never cleared, and reassignment leaves them untouched.
	ReminderSent     bool       `json:"reminder_sent"`
	FirstOverdueSent bool       `json:"first_overdue_sent"`
	Tier1EscalatedAt *time.Time `json:"tier1_escalated_at,omitempty" format:"date-time"`
	Tier2EscalatedAt *time.Time `json:"tier2_escalated_at,omitempty" format:"date-time"`

	Source    string `json:"source,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`
}

func (t Task) IsPersonal() bool  { return t.Type == TypePersonal }
func (t Task) IsDelegated() bool { return t.Type == TypeDelegated }

// Terminal reports whether the task can no longer change status.
// Completed is terminal for personal tasks only.
func (t Task) Terminal() bool {
	if t.Status == StatusCancelled || t.Status == StatusVerified {
		return true
	}
	return t.IsPersonal() && t.Status == StatusCompleted
}

// Active reports whether the task still counts toward reminders, overdue
// checks and digests.
func (t Task) Active() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

func (t Task) IsOverdue(now time.Time) bool {
	if t.Deadline == nil || !t.Active() {
		return false
	}
	return now.After(*t.Deadline)
}

// HoursOverdue returns 0 when not overdue.
func (t Task) HoursOverdue(now time.Time) float64 {
	if !t.IsOverdue(now) {
		return 0
	}
	return now.Sub(*t.Deadline).Hours()
}

// EscalationLevel is 0, 1 (tier-1 fired) or 2 (tier-2 fired).
func (t Task) EscalationLevel() int {
	if t.Tier2EscalatedAt != nil {
		return 2
	}
	if t.Tier1EscalatedAt != nil {
		return 1
	}
	return 0
}

// CanTransitionTo is the single source of truth for the forward status
// machine. Cancellation is not a transition here; it goes through Cancel.
//
//	delegated: pending -> in_progress -> completed -> verified
//	personal:  pending -> in_progress -> completed (terminal)
func (t Task) CanTransitionTo(next Status) bool {
	if t.Terminal() {
		return false
	}
	switch t.Status {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	case StatusCompleted:
		return next == StatusVerified && t.IsDelegated()
	}
	return false
}

// NextStatus returns the next forward status, or "" at the end of the line.
func (t Task) NextStatus() Status {
	switch {
	case t.Status == StatusPending:
		return StatusInProgress
	case t.Status == StatusInProgress:
		return StatusCompleted
	case t.Status == StatusCompleted && t.IsDelegated():
		return StatusVerified
	}
	return ""
}

// ClassifyTask derives the task type from ownership.
func ClassifyTask(assigneeID, creatorID string) TaskType {
	if assigneeID == creatorID {
		return TypePersonal
	}
	return TypeDelegated
}

type Comment struct {
	ID        string    `json:"id"`
	TaskRef   string    `json:"task_ref"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Attachment holds metadata only; storage mechanics live outside the core.
type Attachment struct {
	ID         string    `json:"id"`
	TaskRef    string    `json:"task_ref"`
	UploadedBy string    `json:"uploaded_by"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at" format:"date-time"`
}

type ActionType string

const (
	ActionCreated            ActionType = "created"
	ActionUpdated            ActionType = "updated"
	ActionStatusChanged      ActionType = "status_changed"
	ActionReassigned         ActionType = "reassigned"
	ActionCommented          ActionType = "commented"
	ActionAttachmentAdded    ActionType = "attachment_added"
	ActionAttachmentReplaced ActionType = "attachment_replaced"
	ActionAttachmentRemoved  ActionType = "attachment_removed"
	ActionCancelled          ActionType = "cancelled"
)

// Activity is one audit trail entry for a task.
type Activity struct {
	ID          int64      `json:"id"`
	TaskRef     string     `json:"task_ref"`
	ActorID     string     `json:"actor_id"`
	Action      ActionType `json:"action"`
	Description string     `json:"description"`
	Field       string     `json:"field,omitempty"`
	OldValue    string     `json:"old_value,omitempty"`
	NewValue    string     `json:"new_value,omitempty"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
