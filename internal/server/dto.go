package server

import (
	"time"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

// Request payloads

type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	AssigneeID  string     `json:"assignee_id"`
	Priority    *string    `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Deadline    *time.Time `json:"deadline,omitempty" format:"date-time"`
	Source      *string    `json:"source,omitempty"`
	SourceRef   *string    `json:"source_ref,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Priority      *string    `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Deadline      *time.Time `json:"deadline,omitempty" format:"date-time"`
	ClearDeadline bool       `json:"clear_deadline,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed,verified"`
}

type ReassignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AddCommentRequest struct {
	Content string `json:"content"`
}

type AttachFileRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
	Role  string `json:"role" enum:"employee,manager,senior_manager_1,senior_manager_2,admin"`
	Unit  string `json:"unit,omitempty"`
}

// Response payloads

type TaskResponse struct {
	Ref              string     `json:"ref"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	AssigneeID       string     `json:"assignee_id"`
	CreatorID        string     `json:"creator_id"`
	Unit             string     `json:"unit,omitempty"`
	Type             string     `json:"type" enum:"personal,delegated"`
	Status           string     `json:"status" enum:"pending,in_progress,completed,verified,cancelled"`
	Priority         string     `json:"priority" enum:"low,medium,high,critical"`
	Deadline         *time.Time `json:"deadline,omitempty" format:"date-time"`
	CreatedAt        time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time  `json:"updated_at" format:"date-time"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty" format:"date-time"`
	CancelledBy      string     `json:"cancelled_by,omitempty"`
	Overdue          bool       `json:"overdue"`
	EscalationLevel  int        `json:"escalation_level"`
	ReminderSent     bool       `json:"reminder_sent"`
	FirstOverdueSent bool       `json:"first_overdue_sent"`
	Source           string     `json:"source,omitempty"`
	SourceRef        string     `json:"source_ref,omitempty"`
}

func taskResponse(t domain.Task, now time.Time) TaskResponse {
	return TaskResponse{
		Ref:              t.Ref,
		Title:            t.Title,
		Description:      t.Description,
		AssigneeID:       t.AssigneeID,
		CreatorID:        t.CreatorID,
		Unit:             t.Unit,
		Type:             string(t.Type),
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		Deadline:         t.Deadline,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
		CancelledAt:      t.CancelledAt,
		CancelledBy:      t.CancelledBy,
		Overdue:          t.IsOverdue(now),
		EscalationLevel:  t.EscalationLevel(),
		ReminderSent:     t.ReminderSent,
		FirstOverdueSent: t.FirstOverdueSent,
		Source:           t.Source,
		SourceRef:        t.SourceRef,
	}
}

func mapTasks(items []domain.Task, now time.Time) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t, now))
	}
	return out
}

type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Unit      string    `json:"unit,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		Unit:      u.Unit,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(items))
	for _, u := range items {
		out = append(out, userResponse(u))
	}
	return out
}

type CommentResponse struct {
	ID        string    `json:"id"`
	TaskRef   string    `json:"task_ref"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskRef:   c.TaskRef,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func mapComments(items []domain.Comment) []CommentResponse {
	out := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, commentResponse(c))
	}
	return out
}

type AttachmentResponse struct {
	ID         string    `json:"id"`
	TaskRef    string    `json:"task_ref"`
	UploadedBy string    `json:"uploaded_by"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at" format:"date-time"`
}

func attachmentResponse(a domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:         a.ID,
		TaskRef:    a.TaskRef,
		UploadedBy: a.UploadedBy,
		Filename:   a.Filename,
		Size:       a.Size,
		UploadedAt: a.UploadedAt,
	}
}

type ActivityResponse struct {
	ID          int64     `json:"id"`
	TaskRef     string    `json:"task_ref"`
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Field       string    `json:"field,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, ActivityResponse{
			ID:          a.ID,
			TaskRef:     a.TaskRef,
			ActorID:     a.ActorID,
			Action:      string(a.Action),
			Description: a.Description,
			Field:       a.Field,
			OldValue:    a.OldValue,
			NewValue:    a.NewValue,
			CreatedAt:   a.CreatedAt,
		})
	}
	return out
}

type TaskCountsResponse struct {
	Personal   int `json:"personal"`
	AssignedTo int `json:"assigned_to_me"`
	Delegated  int `json:"i_assigned"`
	Overdue    int `json:"overdue"`
}

func countsResponse(c repo.TaskCounts) TaskCountsResponse {
	return TaskCountsResponse{
		Personal:   c.Personal,
		AssignedTo: c.AssignedTo,
		Delegated:  c.Delegated,
		Overdue:    c.Overdue,
	}
}
