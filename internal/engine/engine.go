package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskline/internal/activity"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

// ValidationError reports invalid input or an invalid workflow step.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Directory is the narrow read-only view of the user store the engine needs.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ActiveUsers(ctx context.Context) ([]domain.User, error)
}

// Engine owns every work item mutation. Each operation runs guard checks and
// validation before touching the database, then commits field writes and the
// activity entry in one transaction, then emits notifications best-effort.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Directory Directory
	Activity  activity.Writer
	Notifier  notify.Gateway
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gw notify.Gateway) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Directory: r,
		Activity:  activity.Writer{DB: db},
		Notifier:  gw,
		Config:    cfg,
		Logger:    slog.Default(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// notifyBestEffort delivers after the surrounding mutation has committed.
// Failures are logged and swallowed; the mutation already succeeded.
func (e Engine) notifyBestEffort(ctx context.Context, kind notify.Kind, recipients []string, p notify.Payload) {
	if len(recipients) == 0 {
		return
	}
	if err := e.Notifier.Send(ctx, kind, recipients, p); err != nil {
		e.logger().Warn("notification delivery failed",
			slog.String("kind", string(kind)),
			slog.String("task", p.TaskRef),
			slog.String("error", err.Error()))
	}
}

func (e Engine) actor(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Directory.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return u, validationf("unknown actor %s", id)
		}
		return u, err
	}
	return u, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	AssigneeID  string
	CreatorID   string
	Deadline    *time.Time
	Priority    domain.Priority
	Source      string
	SourceRef   string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, validationf("task title is required")
	}
	if opts.AssigneeID == "" {
		return domain.Task{}, validationf("assignee is required")
	}
	if opts.CreatorID == "" {
		return domain.Task{}, validationf("creator is required")
	}
	creator, err := e.actor(ctx, opts.CreatorID)
	if err != nil {
		return domain.Task{}, err
	}
	assignee, err := e.actor(ctx, opts.AssigneeID)
	if err != nil {
		return domain.Task{}, err
	}
	if !assignee.Active {
		return domain.Task{}, validationf("cannot assign task to inactive user")
	}
	if assignee.Unit == "" {
		return domain.Task{}, validationf("user %s is not assigned to any unit", assignee.Name)
	}
	if !auth.CanAssignTo(creator, assignee) {
		return domain.Task{}, auth.DeniedError{Operation: "assign"}
	}
	now := e.now().UTC()
	if opts.Deadline != nil && opts.Deadline.Before(now) {
		return domain.Task{}, validationf("deadline cannot be in the past")
	}
	priority := opts.Priority
	if !priority.Valid() {
		priority = domain.PriorityMedium
	}
	source := opts.Source
	if source == "" {
		source = "manual"
	}

	t := domain.Task{
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		AssigneeID:  assignee.ID,
		CreatorID:   creator.ID,
		Unit:        assignee.Unit,
		Type:        domain.ClassifyTask(assignee.ID, creator.ID),
		Status:      domain.StatusPending,
		Priority:    priority,
		Deadline:    opts.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      source,
		SourceRef:   opts.SourceRef,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t.Ref, err = e.nextReference(ctx, tx, now)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	desc := fmt.Sprintf("Personal task created: %q", t.Title)
	if t.IsDelegated() {
		desc = fmt.Sprintf("Task created and assigned to %s", assignee.Name)
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, creator.ID, domain.ActionCreated, desc, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	if t.IsDelegated() {
		e.notifyBestEffort(ctx, notify.KindAssigned, []string{assignee.Email}, notify.Payload{
			Title:    "Task assigned: " + t.Ref,
			Message:  fmt.Sprintf("%s assigned you %q.", creator.Name, t.Title),
			TaskRef:  t.Ref,
			Priority: string(t.Priority),
		})
	}
	return t, nil
}

// TaskUpdate carries optional field changes. Nil means leave alone;
// ClearDeadline removes an existing deadline.
type TaskUpdate struct {
	Title         *string
	Description   *string
	Priority      *domain.Priority
	Deadline      *time.Time
	ClearDeadline bool
}

type fieldChange struct {
	field, oldValue, newValue string
}

func (e Engine) UpdateTask(ctx context.Context, ref, actorID string, upd TaskUpdate) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return t, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return t, err
	}
	if !auth.CanEdit(actor, t) {
		return t, auth.DeniedError{Operation: "edit"}
	}
	now := e.now().UTC()
	var changes []fieldChange

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return t, validationf("task title cannot be empty")
		}
		if title != t.Title {
			changes = append(changes, fieldChange{"title", t.Title, title})
			t.Title = title
		}
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc != t.Description {
			changes = append(changes, fieldChange{"description", t.Description, desc})
			t.Description = desc
		}
	}
	if upd.Priority != nil {
		if !upd.Priority.Valid() {
			return t, validationf("invalid priority %q", *upd.Priority)
		}
		if *upd.Priority != t.Priority {
			changes = append(changes, fieldChange{"priority", string(t.Priority), string(*upd.Priority)})
			t.Priority = *upd.Priority
		}
	}
	if upd.ClearDeadline {
		if t.Deadline != nil {
			changes = append(changes, fieldChange{"deadline", formatDeadline(t.Deadline), "none"})
			t.Deadline = nil
		}
	} else if upd.Deadline != nil {
		if upd.Deadline.Before(now) {
			return t, validationf("deadline cannot be in the past")
		}
		if t.Deadline == nil || !t.Deadline.Equal(*upd.Deadline) {
			changes = append(changes, fieldChange{"deadline", formatDeadline(t.Deadline), formatDeadline(upd.Deadline)})
			t.Deadline = upd.Deadline
		}
	}
	if len(changes) == 0 {
		return t, nil
	}
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	for _, c := range changes {
		desc := fmt.Sprintf("%s changed from %q to %q", capitalize(c.field), c.oldValue, c.newValue)
		if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionUpdated, desc, &activity.Entry{
			Field: c.field, OldValue: c.oldValue, NewValue: c.newValue,
		}); err != nil {
			return t, err
		}
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatDeadline(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format("02 Jan 2006, 15:04")
}

func (e Engine) ChangeStatus(ctx context.Context, ref, actorID string, newStatus domain.Status) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return t, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return t, err
	}
	if !auth.CanChangeStatus(actor, t) {
		return t, auth.DeniedError{Operation: "change status"}
	}
	if newStatus == domain.StatusCancelled {
		return t, validationf("use cancel to cancel tasks")
	}
	if !newStatus.Valid() {
		return t, validationf("unknown status %q", newStatus)
	}
	if !t.CanTransitionTo(newStatus) {
		return t, validationf("cannot change status from %s to %s", t.Status, newStatus)
	}
	// Transition-specific gates on top of the broad guard.
	if newStatus == domain.StatusVerified {
		if t.CreatorID != actor.ID && actor.Role != domain.RoleAdmin {
			return t, auth.DeniedError{Operation: "verify"}
		}
	}
	if newStatus == domain.StatusInProgress || newStatus == domain.StatusCompleted {
		if t.AssigneeID != actor.ID && actor.Role != domain.RoleAdmin {
			return t, auth.DeniedError{Operation: "progress"}
		}
	}

	oldStatus := t.Status
	now := e.now().UTC()
	t.Status = newStatus
	t.UpdatedAt = now
	if newStatus == domain.StatusCompleted {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionStatusChanged,
		fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus), &activity.Entry{
			Field: "status", OldValue: string(oldStatus), NewValue: string(newStatus),
		}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	switch {
	case newStatus == domain.StatusCompleted && t.IsDelegated():
		if creator, err := e.Directory.GetUser(ctx, t.CreatorID); err == nil {
			e.notifyBestEffort(ctx, notify.KindCompleted, []string{creator.Email}, notify.Payload{
				Title:   "Task completed: " + t.Ref,
				Message: fmt.Sprintf("%q was marked completed and awaits your verification.", t.Title),
				TaskRef: t.Ref,
			})
		}
	case newStatus == domain.StatusVerified:
		if assignee, err := e.Directory.GetUser(ctx, t.AssigneeID); err == nil {
			e.notifyBestEffort(ctx, notify.KindVerified, []string{assignee.Email}, notify.Payload{
				Title:   "Task verified: " + t.Ref,
				Message: fmt.Sprintf("%q was verified by %s.", t.Title, actor.Name),
				TaskRef: t.Ref,
			})
		}
	}
	return t, nil
}

// Reassign hands a delegated task to a new assignee. Only the new assignee
// is notified, and the overdue clock does not reset: deadline and every
// escalation flag survive unchanged.
func (e Engine) Reassign(ctx context.Context, ref, actorID, newAssigneeID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return t, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return t, err
	}
	if !auth.CanReassign(actor, t) {
		return t, auth.DeniedError{Operation: "reassign"}
	}
	newAssignee, err := e.actor(ctx, newAssigneeID)
	if err != nil {
		return t, err
	}
	if !newAssignee.Active {
		return t, validationf("cannot reassign task to inactive user")
	}
	if newAssignee.Unit == "" {
		return t, validationf("user %s is not assigned to any unit", newAssignee.Name)
	}
	if !auth.CanAssignTo(actor, newAssignee) {
		return t, auth.DeniedError{Operation: "assign"}
	}
	if t.AssigneeID == newAssignee.ID {
		return t, validationf("task is already assigned to this user")
	}
	oldAssignee, err := e.Directory.GetUser(ctx, t.AssigneeID)
	if err != nil {
		return t, err
	}

	t.AssigneeID = newAssignee.ID
	t.Unit = newAssignee.Unit
	t.Type = domain.ClassifyTask(newAssignee.ID, t.CreatorID)
	t.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionReassigned,
		fmt.Sprintf("Reassigned from %s to %s", oldAssignee.Name, newAssignee.Name), &activity.Entry{
			Field: "assignee", OldValue: oldAssignee.Email, NewValue: newAssignee.Email,
		}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	e.notifyBestEffort(ctx, notify.KindReassigned, []string{newAssignee.Email}, notify.Payload{
		Title:    "Task assigned: " + t.Ref,
		Message:  fmt.Sprintf("%s reassigned %q to you.", actor.Name, t.Title),
		TaskRef:  t.Ref,
		Priority: string(t.Priority),
	})
	return t, nil
}

func (e Engine) Cancel(ctx context.Context, ref, actorID, reason string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return t, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return t, err
	}
	if !auth.CanCancel(actor, t) {
		return t, auth.DeniedError{Operation: "cancel"}
	}
	oldStatus := t.Status
	now := e.now().UTC()
	t.Status = domain.StatusCancelled
	t.CancelledAt = &now
	t.CancelledBy = actor.ID
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	desc := "Task cancelled"
	if reason != "" {
		desc += ": " + reason
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionCancelled, desc, &activity.Entry{
		Field: "status", OldValue: string(oldStatus), NewValue: string(domain.StatusCancelled),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	if t.AssigneeID != actor.ID {
		if assignee, err := e.Directory.GetUser(ctx, t.AssigneeID); err == nil {
			msg := fmt.Sprintf("%q was cancelled by %s.", t.Title, actor.Name)
			if reason != "" {
				msg += " Reason: " + reason
			}
			e.notifyBestEffort(ctx, notify.KindCancelled, []string{assignee.Email}, notify.Payload{
				Title:   "Task cancelled: " + t.Ref,
				Message: msg,
				TaskRef: t.Ref,
			})
		}
	}
	return t, nil
}

func (e Engine) AddComment(ctx context.Context, ref, actorID, content string) (domain.Comment, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return domain.Comment{}, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !auth.CanComment(actor, t) {
		return domain.Comment{}, auth.DeniedError{Operation: "comment"}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, validationf("comment cannot be empty")
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		TaskRef:   t.Ref,
		AuthorID:  actor.ID,
		Content:   content,
		CreatedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	excerpt := content
	if len(excerpt) > 50 {
		excerpt = excerpt[:50] + "..."
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionCommented,
		fmt.Sprintf("Comment added: %q", excerpt), nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// AttachFile adds or replaces the task's single attachment. Only metadata is
// kept; byte storage belongs to the calling layer.
func (e Engine) AttachFile(ctx context.Context, ref, actorID, filename string, size int64) (domain.Attachment, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return domain.Attachment{}, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !auth.CanAttach(actor, t) {
		return domain.Attachment{}, auth.DeniedError{Operation: "attach"}
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Attachment{}, validationf("filename is required")
	}
	if size <= 0 {
		return domain.Attachment{}, validationf("file is empty")
	}
	if size > e.Config.MaxAttachmentBytes() {
		return domain.Attachment{}, validationf("file size cannot exceed %d MB", e.Config.Attachments.MaxSizeMB)
	}
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || !e.Config.ExtensionAllowed(filename[idx+1:]) {
		return domain.Attachment{}, validationf("file type not allowed; allowed: %s",
			strings.ToUpper(strings.Join(e.Config.Attachments.AllowedExtensions, ", ")))
	}

	a := domain.Attachment{
		ID:         uuid.New().String(),
		TaskRef:    t.Ref,
		UploadedBy: actor.ID,
		Filename:   filename,
		Size:       size,
		UploadedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	action := domain.ActionAttachmentAdded
	desc := fmt.Sprintf("Attachment added: %q", filename)
	existing, err := e.Repo.GetAttachmentTx(ctx, tx, t.Ref)
	switch {
	case err == nil:
		if err := e.Repo.DeleteAttachment(ctx, tx, t.Ref); err != nil {
			return a, err
		}
		action = domain.ActionAttachmentReplaced
		desc = fmt.Sprintf("Attachment replaced: %q -> %q", existing.Filename, filename)
	case !errors.Is(err, repo.ErrNotFound):
		return a, err
	}
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, action, desc, nil); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func (e Engine) RemoveAttachment(ctx context.Context, ref, actorID string) error {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return err
	}
	if !auth.CanAttach(actor, t) {
		return auth.DeniedError{Operation: "attach"}
	}
	existing, err := e.Repo.GetAttachment(ctx, t.Ref)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return validationf("task has no attachment")
		}
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAttachment(ctx, tx, t.Ref); err != nil {
		return err
	}
	if err := e.Activity.Record(ctx, tx, t.Ref, actor.ID, domain.ActionAttachmentRemoved,
		fmt.Sprintf("Attachment removed: %q", existing.Filename), nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ViewTask fetches a task for an actor, enforcing visibility.
func (e Engine) ViewTask(ctx context.Context, ref, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return t, err
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return t, err
	}
	if !auth.CanView(actor, t) {
		return domain.Task{}, auth.DeniedError{Operation: "view"}
	}
	return t, nil
}

// AssignableUsers returns the active users the actor may assign tasks to.
func (e Engine) AssignableUsers(ctx context.Context, actorID string) ([]domain.User, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	users, err := e.Directory.ActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	return auth.AssignableUsers(actor, users), nil
}
