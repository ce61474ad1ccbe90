package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_ref,author_id,content,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskRef, c.AuthorID, c.Content, fmtTime(c.CreatedAt))
	return err
}

// ListComments returns a task's comments in chronological order.
func (r Repo) ListComments(ctx context.Context, taskRef string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_ref,author_id,content,created_at FROM comments WHERE task_ref=? ORDER BY created_at`, taskRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TaskRef, &c.AuthorID, &c.Content, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func scanAttachment(row rowScanner) (domain.Attachment, error) {
	var a domain.Attachment
	var uploadedAt string
	err := row.Scan(&a.ID, &a.TaskRef, &a.UploadedBy, &a.Filename, &a.Size, &uploadedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.UploadedAt, err = parseTime(uploadedAt)
	return a, err
}

// GetAttachment returns the task's single attachment, if any.
func (r Repo) GetAttachment(ctx context.Context, taskRef string) (domain.Attachment, error) {
	return scanAttachment(r.DB.QueryRowContext(ctx,
		`SELECT id,task_ref,uploaded_by,filename,size,uploaded_at FROM attachments WHERE task_ref=?`, taskRef))
}

func (r Repo) GetAttachmentTx(ctx context.Context, tx *sql.Tx, taskRef string) (domain.Attachment, error) {
	return scanAttachment(tx.QueryRowContext(ctx,
		`SELECT id,task_ref,uploaded_by,filename,size,uploaded_at FROM attachments WHERE task_ref=?`, taskRef))
}

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,task_ref,uploaded_by,filename,size,uploaded_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskRef, a.UploadedBy, a.Filename, a.Size, fmtTime(a.UploadedAt))
	return err
}

func (r Repo) DeleteAttachment(ctx context.Context, tx *sql.Tx, taskRef string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE task_ref=?`, taskRef)
	return err
}

// ListActivities returns a task's audit trail, newest first.
func (r Repo) ListActivities(ctx context.Context, taskRef string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_ref,actor_id,action,description,COALESCE(field,''),COALESCE(old_value,''),COALESCE(new_value,''),created_at
FROM activities WHERE task_ref=? ORDER BY id DESC LIMIT ?`, taskRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskRef, &a.ActorID, &a.Action, &a.Description, &a.Field, &a.OldValue, &a.NewValue, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
