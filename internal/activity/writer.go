package activity

import (
	"context"
	"database/sql"
	"time"

	"taskline/internal/domain"
)

// Writer appends audit trail entries inside the caller's transaction so the
// entry commits or rolls back together with the mutation it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry carries the optional field-change detail of a Record call.
type Entry struct {
	Field    string
	OldValue string
	NewValue string
}

func (w Writer) Record(ctx context.Context, tx *sql.Tx, taskRef, actorID string, action domain.ActionType, description string, detail *Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	var field, oldVal, newVal any
	if detail != nil {
		field = nullable(detail.Field)
		oldVal = nullable(detail.OldValue)
		newVal = nullable(detail.NewValue)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO activities(task_ref,actor_id,action,description,field,old_value,new_value,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		taskRef, actorID, action, description, field, oldVal, newVal, now().UTC().Format(time.RFC3339))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
