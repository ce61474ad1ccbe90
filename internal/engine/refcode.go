package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// nextReference produces the next TASK-YYYYMMDD-NNNN code. The per-day
// counter is derived inside the caller's transaction so two creates on the
// same day cannot mint the same number.
func (e Engine) nextReference(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s-", e.Config.Reference.Prefix, now.Format("20060102"))
	n, err := e.Repo.CountWithRefPrefix(ctx, tx, prefix)
	if err != nil {
		return "", fmt.Errorf("count references: %w", err)
	}
	return fmt.Sprintf("%s%04d", prefix, n+1), nil
}
