package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/db"
	"studioflow/internal/domain"
)

// Writer appends human-readable activity entries. It writes through the pool,
// never inside a workflow transaction.
type Writer struct {
	DB  *db.DB
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) Append(ctx context.Context, projectID, actorID, action, description string, meta Metadata) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, w.DB.Rebind(`INSERT INTO activity_log(id,project_id,actor_id,action,description,metadata_json,created_at) VALUES (?,?,?,?,?,?,?)`),
		uuid.NewString(), projectID, actorID, action, description, string(data), now().UTC().Format(time.RFC3339))
	return err
}

// List returns the newest entries first.
func (w Writer) List(ctx context.Context, projectID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	res := []domain.ActivityEntry{}
	err := w.DB.SelectContext(ctx, &res, w.DB.Rebind(`SELECT id,project_id,actor_id,action,description,metadata_json,created_at
FROM activity_log WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT ?`), projectID, limit)
	return res, err
}
