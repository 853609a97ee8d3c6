package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mstepanov-dev/storefront-core/internal/db"
	"github.com/rs/zerolog/log"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one before/after snapshot of a mutating operation. Previous and
// New are marshalled to jsonb as-is; either may be nil.
type Entry struct {
	TableName string
	RecordID  string
	Action    Action
	Previous  any
	New       any
	ChangedBy string
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type PostgresRecorder struct {
	db db.Querier
}

func NewPostgresRecorder(q db.Querier) *PostgresRecorder {
	return &PostgresRecorder{db: q}
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	previous, err := marshalSnapshot(e.Previous)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal previous snapshot: %w", err)
	}
	next, err := marshalSnapshot(e.New)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal new snapshot: %w", err)
	}

	query := `
		INSERT INTO audit_logs (table_name, record_id, action, previous_data, new_data, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Exec(ctx, query, e.TableName, e.RecordID, string(e.Action), previous, next, e.ChangedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit: failed to insert audit log: %w", err)
	}
	return nil
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// BestEffort enforces the log-and-continue contract in one place: a failed
// audit write is logged and swallowed, never failing the business operation
// it describes.
type BestEffort struct {
	recorder Recorder
}

func NewBestEffort(r Recorder) *BestEffort {
	return &BestEffort{recorder: r}
}

func (b *BestEffort) Record(ctx context.Context, e Entry) {
	if b == nil || b.recorder == nil {
		return
	}
	if err := b.recorder.Record(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("table", e.TableName).
			Str("record_id", e.RecordID).
			Str("action", string(e.Action)).
			Msg("audit write failed, continuing")
	}
}
