package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mstepanov-dev/storefront-core/internal/audit"
	"github.com/stretchr/testify/assert"
)

type stubRecorder struct {
	err     error
	entries []audit.Entry
}

func (s *stubRecorder) Record(ctx context.Context, e audit.Entry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestBestEffort_Record(t *testing.T) {
	stub := &stubRecorder{}
	b := audit.NewBestEffort(stub)

	b.Record(context.Background(), audit.Entry{
		TableName: "orders",
		RecordID:  "abc",
		Action:    audit.ActionCreate,
		ChangedBy: "guest",
	})

	assert.Len(t, stub.entries, 1)
	assert.Equal(t, "orders", stub.entries[0].TableName)
}

func TestBestEffort_SwallowsFailure(t *testing.T) {
	stub := &stubRecorder{err: errors.New("sink down")}
	b := audit.NewBestEffort(stub)

	// Must not panic and must not surface the error.
	b.Record(context.Background(), audit.Entry{TableName: "orders", RecordID: "abc", Action: audit.ActionUpdate})

	assert.Len(t, stub.entries, 1)
}

func TestBestEffort_NilSafe(t *testing.T) {
	var b *audit.BestEffort
	b.Record(context.Background(), audit.Entry{TableName: "orders"})

	audit.NewBestEffort(nil).Record(context.Background(), audit.Entry{TableName: "orders"})
}
