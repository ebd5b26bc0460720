package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// AUDIT SINK - Best-effort side channel, written after commit
// =============================================================================

// AuditSink receives one record per committed mutation. A failing sink never
// undoes the operation; the Service logs the failure and moves on.
type AuditSink interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any) error
}

// LogSink persists audit records into a ledger.AuditLog.
type LogSink struct {
	Log ledger.AuditLog
	Now func() time.Time
}

func (s LogSink) Record(ctx context.Context, action, entityType, entityID string, details map[string]any) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Log.AppendAudit(ctx, ledger.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  now().UTC(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	})
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, string, map[string]any) error { return nil }
