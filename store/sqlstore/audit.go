package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// AUDIT LOG (ledger.AuditLog interface)
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := c.exec(ctx, "insert audit entry", `
		INSERT INTO audit_log (id, timestamp, action, entity_type, entity_id, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.Action, e.EntityType, e.EntityID, details)
	return err
}

// QueryAudit returns entries newest first.
func (c *conn) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `SELECT id, timestamp, action, entity_type, entity_id, details FROM audit_log WHERE 1 = 1`
	var args []any
	if f.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return queryAll(ctx, c, "query audit log", query, scanAudit, args...)
}

func scanAudit(row scanner) (ledger.AuditEntry, error) {
	var (
		e       ledger.AuditEntry
		ts      string
		details sql.NullString
	)
	if err := row.Scan(&e.ID, &ts, &e.Action, &e.EntityType, &e.EntityID, &details); err != nil {
		return ledger.AuditEntry{}, err
	}
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return ledger.AuditEntry{}, err
	}
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return ledger.AuditEntry{}, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return e, nil
}
