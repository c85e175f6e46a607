package av

import (
	"context"
	"time"
)

// Audit actions recorded by the pipeline.
const (
	AuditActionUpload             = "UPLOAD"
	AuditActionRead               = "READ"
	AuditActionUnlink             = "UNLINK"
	AuditActionRetentionBackfill  = "RETENTION_BACKFILL"
	AuditActionRetentionSoft      = "RETENTION_SOFT_DELETE"
	AuditActionRetentionHard      = "RETENTION_HARD_DELETE"
	AuditActionRetentionLegalHold = "RETENTION_LEGAL_HOLD"
	AuditActionRetentionReview    = "RETENTION_REVIEW"
)

// AuditEntry is one immutable audit trail record. Exactly one entry is
// appended per pipeline operation.
type AuditEntry struct {
	EntityType   string
	EntityID     int64
	AttachmentID string // May be empty for batch operations
	Actor        string // "unknown" when no actor identity was supplied
	Action       string
	Description  string
	At           time.Time
}

// AuditSink accepts a single structured audit record per operation.
// The storage engine behind it is assumed append-only and durable.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}
