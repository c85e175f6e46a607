package av

import (
	"context"
	"fmt"
	"time"
)

// RetentionEngine guarantees the "every attachment has exactly one retention
// policy" invariant and enforces purge decisions for policies that have come
// due. New uploads get their policy inside the store transaction; the engine
// covers everything else: legacy rows that predate retention tracking, and
// the periodic enforcement sweep.
type RetentionEngine struct {
	db     Database
	blobs  BlobStore
	audit  AuditSink
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewRetentionEngine creates a RetentionEngine with the provided dependencies.
func NewRetentionEngine(db Database, blobs BlobStore, audit AuditSink, logger Logger, clock Clock, idgen IDGenerator) *RetentionEngine {
	return &RetentionEngine{
		db:     db,
		blobs:  blobs,
		audit:  audit,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// defaultPolicy builds the backfill default: "legacy-default", soft delete,
// no legal hold, no review requirement.
func (e *RetentionEngine) defaultPolicy(attachmentID string, now time.Time) *RetentionPolicy {
	return &RetentionPolicy{
		ID:           e.idgen.New(),
		AttachmentID: attachmentID,
		PolicyName:   DefaultPolicyName,
		DeleteMode:   DeleteModeSoft,
		CreatedAt:    now,
	}
}

// AssignDefault creates the default retention policy for one attachment
// that does not yet carry one. A policy write failure is reported as a
// *RetentionAssignmentError; the stored content is never rolled back.
func (e *RetentionEngine) AssignDefault(ctx context.Context, attachmentID string) (*RetentionPolicy, error) {
	policy := e.defaultPolicy(attachmentID, e.clock.Now())
	if err := e.db.CreateRetentionPolicies(ctx, []*RetentionPolicy{policy}); err != nil {
		return nil, &RetentionAssignmentError{AttachmentID: attachmentID, Err: err}
	}
	return policy, nil
}

// BackfillMissing assigns the default policy to every attachment that has
// none, committing once at the end. Intended to run against historical data
// (e.g. at startup). Running it twice produces no duplicate policies: the
// second run finds nothing missing.
func (e *RetentionEngine) BackfillMissing(ctx context.Context) (int, error) {
	missing, err := e.db.ListAttachmentIDsMissingRetention(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing attachments without retention: %w", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	now := e.clock.Now()
	policies := make([]*RetentionPolicy, len(missing))
	for i, id := range missing {
		policies[i] = e.defaultPolicy(id, now)
	}

	if err := e.db.CreateRetentionPolicies(ctx, policies); err != nil {
		return 0, &RetentionAssignmentError{AttachmentID: fmt.Sprintf("batch of %d", len(missing)), Err: err}
	}

	entry := AuditEntry{
		EntityType:  "attachment_retention",
		Actor:       "system",
		Action:      AuditActionRetentionBackfill,
		Description: fmt.Sprintf("assigned %q to %d attachments without a policy; ts=%s", DefaultPolicyName, len(missing), now.UTC().Format(time.RFC3339)),
		At:          now,
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("audit emission failed after retention backfill", "count", len(missing), "error", err)
		return len(missing), &AuditEmissionError{Err: err}
	}

	e.logger.Info("retention backfill complete", "assigned", len(missing))
	return len(missing), nil
}

// EnforcementSummary counts what one enforcement sweep did.
type EnforcementSummary struct {
	SoftDeletes    int
	HardPurges     int
	HoldNotices    int
	ReviewNotices  int
	AlreadyDeleted int
}

// EnforceOnce evaluates every due retention policy and applies its delete
// mode. A legal hold blocks deletion outright; a review requirement defers
// it to a human. Both emit an audit notice instead of acting. Hard purges
// remove the blob and drop all links; digests are content-unique, so no
// other attachment can share the purged bytes.
func (e *RetentionEngine) EnforceOnce(ctx context.Context) (*EnforcementSummary, error) {
	now := e.clock.Now()
	due, err := e.db.ListDueRetention(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("scanning due retention policies: %w", err)
	}

	summary := &EnforcementSummary{}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("enforcement canceled: %w", err)
		}

		switch {
		case d.Policy.LegalHold:
			summary.HoldNotices++
			e.emitNotice(ctx, d, AuditActionRetentionLegalHold, now)
		case d.Policy.ReviewRequired:
			summary.ReviewNotices++
			e.emitNotice(ctx, d, AuditActionRetentionReview, now)
		case d.Attachment.Deleted:
			summary.AlreadyDeleted++
		case d.Policy.DeleteMode == DeleteModeHard:
			if err := e.hardPurge(ctx, d, now); err != nil {
				return summary, err
			}
			summary.HardPurges++
		default:
			if err := e.softDelete(ctx, d, now); err != nil {
				return summary, err
			}
			summary.SoftDeletes++
		}
	}

	e.logger.Info("retention enforcement complete",
		"soft", summary.SoftDeletes, "hard", summary.HardPurges,
		"holds", summary.HoldNotices, "reviews", summary.ReviewNotices)
	return summary, nil
}

func (e *RetentionEngine) softDelete(ctx context.Context, d *DueRetention, now time.Time) error {
	if err := e.db.MarkAttachmentSoftDeleted(ctx, d.Attachment.ID, now); err != nil {
		return fmt.Errorf("soft-deleting attachment %s: %w", d.Attachment.ID, err)
	}
	e.emitNotice(ctx, d, AuditActionRetentionSoft, now)
	return nil
}

// hardPurge removes the attachment's bytes and links. The metadata row is
// kept (marked purged) so the audit trail can still resolve the id.
func (e *RetentionEngine) hardPurge(ctx context.Context, d *DueRetention, now time.Time) error {
	if err := e.db.MarkAttachmentPurged(ctx, d.Attachment.ID, now); err != nil {
		return fmt.Errorf("purging attachment %s: %w", d.Attachment.ID, err)
	}
	if err := e.db.DeleteLinksForAttachment(ctx, d.Attachment.ID); err != nil {
		return fmt.Errorf("dropping links for attachment %s: %w", d.Attachment.ID, err)
	}
	if err := e.blobs.Delete(ctx, d.Attachment.Digest); err != nil {
		// The metadata purge is already committed. Report the orphaned blob
		// instead of failing the sweep.
		e.logger.Error("blob delete failed after purge",
			"attachment", d.Attachment.ID, "sha256", d.Attachment.Digest, "error", err)
	}
	e.emitNotice(ctx, d, AuditActionRetentionHard, now)
	return nil
}

// emitNotice appends one audit entry for a retention decision. A sink
// failure here is logged, not fatal: enforcement state is already committed
// and the sweep continues.
func (e *RetentionEngine) emitNotice(ctx context.Context, d *DueRetention, action string, now time.Time) {
	retainUntil := "-"
	if d.Policy.RetainUntil != nil {
		retainUntil = d.Policy.RetainUntil.UTC().Format(time.RFC3339)
	}
	entry := AuditEntry{
		EntityType:   "attachment_retention",
		AttachmentID: d.Attachment.ID,
		Actor:        "system",
		Action:       action,
		Description: fmt.Sprintf("policy=%s; attachment=%s; file=%s; retain_until=%s; ts=%s",
			d.Policy.PolicyName, d.Attachment.ID, d.Attachment.FileName, retainUntil, now.UTC().Format(time.RFC3339)),
		At: now,
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("audit emission failed for retention action",
			"action", action, "attachment", d.Attachment.ID, "error", err)
	}
}
