package av

import (
	"context"
	"time"
)

// StoreResult is what the metadata store returns for a store call.
// When Reused is true the content already existed: no attachment row was
// inserted, the link points at the pre-existing row, and Policy is that
// row's policy.
type StoreResult struct {
	Attachment *Attachment
	Link       *AttachmentLink
	Policy     *RetentionPolicy
	Reused     bool
}

// Database provides an interface for attachment metadata storage.
// Lookup methods return (nil, nil) when no row matches. StoreAttachment is
// the one write that must be transactional: it owns the digest+length
// uniqueness constraint and converts a concurrent duplicate insert into a
// reuse of the committed row.
type Database interface {
	// Attachment operations

	// FindAttachmentByID returns an attachment by its identifier.
	FindAttachmentByID(ctx context.Context, id string) (*Attachment, error)

	// FindAttachmentByDigest returns the attachment with the given content
	// digest, if any.
	FindAttachmentByDigest(ctx context.Context, digest string) (*Attachment, error)

	// FindAttachmentByDigestAndLength returns the attachment matching both
	// digest and byte length. This is the deduplication lookup.
	FindAttachmentByDigestAndLength(ctx context.Context, digest string, length int64) (*Attachment, error)

	// StoreAttachment inserts the attachment, its link, and its retention
	// policy in a single transaction. If the (digest, length) uniqueness
	// constraint rejects the insert, the committed row is re-queried, the
	// link is attached to it instead, and Reused is set. The provided
	// attachment's ID must already be assigned by the caller.
	StoreAttachment(ctx context.Context, att *Attachment, link *AttachmentLink, policy *RetentionPolicy) (*StoreResult, error)

	// ListAttachments returns non-purged attachments matching the filter,
	// newest first.
	ListAttachments(ctx context.Context, filter SummaryFilter) ([]*Attachment, error)

	// Link operations

	// FindLinksForEntity returns links (with attachments) for an entity,
	// newest first.
	FindLinksForEntity(ctx context.Context, entityType string, entityID int64) ([]*LinkWithAttachment, error)

	// DeleteLinkByID removes a link and returns the removed row, or
	// (nil, nil) if no such link exists.
	DeleteLinkByID(ctx context.Context, linkID string) (*AttachmentLink, error)

	// DeleteLink removes the link identified by the (entityType, entityID,
	// attachmentID) tuple and returns the removed row, or (nil, nil).
	DeleteLink(ctx context.Context, entityType string, entityID int64, attachmentID string) (*AttachmentLink, error)

	// DeleteLinksForAttachment removes every link referencing an attachment.
	// Used by hard retention purges.
	DeleteLinksForAttachment(ctx context.Context, attachmentID string) error

	// Retention operations

	// FindRetentionPolicy returns the policy for an attachment, or (nil, nil).
	FindRetentionPolicy(ctx context.Context, attachmentID string) (*RetentionPolicy, error)

	// CreateRetentionPolicies inserts the given policies in one transaction.
	CreateRetentionPolicies(ctx context.Context, policies []*RetentionPolicy) error

	// ListAttachmentIDsMissingRetention returns ids of attachments that have
	// no retention policy row. Feeds the backfill routine.
	ListAttachmentIDsMissingRetention(ctx context.Context) ([]string, error)

	// ListDueRetention returns policies whose retain-until has passed,
	// joined with their attachments.
	ListDueRetention(ctx context.Context, now time.Time) ([]*DueRetention, error)

	// MarkAttachmentSoftDeleted flags an attachment as soft-deleted.
	MarkAttachmentSoftDeleted(ctx context.Context, attachmentID string, at time.Time) error

	// MarkAttachmentPurged flags an attachment as hard-purged.
	MarkAttachmentPurged(ctx context.Context, attachmentID string, at time.Time) error

	// Close closes the database connection.
	Close() error
}
