package av

import "time"

// Attachment statuses. The status describes the stored bytes: "uploaded" and
// "encrypted" name the at-rest encoding, "purged" means the bytes are gone,
// "quarantined" means the scanner flagged them. Soft deletion is tracked by
// the Deleted flag and SoftDeletedAt, not by status, so a soft-deleted row
// keeps the encoding of the blob it still owns.
const (
	StatusUploaded    = "uploaded"
	StatusEncrypted   = "encrypted"
	StatusQuarantined = "quarantined"
	StatusPurged      = "purged"
)

// Delete modes for retention policies.
const (
	DeleteModeSoft = "soft"
	DeleteModeHard = "hard"
)

// DefaultPolicyName is assigned to attachments that predate retention
// tracking and to uploads that don't request an explicit policy.
const DefaultPolicyName = "legacy-default"

// Attachment represents one physically stored, content-unique binary object.
// The pair (Digest, Length) is unique across all attachments; the uniqueness
// is enforced by a database constraint, not by application-level lookups.
type Attachment struct {
	ID            string // UUID
	Name          string // Display name
	FileName      string // Original file name
	ContentType   string
	Digest        string // SHA-256, lowercase hex
	Length        int64  // Byte length of the content
	Status        string
	Notes         string
	UploadedBy    string // Actor identity; empty when unknown
	ApprovedBy    string
	TenantID      string
	UploadedAt    time.Time
	Deleted       bool
	SoftDeletedAt *time.Time
}

// AttachmentLink associates an attachment with one logical owning entity.
// Many links may reference the same attachment; that sharing is what makes
// deduplication transparent to callers.
type AttachmentLink struct {
	ID           string // UUID
	AttachmentID string
	EntityType   string
	EntityID     int64
	LinkedBy     string
	LinkedAt     time.Time
}

// LinkWithAttachment pairs a link with its attachment for entity browse views.
type LinkWithAttachment struct {
	Link       AttachmentLink
	Attachment Attachment
}

// RetentionPolicy governs deletion eligibility for exactly one attachment.
type RetentionPolicy struct {
	ID             string // UUID
	AttachmentID   string
	PolicyName     string
	DeleteMode     string // "soft" or "hard"
	LegalHold      bool
	ReviewRequired bool
	RetainUntil    *time.Time
	CreatedBy      string
	CreatedAt      time.Time
}

// DueRetention is a retention policy whose retain-until has passed, joined
// with its attachment, as returned by the due-policy scan.
type DueRetention struct {
	Policy     RetentionPolicy
	Attachment Attachment
}
