package av

import "time"

// UploadRequest carries everything an upload needs. The actor identity is an
// explicit field rather than ambient session state so every call is
// self-describing in the audit trail.
type UploadRequest struct {
	EntityType  string // Required, e.g. "work_order"
	EntityID    int64
	FileName    string // Required
	DisplayName string // Optional; defaults to FileName
	ContentType string
	UploadedBy  string // Actor id; empty means unknown
	TenantID    string
	Reason      string // Free-text reason recorded in the audit trail
	Notes       string

	// Optional explicit retention. When PolicyName is empty the default
	// policy ("legacy-default", soft delete, no hold, no review) applies.
	PolicyName  string
	DeleteMode  string
	RetainUntil *time.Time
}

// UploadOutcome describes what an upload did. Deduplicated means the content
// already existed and only a new link was created; Existing is then the
// attachment that was matched.
type UploadOutcome struct {
	Attachment   *Attachment
	Link         *AttachmentLink
	Policy       *RetentionPolicy
	Digest       string
	Length       int64
	Deduplicated bool
	Existing     *Attachment
}

// ByteRange selects part of an attachment's content for download.
// Length <= 0 means "to the end".
type ByteRange struct {
	Offset int64
	Length int64
}

// ReadRequest carries the context of a download call.
type ReadRequest struct {
	RequestedBy string
	Reason      string
	Range       *ByteRange
	// Decrypt must be an unlocked decryption context when the attachment
	// was stored encrypted; nil otherwise.
	Decrypt DecryptionContext
}

// StreamResult describes a completed download.
type StreamResult struct {
	Attachment   *Attachment
	BytesWritten int64
	TotalLength  int64
	Partial      bool
}

// SummaryFilter narrows the attachment browse list. Empty fields match
// everything; Search matches against name and file name.
type SummaryFilter struct {
	EntityType  string
	ContentType string
	Search      string
}
