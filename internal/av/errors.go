package av

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates a nil content stream or a missing required
// request field. Wrapped with detail at the call site.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound indicates a lookup for an attachment, link, or policy that
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrEncryptedContent indicates an attempt to download encrypted content
// without an unlocked decryption context.
var ErrEncryptedContent = errors.New("content is encrypted and no decryption context was provided")

// ErrQuarantined indicates an attempt to download content that the scanner
// flagged at upload time.
var ErrQuarantined = errors.New("content is quarantined")

// RetentionAssignmentError reports a failed policy write after the content
// was already durably stored. The content is not rolled back; assignment can
// be retried independently (e.g. via the backfill routine).
type RetentionAssignmentError struct {
	AttachmentID string
	Err          error
}

func (e *RetentionAssignmentError) Error() string {
	return fmt.Sprintf("assigning retention policy for attachment %s: %v", e.AttachmentID, e.Err)
}

func (e *RetentionAssignmentError) Unwrap() error { return e.Err }

// AuditEmissionError reports that the audit sink rejected the single audit
// record for an operation whose content is already durably stored. Callers
// receive the completed outcome alongside this error; the upload is never
// rolled back. A missing audit record is a compliance event to raise, not
// a reason to discard stored content.
type AuditEmissionError struct {
	AttachmentID string
	Digest       string
	Err          error
}

func (e *AuditEmissionError) Error() string {
	return fmt.Sprintf("emitting audit record for attachment %s (sha256 %s): %v", e.AttachmentID, e.Digest, e.Err)
}

func (e *AuditEmissionError) Unwrap() error { return e.Err }
