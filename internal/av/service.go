package av

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Service is the orchestration layer for the attachment pipeline. Each
// upload runs hashing, the dedup pre-check, the transactional store, and a
// single audit emission, in that order. There is no shared mutable state
// between calls; the digest+length uniqueness constraint in the database is
// the one authority concurrent calls contend on.
type Service struct {
	db        Database
	blobs     BlobStore
	audit     AuditSink
	encryptor Encryptor      // nil disables at-rest encryption
	scanner   ContentScanner // nil disables content scanning
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewService creates a Service with the provided dependencies.
// encryptor may be nil; content is then stored as plain bytes.
// scanner may be nil; content is then never quarantined.
func NewService(db Database, blobs BlobStore, audit AuditSink, encryptor Encryptor, scanner ContentScanner, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		db:        db,
		blobs:     blobs,
		audit:     audit,
		encryptor: encryptor,
		scanner:   scanner,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Upload stores content for an entity and returns the structured outcome.
//
// The pipeline is: hash the stream (producing a replayable source), look up
// a pre-existing attachment by digest+length, upload the bytes to the blob
// store (idempotent by digest), then commit attachment+link+policy in one
// database transaction. If a concurrent identical upload won the race, the
// store reports the committed row and this call returns a deduplicated
// outcome instead of an error.
//
// An audit-sink failure after the store has committed does not roll the
// upload back: the completed outcome is returned together with a
// *AuditEmissionError.
func (s *Service) Upload(ctx context.Context, content io.Reader, req UploadRequest) (*UploadOutcome, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: content stream is nil", ErrInvalidInput)
	}
	if strings.TrimSpace(req.EntityType) == "" {
		return nil, fmt.Errorf("%w: entity type must be provided", ErrInvalidInput)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: file name must be provided", ErrInvalidInput)
	}

	prep, err := PrepareContent(ctx, content)
	if err != nil {
		return nil, err
	}
	defer prep.Close()

	existing, err := s.resolveExisting(ctx, prep.Digest, prep.Length)
	if err != nil {
		return nil, err
	}

	quarantined, err := s.scanContent(ctx, filepath.Base(req.FileName), prep)
	if err != nil {
		return nil, err
	}

	// Upload content first; it is idempotent by digest. If the database call
	// below fails, the worst outcome is an orphaned blob, which is harmless.
	encrypted := s.encryptor != nil && s.encryptor.IsConfigured()
	if err := s.putContent(ctx, prep, encrypted); err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}

	now := s.clock.Now()
	fileName := filepath.Base(req.FileName)

	att := &Attachment{
		ID:          s.idgen.New(),
		Name:        displayName(req.DisplayName, fileName),
		FileName:    fileName,
		ContentType: contentType(req.ContentType, fileName),
		Digest:      prep.Digest,
		Length:      prep.Length,
		Status:      uploadStatus(encrypted, quarantined),
		Notes:       appendNote(req.Notes, req.Reason),
		UploadedBy:  req.UploadedBy,
		TenantID:    req.TenantID,
		UploadedAt:  now,
	}
	link := &AttachmentLink{
		ID:           s.idgen.New(),
		AttachmentID: att.ID,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		LinkedBy:     req.UploadedBy,
		LinkedAt:     now,
	}
	policy := s.policyForRequest(att.ID, req, now)

	res, err := s.db.StoreAttachment(ctx, att, link, policy)
	if err != nil {
		return nil, fmt.Errorf("recording attachment: %w", err)
	}

	outcome := &UploadOutcome{
		Attachment:   res.Attachment,
		Link:         res.Link,
		Policy:       res.Policy,
		Digest:       prep.Digest,
		Length:       prep.Length,
		Deduplicated: res.Reused,
		Existing:     existing,
	}
	if res.Reused && outcome.Existing == nil {
		// The pre-check missed but the constraint caught it: a concurrent
		// identical upload committed between the lookup and the store.
		outcome.Existing = res.Attachment
	}

	if res.Reused {
		s.logger.Debug("content deduplicated", "sha256", prep.Digest, "attachment", res.Attachment.ID)
	}

	entry := AuditEntry{
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		AttachmentID: res.Attachment.ID,
		Actor:        actorOrUnknown(req.UploadedBy),
		Action:       AuditActionUpload,
		Description:  uploadAuditDescription(req, outcome, s.clock.Now()),
		At:           s.clock.Now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit emission failed after committed upload",
			"attachment", res.Attachment.ID, "sha256", prep.Digest, "error", err)
		return outcome, &AuditEmissionError{AttachmentID: res.Attachment.ID, Digest: prep.Digest, Err: err}
	}

	s.logger.Info("attachment uploaded",
		"attachment", res.Attachment.ID,
		"entity", fmt.Sprintf("%s:%d", req.EntityType, req.EntityID),
		"size", prep.Length,
		"deduplicated", res.Reused)
	return outcome, nil
}

// resolveExisting answers "does this content already exist". A missing
// digest (hashing was skipped) short-circuits to no match rather than
// querying with an empty key. The result feeds the audit description; the
// store's own constraint stays authoritative for the dedup decision.
func (s *Service) resolveExisting(ctx context.Context, digest string, length int64) (*Attachment, error) {
	if digest == "" {
		return nil, nil
	}
	att, err := s.db.FindAttachmentByDigestAndLength(ctx, digest, length)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	return att, nil
}

// scanContent runs the configured scanner over the hashed content and
// reports whether the upload must be quarantined. A scanner error aborts the
// upload; nothing has been stored at that point.
func (s *Service) scanContent(ctx context.Context, fileName string, prep *PreparedContent) (bool, error) {
	if s.scanner == nil {
		return false, nil
	}
	verdict, err := s.scanner.Scan(ctx, fileName, prep.Digest, prep.Length)
	if err != nil {
		return false, fmt.Errorf("scanning content: %w", err)
	}
	if !verdict.Clean {
		s.logger.Warn("content quarantined",
			"file", fileName, "sha256", prep.Digest,
			"engine", verdict.Engine, "detail", verdict.Detail)
		return true, nil
	}
	return false, nil
}

// putContent streams the prepared source into the blob store, encrypting
// on the fly when at-rest encryption is active. The ciphertext length is
// not known up front, so the encrypted path passes an unknown size.
func (s *Service) putContent(ctx context.Context, prep *PreparedContent, encrypted bool) error {
	if !encrypted {
		return s.blobs.Put(ctx, prep.Digest, prep.Source, prep.Length)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.encryptor.Encrypt(prep.Source, pw))
	}()
	// Closing the read end unblocks the encrypt goroutine if Put fails
	// before draining the pipe.
	defer pr.Close()
	return s.blobs.Put(ctx, prep.Digest, pr, -1)
}

// Download streams an attachment's content to w, honoring an optional byte
// range and decrypting when the content was stored encrypted. One READ
// audit entry is emitted per call; a failure there surfaces as a
// *AuditEmissionError alongside the completed result.
func (s *Service) Download(ctx context.Context, attachmentID string, w io.Writer, req ReadRequest) (*StreamResult, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: destination writer is nil", ErrInvalidInput)
	}

	att, err := s.db.FindAttachmentByID(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("finding attachment: %w", err)
	}
	if att == nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if att.Status == StatusPurged {
		return nil, fmt.Errorf("attachment %s content was purged: %w", attachmentID, ErrNotFound)
	}
	if att.Status == StatusQuarantined {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrQuarantined)
	}

	var written int64
	if att.Status == StatusEncrypted {
		if req.Decrypt == nil {
			return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrEncryptedContent)
		}
		written, err = s.downloadEncrypted(ctx, att.Digest, w, req.Decrypt, req.Range)
	} else {
		written, err = s.blobs.Get(ctx, att.Digest, w, req.Range)
	}
	if err != nil {
		return nil, fmt.Errorf("streaming content: %w", err)
	}

	result := &StreamResult{
		Attachment:   att,
		BytesWritten: written,
		TotalLength:  att.Length,
		Partial:      req.Range != nil,
	}

	// Downloads are keyed by attachment, not owning entity; the audit row
	// uses the attachment itself as the entity.
	entry := AuditEntry{
		EntityType:   "attachment",
		EntityID:     0,
		AttachmentID: att.ID,
		Actor:        actorOrUnknown(req.RequestedBy),
		Action:       AuditActionRead,
		Description:  readAuditDescription(att, req, written, s.clock.Now()),
		At:           s.clock.Now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit emission failed after download",
			"attachment", att.ID, "error", err)
		return result, &AuditEmissionError{AttachmentID: att.ID, Digest: att.Digest, Err: err}
	}

	return result, nil
}

// downloadEncrypted pipes the stored ciphertext through the decryption
// context and applies the byte range on the plaintext side.
func (s *Service) downloadEncrypted(ctx context.Context, digest string, w io.Writer, decrypt DecryptionContext, rng *ByteRange) (int64, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := s.blobs.Get(ctx, digest, pw, nil)
		pw.CloseWithError(err)
	}()
	// Closing the read end unblocks the Get goroutine if Decrypt fails
	// before draining the pipe.
	defer pr.Close()

	rw := newRangeWriter(w, rng)
	if err := decrypt.Decrypt(pr, rw); err != nil {
		return rw.written, err
	}
	return rw.written, nil
}

// LinksForEntity returns the attachment links for one owning entity,
// newest first.
func (s *Service) LinksForEntity(ctx context.Context, entityType string, entityID int64) ([]*LinkWithAttachment, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, fmt.Errorf("%w: entity type must be provided", ErrInvalidInput)
	}
	links, err := s.db.FindLinksForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("loading links: %w", err)
	}
	return links, nil
}

// RemoveLink removes a link by its identifier. Removing a link that does
// not exist is a no-op. The attachment itself is untouched; its lifetime is
// independent of any link.
func (s *Service) RemoveLink(ctx context.Context, linkID string, removedBy string) error {
	link, err := s.db.DeleteLinkByID(ctx, linkID)
	if err != nil {
		return fmt.Errorf("removing link: %w", err)
	}
	return s.auditUnlink(ctx, link, removedBy)
}

// RemoveLinkForEntity removes the link identified by the owning entity and
// attachment. Removing a link that does not exist is a no-op.
func (s *Service) RemoveLinkForEntity(ctx context.Context, entityType string, entityID int64, attachmentID string, removedBy string) error {
	if strings.TrimSpace(entityType) == "" {
		return fmt.Errorf("%w: entity type must be provided", ErrInvalidInput)
	}
	link, err := s.db.DeleteLink(ctx, entityType, entityID, attachmentID)
	if err != nil {
		return fmt.Errorf("removing link: %w", err)
	}
	return s.auditUnlink(ctx, link, removedBy)
}

// auditUnlink appends the UNLINK audit entry for a removed link. A nil link
// (no-op removal) emits nothing.
func (s *Service) auditUnlink(ctx context.Context, link *AttachmentLink, removedBy string) error {
	if link == nil {
		return nil
	}
	s.logger.Info("link removed", "link", link.ID, "attachment", link.AttachmentID)

	now := s.clock.Now()
	entry := AuditEntry{
		EntityType:   link.EntityType,
		EntityID:     link.EntityID,
		AttachmentID: link.AttachmentID,
		Actor:        actorOrUnknown(removedBy),
		Action:       AuditActionUnlink,
		Description: fmt.Sprintf("actor=%s; entity=%s:%d; attachment=%s; link=%s; ts=%s",
			actorOrUnknown(removedBy), link.EntityType, link.EntityID, link.AttachmentID,
			link.ID, now.UTC().Format(time.RFC3339)),
		At: now,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit emission failed after unlink",
			"link", link.ID, "attachment", link.AttachmentID, "error", err)
		return &AuditEmissionError{AttachmentID: link.AttachmentID, Err: err}
	}
	return nil
}

// FindByDigest looks up an attachment by content digest.
func (s *Service) FindByDigest(ctx context.Context, digest string) (*Attachment, error) {
	if strings.TrimSpace(digest) == "" {
		return nil, fmt.Errorf("%w: digest must be provided", ErrInvalidInput)
	}
	return s.db.FindAttachmentByDigest(ctx, digest)
}

// FindByDigestAndLength looks up an attachment by content digest and byte
// length, the same key the dedup constraint is built on.
func (s *Service) FindByDigestAndLength(ctx context.Context, digest string, length int64) (*Attachment, error) {
	if strings.TrimSpace(digest) == "" {
		return nil, fmt.Errorf("%w: digest must be provided", ErrInvalidInput)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: length must not be negative", ErrInvalidInput)
	}
	return s.db.FindAttachmentByDigestAndLength(ctx, digest, length)
}

// AttachmentSummaries returns attachments matching the filter for browse
// screens, newest first.
func (s *Service) AttachmentSummaries(ctx context.Context, filter SummaryFilter) ([]*Attachment, error) {
	return s.db.ListAttachments(ctx, filter)
}

// policyForRequest builds the retention policy row stored with a new
// attachment, applying defaults for anything the request leaves unset.
func (s *Service) policyForRequest(attachmentID string, req UploadRequest, now time.Time) *RetentionPolicy {
	name := req.PolicyName
	if name == "" {
		name = DefaultPolicyName
	}
	mode := req.DeleteMode
	if mode == "" {
		mode = DeleteModeSoft
	}
	return &RetentionPolicy{
		ID:           s.idgen.New(),
		AttachmentID: attachmentID,
		PolicyName:   name,
		DeleteMode:   mode,
		RetainUntil:  req.RetainUntil,
		CreatedBy:    req.UploadedBy,
		CreatedAt:    now,
	}
}

// uploadAuditDescription composes the single structured description for an
// upload audit record.
func uploadAuditDescription(req UploadRequest, outcome *UploadOutcome, now time.Time) string {
	sha := outcome.Digest
	if sha == "" {
		sha = "n/a"
	}
	dedupState := "new"
	existingID := "-"
	if outcome.Deduplicated {
		dedupState = "deduplicated"
	}
	if outcome.Existing != nil {
		existingID = outcome.Existing.ID
	}
	reason := req.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "none"
	}
	return fmt.Sprintf("actor=%s; entity=%s:%d; attachment=%s; sha=%s; size=%d; dedup=%s; existing=%s; reason=%s; ts=%s",
		actorOrUnknown(req.UploadedBy), req.EntityType, req.EntityID, outcome.Attachment.ID,
		sha, outcome.Length, dedupState, existingID, reason, now.UTC().Format(time.RFC3339))
}

func readAuditDescription(att *Attachment, req ReadRequest, written int64, now time.Time) string {
	reason := req.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "none"
	}
	partial := "full"
	if req.Range != nil {
		partial = fmt.Sprintf("range(offset=%d,length=%d)", req.Range.Offset, req.Range.Length)
	}
	return fmt.Sprintf("actor=%s; attachment=%s; sha=%s; bytes=%d; read=%s; reason=%s; ts=%s",
		actorOrUnknown(req.RequestedBy), att.ID, att.Digest, written, partial, reason,
		now.UTC().Format(time.RFC3339))
}

func actorOrUnknown(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "unknown"
	}
	return actor
}

func displayName(display, fileName string) string {
	if strings.TrimSpace(display) != "" {
		return display
	}
	return fileName
}

// contentType falls back to the lowercased file extension when the request
// does not declare a type.
func contentType(declared, fileName string) string {
	if strings.TrimSpace(declared) != "" {
		return declared
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}

func uploadStatus(encrypted, quarantined bool) string {
	switch {
	case quarantined:
		return StatusQuarantined
	case encrypted:
		return StatusEncrypted
	default:
		return StatusUploaded
	}
}

func appendNote(notes, reason string) string {
	notes = strings.TrimSpace(notes)
	reason = strings.TrimSpace(reason)
	switch {
	case notes == "":
		return reason
	case reason == "":
		return notes
	default:
		return notes + "; " + reason
	}
}

// rangeWriter applies a plaintext-side byte range: it discards the first
// Offset bytes, passes through at most Length bytes (when Length > 0), and
// then discards the rest. It always reports full consumption so upstream
// decryption can drain cleanly.
type rangeWriter struct {
	w         io.Writer
	skip      int64
	remaining int64
	limited   bool
	written   int64
}

func newRangeWriter(w io.Writer, rng *ByteRange) *rangeWriter {
	rw := &rangeWriter{w: w}
	if rng != nil {
		rw.skip = rng.Offset
		if rng.Length > 0 {
			rw.limited = true
			rw.remaining = rng.Length
		}
	}
	return rw
}

func (rw *rangeWriter) Write(p []byte) (int, error) {
	consumed := len(p)

	if rw.skip > 0 {
		if int64(len(p)) <= rw.skip {
			rw.skip -= int64(len(p))
			return consumed, nil
		}
		p = p[rw.skip:]
		rw.skip = 0
	}

	if rw.limited {
		if rw.remaining <= 0 {
			return consumed, nil
		}
		if int64(len(p)) > rw.remaining {
			p = p[:rw.remaining]
		}
	}

	n, err := rw.w.Write(p)
	rw.written += int64(n)
	if rw.limited {
		rw.remaining -= int64(n)
	}
	if err != nil {
		return 0, err
	}
	return consumed, nil
}
