package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"av-go/internal/av"
	"av-go/internal/blobstore"
	"av-go/internal/config"
	"av-go/internal/database"
	"av-go/internal/encryption"
)

// AVApp is the application layer between the CLI and the attachment service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the DB lifecycle on Close.
type AVApp struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	blobs     av.BlobStore
	encryptor av.Encryptor
	service   *av.Service
	retention *av.RetentionEngine
	logFile   *os.File
}

// NewAVApp creates a fully wired AVApp from the given config.
// operation identifies the CLI command being run (e.g. "Upload", "Enforce").
// The caller must call Close when done.
func NewAVApp(ctx context.Context, cfg *config.Config, operation string) (*AVApp, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	blobs, err := blobstore.NewBlobStoreFromConfig(ctx, cfg.BlobStore)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	adapter := &slogAdapter{l: logger}
	svc := av.NewService(store, blobs, store, enc, av.HeuristicScanner{}, adapter, av.RealClock{}, av.UUIDGenerator{})
	ret := av.NewRetentionEngine(store, blobs, store, adapter, av.RealClock{}, av.UUIDGenerator{})

	return &AVApp{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		encryptor: enc,
		service:   svc,
		retention: ret,
		logFile:   logFile,
	}, nil
}

// Upload opens the file at rawPath and ingests it. FileName defaults to the
// path's base name; retention defaults from config apply when the request does
// not name a policy.
func (a *AVApp) Upload(ctx context.Context, rawPath string, req av.UploadRequest) (*av.UploadOutcome, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	if req.FileName == "" {
		req.FileName = filepath.Base(absPath)
	}
	a.applyRetentionDefaults(&req)

	return a.service.Upload(ctx, f, req)
}

// applyRetentionDefaults fills unset retention fields from config.
func (a *AVApp) applyRetentionDefaults(req *av.UploadRequest) {
	if req.PolicyName != "" {
		return
	}
	if req.DeleteMode == "" {
		req.DeleteMode = a.cfg.Retention.DefaultDeleteMode
	}
	if req.RetainUntil == nil && a.cfg.Retention.DefaultRetainDays > 0 {
		until := time.Now().UTC().AddDate(0, 0, a.cfg.Retention.DefaultRetainDays)
		req.RetainUntil = &until
	}
}

// Download streams an attachment's content to rawPath. A rawPath of "-"
// writes to stdout.
func (a *AVApp) Download(ctx context.Context, attachmentID, rawPath string, req av.ReadRequest) (*av.StreamResult, error) {
	var w io.Writer
	if rawPath == "-" {
		w = os.Stdout
	} else {
		absPath, err := filepath.Abs(rawPath)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		f, err := os.Create(absPath)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return a.service.Download(ctx, attachmentID, w, req)
}

// Links returns all attachments linked to the given entity.
func (a *AVApp) Links(ctx context.Context, entityType string, entityID int64) ([]*av.LinkWithAttachment, error) {
	return a.service.LinksForEntity(ctx, entityType, entityID)
}

// Unlink removes a single link by its ID.
func (a *AVApp) Unlink(ctx context.Context, linkID string, removedBy string) error {
	return a.service.RemoveLink(ctx, linkID, removedBy)
}

// UnlinkEntity removes the link between an entity and an attachment.
func (a *AVApp) UnlinkEntity(ctx context.Context, entityType string, entityID int64, attachmentID string, removedBy string) error {
	return a.service.RemoveLinkForEntity(ctx, entityType, entityID, attachmentID, removedBy)
}

// Find looks up an attachment by digest, optionally narrowed by length.
// length < 0 matches any length.
func (a *AVApp) Find(ctx context.Context, digest string, length int64) (*av.Attachment, error) {
	if length < 0 {
		return a.service.FindByDigest(ctx, digest)
	}
	return a.service.FindByDigestAndLength(ctx, digest, length)
}

// List returns attachment summaries matching the filter.
func (a *AVApp) List(ctx context.Context, filter av.SummaryFilter) ([]*av.Attachment, error) {
	return a.service.AttachmentSummaries(ctx, filter)
}

// BackfillRetention assigns the default policy to attachments without one.
// Returns the number of policies created.
func (a *AVApp) BackfillRetention(ctx context.Context) (int, error) {
	return a.retention.BackfillMissing(ctx)
}

// EnforceRetention runs a single retention sweep.
func (a *AVApp) EnforceRetention(ctx context.Context) (*av.EnforcementSummary, error) {
	return a.retention.EnforceOnce(ctx)
}

// AuditTrail returns the most recent audit entries for an entity.
func (a *AVApp) AuditTrail(ctx context.Context, entityType string, entityID int64, limit int) ([]*av.AuditEntry, error) {
	return a.store.ListAuditEntries(ctx, entityType, entityID, limit)
}

// SetupKeys generates the encryption key pair protected by the passphrase.
func (a *AVApp) SetupKeys(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// Unlock decrypts the private key for downloading encrypted content.
func (a *AVApp) Unlock(passphrase string) (av.DecryptionContext, error) {
	return a.encryptor.Unlock(passphrase)
}

// EncryptionConfigured reports whether encryption keys are in place.
func (a *AVApp) EncryptionConfigured() bool {
	return a.encryptor.IsConfigured()
}

// ValidateSetup verifies that the blob store is reachable.
func (a *AVApp) ValidateSetup(ctx context.Context) error {
	return a.blobs.ValidateSetup(ctx)
}

// Close closes all resources.
func (a *AVApp) Close() error {
	var firstErr error

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
