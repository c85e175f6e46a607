package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"av-go/internal/av"
	"av-go/internal/database/migrations"
)

// SQLiteStore implements av.Database and av.AuditSink using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a properly configured
// connection. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward
	// compatibility) and wait for locks instead of failing immediately.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// An in-memory database exists per connection; pooling more than one
	// connection would hand out empty databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint rejection from SQLite.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint &&
		(serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// Attachment operations

const attachmentColumns = `id, name, file_name, content_type, sha256, file_size, status, notes,
	uploaded_by, approved_by, tenant_id, uploaded_at, is_deleted, soft_deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*av.Attachment, error) {
	var a av.Attachment
	var contentType, notes, uploadedBy, approvedBy, tenantID sql.NullString
	var softDeletedAt sql.NullTime

	err := row.Scan(&a.ID, &a.Name, &a.FileName, &contentType, &a.Digest, &a.Length,
		&a.Status, &notes, &uploadedBy, &approvedBy, &tenantID, &a.UploadedAt,
		&a.Deleted, &softDeletedAt)
	if err != nil {
		return nil, err
	}

	a.ContentType = contentType.String
	a.Notes = notes.String
	a.UploadedBy = uploadedBy.String
	a.ApprovedBy = approvedBy.String
	a.TenantID = tenantID.String
	if softDeletedAt.Valid {
		t := softDeletedAt.Time
		a.SoftDeletedAt = &t
	}
	return &a, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func findAttachment(ctx context.Context, q querier, where string, args ...any) (*av.Attachment, error) {
	row := q.QueryRowContext(ctx, "SELECT "+attachmentColumns+" FROM attachments WHERE "+where, args...)
	att, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding attachment: %w", err)
	}
	return att, nil
}

func (s *SQLiteStore) FindAttachmentByID(ctx context.Context, id string) (*av.Attachment, error) {
	return findAttachment(ctx, s.db, "id = ?", id)
}

func (s *SQLiteStore) FindAttachmentByDigest(ctx context.Context, digest string) (*av.Attachment, error) {
	return findAttachment(ctx, s.db, "sha256 = ?", digest)
}

func (s *SQLiteStore) FindAttachmentByDigestAndLength(ctx context.Context, digest string, length int64) (*av.Attachment, error) {
	return findAttachment(ctx, s.db, "sha256 = ? AND file_size = ?", digest, length)
}

const insertAttachmentSQL = `INSERT INTO attachments
	(id, name, file_name, content_type, sha256, file_size, status, notes,
	 uploaded_by, approved_by, tenant_id, uploaded_at, is_deleted, soft_deleted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`

func insertAttachment(ctx context.Context, q querier, a *av.Attachment) error {
	_, err := q.ExecContext(ctx, insertAttachmentSQL,
		a.ID, a.Name, a.FileName, nullStr(a.ContentType), a.Digest, a.Length,
		a.Status, nullStr(a.Notes), nullStr(a.UploadedBy), nullStr(a.ApprovedBy),
		nullStr(a.TenantID), a.UploadedAt.UTC())
	return err
}

const insertLinkSQL = `INSERT INTO attachment_links
	(id, attachment_id, entity_type, entity_id, linked_by, linked_at)
	VALUES (?, ?, ?, ?, ?, ?)`

func insertLink(ctx context.Context, q querier, l *av.AttachmentLink) error {
	_, err := q.ExecContext(ctx, insertLinkSQL,
		l.ID, l.AttachmentID, l.EntityType, l.EntityID, nullStr(l.LinkedBy), l.LinkedAt.UTC())
	return err
}

const insertPolicySQL = `INSERT INTO retention_policies
	(id, attachment_id, policy_name, delete_mode, legal_hold, review_required,
	 retain_until, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertPolicy(ctx context.Context, q querier, p *av.RetentionPolicy) error {
	var retainUntil any
	if p.RetainUntil != nil {
		retainUntil = p.RetainUntil.UTC()
	}
	_, err := q.ExecContext(ctx, insertPolicySQL,
		p.ID, p.AttachmentID, p.PolicyName, p.DeleteMode, p.LegalHold, p.ReviewRequired,
		retainUntil, nullStr(p.CreatedBy), p.CreatedAt.UTC())
	return err
}

// StoreAttachment atomically records an upload:
//  1. Inserts the attachment row. The UNIQUE (sha256, file_size) index is
//     the authority on deduplication: if the insert is rejected, a row with
//     the same content is already committed; re-query it and attach the
//     link to it instead.
//  2. Inserts the retention policy (for a new attachment, or for a reused
//     legacy row that predates retention tracking).
//  3. Inserts the link, which is created on every call including
//     deduplicated ones.
//
// Inputs are not mutated; the result carries the rows as stored.
func (s *SQLiteStore) StoreAttachment(ctx context.Context, att *av.Attachment, link *av.AttachmentLink, policy *av.RetentionPolicy) (*av.StoreResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res := &av.StoreResult{}
	storedLink := *link

	err = insertAttachment(ctx, tx, att)
	switch {
	case err == nil:
		stored := *att
		res.Attachment = &stored

		storedPolicy := *policy
		storedPolicy.AttachmentID = stored.ID
		if err := insertPolicy(ctx, tx, &storedPolicy); err != nil {
			return nil, fmt.Errorf("creating retention policy: %w", err)
		}
		res.Policy = &storedPolicy

	case isUniqueViolation(err):
		// A concurrent identical upload (or an earlier one) already
		// committed this content. The committed row wins.
		existing, ferr := findAttachment(ctx, tx, "sha256 = ? AND file_size = ?", att.Digest, att.Length)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("uniqueness constraint rejected insert but no row matches sha256 %s", att.Digest)
		}
		if existing.Deleted {
			// The content is being uploaded again, so the row returns to
			// live state. A purged row's bytes were just re-stored by this
			// upload and take the new status; a soft-deleted row keeps its
			// blob and therefore its status.
			status := existing.Status
			if status == av.StatusPurged {
				status = att.Status
			}
			_, uerr := tx.ExecContext(ctx, `UPDATE attachments
				SET status = ?, is_deleted = 0, soft_deleted_at = NULL
				WHERE id = ?`, status, existing.ID)
			if uerr != nil {
				return nil, fmt.Errorf("reviving attachment: %w", uerr)
			}
			existing.Status = status
			existing.Deleted = false
			existing.SoftDeletedAt = nil
		}
		res.Attachment = existing
		res.Reused = true

		existingPolicy, perr := findRetentionPolicy(ctx, tx, existing.ID)
		if perr != nil {
			return nil, perr
		}
		if existingPolicy == nil {
			// Legacy row without a policy: assign one now so the invariant
			// holds as soon as this call returns.
			storedPolicy := *policy
			storedPolicy.AttachmentID = existing.ID
			if err := insertPolicy(ctx, tx, &storedPolicy); err != nil {
				return nil, fmt.Errorf("creating retention policy: %w", err)
			}
			res.Policy = &storedPolicy
		} else {
			res.Policy = existingPolicy
		}

	default:
		return nil, fmt.Errorf("inserting attachment: %w", err)
	}

	storedLink.AttachmentID = res.Attachment.ID
	if err := insertLink(ctx, tx, &storedLink); err != nil {
		return nil, fmt.Errorf("creating link: %w", err)
	}
	res.Link = &storedLink

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return res, nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, filter av.SummaryFilter) ([]*av.Attachment, error) {
	query := "SELECT " + attachmentColumns + " FROM attachments WHERE status != ?"
	args := []any{av.StatusPurged}

	if filter.EntityType != "" {
		query += " AND EXISTS (SELECT 1 FROM attachment_links l WHERE l.attachment_id = attachments.id AND l.entity_type = ?)"
		args = append(args, filter.EntityType)
	}
	if filter.ContentType != "" {
		query += " AND content_type = ?"
		args = append(args, filter.ContentType)
	}
	if filter.Search != "" {
		query += " AND (name LIKE ? OR file_name LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY uploaded_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var result []*av.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		result = append(result, att)
	}
	return result, rows.Err()
}

// Link operations

const linkColumns = "id, attachment_id, entity_type, entity_id, linked_by, linked_at"

func scanLink(row rowScanner) (*av.AttachmentLink, error) {
	var l av.AttachmentLink
	var linkedBy sql.NullString
	if err := row.Scan(&l.ID, &l.AttachmentID, &l.EntityType, &l.EntityID, &linkedBy, &l.LinkedAt); err != nil {
		return nil, err
	}
	l.LinkedBy = linkedBy.String
	return &l, nil
}

func (s *SQLiteStore) FindLinksForEntity(ctx context.Context, entityType string, entityID int64) ([]*av.LinkWithAttachment, error) {
	query := `SELECT l.id, l.attachment_id, l.entity_type, l.entity_id, l.linked_by, l.linked_at,
		a.id, a.name, a.file_name, a.content_type, a.sha256, a.file_size, a.status, a.notes,
		a.uploaded_by, a.approved_by, a.tenant_id, a.uploaded_at, a.is_deleted, a.soft_deleted_at
		FROM attachment_links l
		JOIN attachments a ON a.id = l.attachment_id
		WHERE l.entity_type = ? AND l.entity_id = ?
		ORDER BY l.linked_at DESC, l.id DESC`

	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("finding links: %w", err)
	}
	defer rows.Close()

	var result []*av.LinkWithAttachment
	for rows.Next() {
		var lw av.LinkWithAttachment
		var linkedBy, contentType, notes, uploadedBy, approvedBy, tenantID sql.NullString
		var softDeletedAt sql.NullTime
		err := rows.Scan(
			&lw.Link.ID, &lw.Link.AttachmentID, &lw.Link.EntityType, &lw.Link.EntityID, &linkedBy, &lw.Link.LinkedAt,
			&lw.Attachment.ID, &lw.Attachment.Name, &lw.Attachment.FileName, &contentType,
			&lw.Attachment.Digest, &lw.Attachment.Length, &lw.Attachment.Status, &notes,
			&uploadedBy, &approvedBy, &tenantID, &lw.Attachment.UploadedAt,
			&lw.Attachment.Deleted, &softDeletedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		lw.Link.LinkedBy = linkedBy.String
		lw.Attachment.ContentType = contentType.String
		lw.Attachment.Notes = notes.String
		lw.Attachment.UploadedBy = uploadedBy.String
		lw.Attachment.ApprovedBy = approvedBy.String
		lw.Attachment.TenantID = tenantID.String
		if softDeletedAt.Valid {
			t := softDeletedAt.Time
			lw.Attachment.SoftDeletedAt = &t
		}
		result = append(result, &lw)
	}
	return result, rows.Err()
}

// deleteLink removes the first link matching where and returns the removed
// row, or (nil, nil) when nothing matched.
func (s *SQLiteStore) deleteLink(ctx context.Context, where string, args ...any) (*av.AttachmentLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+linkColumns+" FROM attachment_links WHERE "+where, args...)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM attachment_links WHERE id = ?", link.ID); err != nil {
		return nil, fmt.Errorf("deleting link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return link, nil
}

func (s *SQLiteStore) DeleteLinkByID(ctx context.Context, linkID string) (*av.AttachmentLink, error) {
	return s.deleteLink(ctx, "id = ?", linkID)
}

func (s *SQLiteStore) DeleteLink(ctx context.Context, entityType string, entityID int64, attachmentID string) (*av.AttachmentLink, error) {
	return s.deleteLink(ctx, "entity_type = ? AND entity_id = ? AND attachment_id = ?", entityType, entityID, attachmentID)
}

func (s *SQLiteStore) DeleteLinksForAttachment(ctx context.Context, attachmentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM attachment_links WHERE attachment_id = ?", attachmentID); err != nil {
		return fmt.Errorf("deleting links for attachment: %w", err)
	}
	return nil
}

// Retention operations

const policyColumns = `id, attachment_id, policy_name, delete_mode, legal_hold, review_required,
	retain_until, created_by, created_at`

func scanPolicy(row rowScanner) (*av.RetentionPolicy, error) {
	var p av.RetentionPolicy
	var retainUntil sql.NullTime
	var createdBy sql.NullString
	err := row.Scan(&p.ID, &p.AttachmentID, &p.PolicyName, &p.DeleteMode,
		&p.LegalHold, &p.ReviewRequired, &retainUntil, &createdBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if retainUntil.Valid {
		t := retainUntil.Time
		p.RetainUntil = &t
	}
	p.CreatedBy = createdBy.String
	return &p, nil
}

func findRetentionPolicy(ctx context.Context, q querier, attachmentID string) (*av.RetentionPolicy, error) {
	row := q.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM retention_policies WHERE attachment_id = ?", attachmentID)
	policy, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding retention policy: %w", err)
	}
	return policy, nil
}

func (s *SQLiteStore) FindRetentionPolicy(ctx context.Context, attachmentID string) (*av.RetentionPolicy, error) {
	return findRetentionPolicy(ctx, s.db, attachmentID)
}

func (s *SQLiteStore) CreateRetentionPolicies(ctx context.Context, policies []*av.RetentionPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range policies {
		if err := insertPolicy(ctx, tx, p); err != nil {
			return fmt.Errorf("creating retention policy for attachment %s: %w", p.AttachmentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAttachmentIDsMissingRetention(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.id FROM attachments a
		LEFT JOIN retention_policies rp ON rp.attachment_id = a.id
		WHERE rp.id IS NULL
		ORDER BY a.uploaded_at`)
	if err != nil {
		return nil, fmt.Errorf("listing attachments without retention: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning attachment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ListDueRetention(ctx context.Context, now time.Time) ([]*av.DueRetention, error) {
	query := `SELECT rp.id, rp.attachment_id, rp.policy_name, rp.delete_mode, rp.legal_hold,
		rp.review_required, rp.retain_until, rp.created_by, rp.created_at,
		a.id, a.name, a.file_name, a.content_type, a.sha256, a.file_size, a.status, a.notes,
		a.uploaded_by, a.approved_by, a.tenant_id, a.uploaded_at, a.is_deleted, a.soft_deleted_at
		FROM retention_policies rp
		JOIN attachments a ON a.id = rp.attachment_id
		WHERE rp.retain_until IS NOT NULL AND rp.retain_until <= ?
		ORDER BY rp.retain_until`

	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing due retention policies: %w", err)
	}
	defer rows.Close()

	var result []*av.DueRetention
	for rows.Next() {
		var d av.DueRetention
		var retainUntil, softDeletedAt sql.NullTime
		var createdBy, contentType, notes, uploadedBy, approvedBy, tenantID sql.NullString
		err := rows.Scan(
			&d.Policy.ID, &d.Policy.AttachmentID, &d.Policy.PolicyName, &d.Policy.DeleteMode,
			&d.Policy.LegalHold, &d.Policy.ReviewRequired, &retainUntil, &createdBy, &d.Policy.CreatedAt,
			&d.Attachment.ID, &d.Attachment.Name, &d.Attachment.FileName, &contentType,
			&d.Attachment.Digest, &d.Attachment.Length, &d.Attachment.Status, &notes,
			&uploadedBy, &approvedBy, &tenantID, &d.Attachment.UploadedAt,
			&d.Attachment.Deleted, &softDeletedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning due retention policy: %w", err)
		}
		if retainUntil.Valid {
			t := retainUntil.Time
			d.Policy.RetainUntil = &t
		}
		d.Policy.CreatedBy = createdBy.String
		d.Attachment.ContentType = contentType.String
		d.Attachment.Notes = notes.String
		d.Attachment.UploadedBy = uploadedBy.String
		d.Attachment.ApprovedBy = approvedBy.String
		d.Attachment.TenantID = tenantID.String
		if softDeletedAt.Valid {
			t := softDeletedAt.Time
			d.Attachment.SoftDeletedAt = &t
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

// MarkAttachmentSoftDeleted flags the row deleted. The status column is left
// alone: it describes the blob's encoding, and the blob survives a soft
// delete.
func (s *SQLiteStore) MarkAttachmentSoftDeleted(ctx context.Context, attachmentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attachments
		SET is_deleted = 1,
		    soft_deleted_at = COALESCE(soft_deleted_at, ?)
		WHERE id = ?`, at.UTC(), attachmentID)
	if err != nil {
		return fmt.Errorf("soft-deleting attachment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkAttachmentPurged(ctx context.Context, attachmentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attachments
		SET is_deleted = 1,
		    soft_deleted_at = ?,
		    status = ?
		WHERE id = ?`, at.UTC(), av.StatusPurged, attachmentID)
	if err != nil {
		return fmt.Errorf("purging attachment: %w", err)
	}
	return nil
}

// Audit operations

// Append adds one record to the append-only audit trail.
func (s *SQLiteStore) Append(ctx context.Context, entry av.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log
		(entity_type, entity_id, attachment_id, actor, action, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EntityType, entry.EntityID, nullStr(entry.AttachmentID),
		entry.Actor, entry.Action, entry.Description, entry.At.UTC())
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit records for an entity, newest first.
// limit <= 0 returns everything.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, entityType string, entityID int64, limit int) ([]*av.AuditEntry, error) {
	query := `SELECT entity_type, entity_id, attachment_id, actor, action, description, created_at
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{entityType, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var result []*av.AuditEntry
	for rows.Next() {
		var e av.AuditEntry
		var attachmentID sql.NullString
		if err := rows.Scan(&e.EntityType, &e.EntityID, &attachmentID, &e.Actor, &e.Action, &e.Description, &e.At); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.AttachmentID = attachmentID.String
		result = append(result, &e)
	}
	return result, rows.Err()
}

// nullStr maps an empty string to NULL so optional text columns stay NULL
// instead of accumulating empty strings.
func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// Compile-time checks that SQLiteStore implements the av interfaces.
var (
	_ av.Database  = (*SQLiteStore)(nil)
	_ av.AuditSink = (*SQLiteStore)(nil)
)
