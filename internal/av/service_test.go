package av_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"av-go/internal/av"
	"av-go/internal/blobstore"
	"av-go/internal/database"
	"av-go/internal/testutil"
)

type serviceFixture struct {
	store *database.SQLiteStore
	blobs *blobstore.MemoryStore
	sink  *testutil.RecordingAuditSink
	clock *testutil.StubClock
	svc   *av.Service
}

func newServiceFixture(t *testing.T, encryptor av.Encryptor) *serviceFixture {
	t.Helper()

	store := testutil.NewTestStore(t)
	blobs := blobstore.NewMemoryStore()
	sink := testutil.NewRecordingAuditSink()
	clock := testutil.FixedClock()

	svc := av.NewService(store, blobs, sink, encryptor, nil, av.NewNopLogger(), clock, testutil.NewStubIDGenerator())

	return &serviceFixture{store: store, blobs: blobs, sink: sink, clock: clock, svc: svc}
}

func uploadReq(entityType string, entityID int64) av.UploadRequest {
	return av.UploadRequest{
		EntityType: entityType,
		EntityID:   entityID,
		FileName:   "report.pdf",
		UploadedBy: "qa.user",
		Reason:     "deviation evidence",
	}
}

func TestService_Upload_New(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("calibration certificate")

	outcome, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 42))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if outcome.Deduplicated {
		t.Error("Deduplicated = true, want false")
	}
	if outcome.Existing != nil {
		t.Errorf("Existing = %v, want nil", outcome.Existing)
	}
	if want := testutil.SHA256Hex(data); outcome.Digest != want {
		t.Errorf("Digest = %s, want %s", outcome.Digest, want)
	}
	if outcome.Length != int64(len(data)) {
		t.Errorf("Length = %d, want %d", outcome.Length, len(data))
	}

	att := outcome.Attachment
	if att.FileName != "report.pdf" {
		t.Errorf("FileName = %q, want %q", att.FileName, "report.pdf")
	}
	if att.Name != "report.pdf" {
		t.Errorf("Name = %q, want file name fallback", att.Name)
	}
	if att.ContentType != "pdf" {
		t.Errorf("ContentType = %q, want extension fallback %q", att.ContentType, "pdf")
	}
	if att.Status != av.StatusUploaded {
		t.Errorf("Status = %q, want %q", att.Status, av.StatusUploaded)
	}

	if outcome.Link.EntityType != "work_order" || outcome.Link.EntityID != 42 {
		t.Errorf("Link entity = %s:%d, want work_order:42", outcome.Link.EntityType, outcome.Link.EntityID)
	}
	if outcome.Link.AttachmentID != att.ID {
		t.Errorf("Link.AttachmentID = %s, want %s", outcome.Link.AttachmentID, att.ID)
	}

	// Default retention policy assigned in the same transaction.
	if outcome.Policy == nil {
		t.Fatal("Policy = nil, want default policy")
	}
	if outcome.Policy.PolicyName != av.DefaultPolicyName {
		t.Errorf("PolicyName = %q, want %q", outcome.Policy.PolicyName, av.DefaultPolicyName)
	}
	if outcome.Policy.DeleteMode != av.DeleteModeSoft {
		t.Errorf("DeleteMode = %q, want %q", outcome.Policy.DeleteMode, av.DeleteModeSoft)
	}

	// Bytes landed in the blob store under the digest.
	var buf bytes.Buffer
	if _, err := f.blobs.Get(ctx, outcome.Digest, &buf, nil); err != nil {
		t.Fatalf("blob Get() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("stored blob does not match uploaded content")
	}

	// Exactly one audit entry.
	entries := f.sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != av.AuditActionUpload {
		t.Errorf("audit Action = %q, want %q", e.Action, av.AuditActionUpload)
	}
	if e.Actor != "qa.user" {
		t.Errorf("audit Actor = %q, want %q", e.Actor, "qa.user")
	}
	if !strings.Contains(e.Description, "dedup=new") {
		t.Errorf("audit description missing dedup=new: %q", e.Description)
	}
	if !strings.Contains(e.Description, "sha="+outcome.Digest) {
		t.Errorf("audit description missing digest: %q", e.Description)
	}
	if !strings.Contains(e.Description, "reason=deviation evidence") {
		t.Errorf("audit description missing reason: %q", e.Description)
	}
}

func TestService_Upload_Deduplicated(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("shared SOP document")

	first, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 1))
	if err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}

	second, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("capa_case", 9))
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}

	if !second.Deduplicated {
		t.Error("second upload Deduplicated = false, want true")
	}
	if second.Existing == nil || second.Existing.ID != first.Attachment.ID {
		t.Errorf("Existing = %+v, want attachment %s", second.Existing, first.Attachment.ID)
	}
	if second.Attachment.ID != first.Attachment.ID {
		t.Errorf("Attachment.ID = %s, want reused %s", second.Attachment.ID, first.Attachment.ID)
	}
	if second.Link.ID == first.Link.ID {
		t.Error("second upload reused the first link; want a fresh link")
	}
	if second.Link.EntityType != "capa_case" {
		t.Errorf("Link.EntityType = %q, want %q", second.Link.EntityType, "capa_case")
	}

	// Only one physical attachment row exists.
	atts, err := f.store.ListAttachments(ctx, av.SummaryFilter{})
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(atts) != 1 {
		t.Errorf("attachments = %d, want 1", len(atts))
	}

	// One audit entry per upload, the second marked deduplicated.
	entries := f.sink.Entries()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if !strings.Contains(entries[1].Description, "dedup=deduplicated") {
		t.Errorf("second audit description missing dedup=deduplicated: %q", entries[1].Description)
	}
	if !strings.Contains(entries[1].Description, "existing="+first.Attachment.ID) {
		t.Errorf("second audit description missing existing id: %q", entries[1].Description)
	}
}

func TestService_Upload_ConcurrentIdentical(t *testing.T) {
	f := newServiceFixture(t, nil)
	data := []byte("raced content")

	var wg sync.WaitGroup
	outcomes := make([]*av.UploadOutcome, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			outcomes[n], errs[n] = f.svc.Upload(context.Background(),
				bytes.NewReader(data), uploadReq("work_order", int64(n+1)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("upload %d error = %v", i, err)
		}
	}

	// The uniqueness constraint lets exactly one insert through; the loser
	// is resolved to a deduplicated outcome, not an error.
	dedups := 0
	for _, o := range outcomes {
		if o.Deduplicated {
			dedups++
		}
	}
	if dedups != 1 {
		t.Errorf("deduplicated outcomes = %d, want exactly 1", dedups)
	}
	if outcomes[0].Attachment.ID != outcomes[1].Attachment.ID {
		t.Errorf("attachment ids differ: %s vs %s", outcomes[0].Attachment.ID, outcomes[1].Attachment.ID)
	}

	atts, err := f.store.ListAttachments(context.Background(), av.SummaryFilter{})
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(atts) != 1 {
		t.Errorf("attachments = %d, want 1", len(atts))
	}

	if entries := f.sink.Entries(); len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

func TestService_Upload_AuditFailure(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	f.sink.FailWith = errors.New("audit store down")

	outcome, err := f.svc.Upload(ctx, bytes.NewReader([]byte("content")), uploadReq("work_order", 7))

	// The upload is committed; the caller gets the outcome AND the error.
	if outcome == nil {
		t.Fatal("outcome = nil, want completed outcome")
	}
	var auditErr *av.AuditEmissionError
	if !errors.As(err, &auditErr) {
		t.Fatalf("error = %v, want *AuditEmissionError", err)
	}
	if auditErr.AttachmentID != outcome.Attachment.ID {
		t.Errorf("AuditEmissionError.AttachmentID = %s, want %s", auditErr.AttachmentID, outcome.Attachment.ID)
	}

	stored, err := f.store.FindAttachmentByID(ctx, outcome.Attachment.ID)
	if err != nil {
		t.Fatalf("FindAttachmentByID() error = %v", err)
	}
	if stored == nil {
		t.Error("attachment was rolled back after audit failure; want it kept")
	}
}

func TestService_Upload_InvalidInput(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	t.Run("nil content", func(t *testing.T) {
		_, err := f.svc.Upload(ctx, nil, uploadReq("work_order", 1))
		if !errors.Is(err, av.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("missing entity type", func(t *testing.T) {
		req := uploadReq("  ", 1)
		_, err := f.svc.Upload(ctx, bytes.NewReader([]byte("x")), req)
		if !errors.Is(err, av.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("missing file name", func(t *testing.T) {
		req := uploadReq("work_order", 1)
		req.FileName = ""
		_, err := f.svc.Upload(ctx, bytes.NewReader([]byte("x")), req)
		if !errors.Is(err, av.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	// Nothing reached the audit trail.
	if entries := f.sink.Entries(); len(entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(entries))
	}
}

func TestService_Upload_EmptyContent(t *testing.T) {
	f := newServiceFixture(t, nil)

	outcome, err := f.svc.Upload(context.Background(), bytes.NewReader(nil), uploadReq("work_order", 1))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if outcome.Digest != emptySHA256 {
		t.Errorf("Digest = %s, want empty-content digest", outcome.Digest)
	}
	if outcome.Length != 0 {
		t.Errorf("Length = %d, want 0", outcome.Length)
	}
}

func TestService_Upload_ExplicitPolicy(t *testing.T) {
	f := newServiceFixture(t, nil)

	until := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)
	req := uploadReq("work_order", 3)
	req.PolicyName = "gmp-archive-7y"
	req.DeleteMode = av.DeleteModeHard
	req.RetainUntil = &until

	outcome, err := f.svc.Upload(context.Background(), bytes.NewReader([]byte("batch record")), req)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	p := outcome.Policy
	if p.PolicyName != "gmp-archive-7y" {
		t.Errorf("PolicyName = %q, want %q", p.PolicyName, "gmp-archive-7y")
	}
	if p.DeleteMode != av.DeleteModeHard {
		t.Errorf("DeleteMode = %q, want %q", p.DeleteMode, av.DeleteModeHard)
	}
	if p.RetainUntil == nil || !p.RetainUntil.Equal(until) {
		t.Errorf("RetainUntil = %v, want %v", p.RetainUntil, until)
	}
}

func TestService_Download(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("0123456789abcdef")

	outcome, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 1))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	id := outcome.Attachment.ID

	t.Run("full content", func(t *testing.T) {
		var buf bytes.Buffer
		result, err := f.svc.Download(ctx, id, &buf, av.ReadRequest{RequestedBy: "auditor"})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		if !bytes.Equal(buf.Bytes(), data) {
			t.Error("downloaded content does not match upload")
		}
		if result.BytesWritten != int64(len(data)) {
			t.Errorf("BytesWritten = %d, want %d", result.BytesWritten, len(data))
		}
		if result.Partial {
			t.Error("Partial = true for full download")
		}
	})

	t.Run("byte range", func(t *testing.T) {
		var buf bytes.Buffer
		result, err := f.svc.Download(ctx, id, &buf, av.ReadRequest{
			Range: &av.ByteRange{Offset: 10, Length: 4},
		})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		if buf.String() != "abcd" {
			t.Errorf("range content = %q, want %q", buf.String(), "abcd")
		}
		if !result.Partial {
			t.Error("Partial = false for ranged download")
		}
	})

	t.Run("emits one read audit entry per call", func(t *testing.T) {
		seen := 0
		for _, e := range f.sink.Entries() {
			if e.Action == av.AuditActionRead && e.AttachmentID == id {
				seen++
			}
		}
		if seen != 2 {
			t.Errorf("READ audit entries = %d, want 2", seen)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := f.svc.Download(ctx, "no-such-id", &buf, av.ReadRequest{})
		if !errors.Is(err, av.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("purged content", func(t *testing.T) {
		if err := f.store.MarkAttachmentPurged(ctx, id, f.clock.Now()); err != nil {
			t.Fatalf("MarkAttachmentPurged() error = %v", err)
		}

		var buf bytes.Buffer
		_, err := f.svc.Download(ctx, id, &buf, av.ReadRequest{})
		if !errors.Is(err, av.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestService_EncryptedRoundTrip(t *testing.T) {
	f := newServiceFixture(t, testutil.NewTestEncryptor())
	ctx := context.Background()
	data := []byte("confidential batch deviation report")

	outcome, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("deviation", 5))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if outcome.Attachment.Status != av.StatusEncrypted {
		t.Errorf("Status = %q, want %q", outcome.Attachment.Status, av.StatusEncrypted)
	}
	if want := testutil.SHA256Hex(data); outcome.Digest != want {
		t.Errorf("Digest = %s, want digest of the plaintext", outcome.Digest)
	}

	// The stored bytes must not be the plaintext.
	var stored bytes.Buffer
	if _, err := f.blobs.Get(ctx, outcome.Digest, &stored, nil); err != nil {
		t.Fatalf("blob Get() error = %v", err)
	}
	if bytes.Equal(stored.Bytes(), data) {
		t.Error("blob store holds plaintext for an encrypted attachment")
	}

	t.Run("download without decryption context", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := f.svc.Download(ctx, outcome.Attachment.ID, &buf, av.ReadRequest{})
		if !errors.Is(err, av.ErrEncryptedContent) {
			t.Errorf("error = %v, want ErrEncryptedContent", err)
		}
	})

	dctx, err := testutil.NewTestEncryptor().Unlock("passphrase")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	t.Run("download with decryption context", func(t *testing.T) {
		var buf bytes.Buffer
		result, err := f.svc.Download(ctx, outcome.Attachment.ID, &buf, av.ReadRequest{Decrypt: dctx})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), data) {
			t.Error("decrypted content does not match plaintext")
		}
		if result.BytesWritten != int64(len(data)) {
			t.Errorf("BytesWritten = %d, want %d", result.BytesWritten, len(data))
		}
	})

	t.Run("range applies to plaintext", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := f.svc.Download(ctx, outcome.Attachment.ID, &buf, av.ReadRequest{
			Decrypt: dctx,
			Range:   &av.ByteRange{Offset: 13, Length: 5},
		})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if buf.String() != string(data[13:18]) {
			t.Errorf("range content = %q, want %q", buf.String(), data[13:18])
		}
	})
}

func TestService_RemoveLink(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	outcome, err := f.svc.Upload(ctx, bytes.NewReader([]byte("linked doc")), uploadReq("work_order", 11))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if err := f.svc.RemoveLink(ctx, outcome.Link.ID, "qa.lead"); err != nil {
		t.Fatalf("RemoveLink() error = %v", err)
	}

	links, err := f.svc.LinksForEntity(ctx, "work_order", 11)
	if err != nil {
		t.Fatalf("LinksForEntity() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("links = %d, want 0", len(links))
	}

	// The attachment outlives its links.
	att, err := f.store.FindAttachmentByID(ctx, outcome.Attachment.ID)
	if err != nil || att == nil {
		t.Errorf("attachment lookup after unlink = (%v, %v), want row kept", att, err)
	}

	var unlinks int
	for _, e := range f.sink.Entries() {
		if e.Action == av.AuditActionUnlink {
			unlinks++
			if e.Actor != "qa.lead" {
				t.Errorf("unlink Actor = %q, want %q", e.Actor, "qa.lead")
			}
		}
	}
	if unlinks != 1 {
		t.Errorf("UNLINK audit entries = %d, want 1", unlinks)
	}

	// Removing a missing link is a no-op and emits nothing.
	before := len(f.sink.Entries())
	if err := f.svc.RemoveLink(ctx, "no-such-link", "qa.lead"); err != nil {
		t.Errorf("RemoveLink(missing) error = %v", err)
	}
	if len(f.sink.Entries()) != before {
		t.Error("no-op unlink emitted an audit entry")
	}
}

func TestService_RemoveLinkForEntity(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	outcome, err := f.svc.Upload(ctx, bytes.NewReader([]byte("entity scoped")), uploadReq("capa_case", 2))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if err := f.svc.RemoveLinkForEntity(ctx, "capa_case", 2, outcome.Attachment.ID, ""); err != nil {
		t.Fatalf("RemoveLinkForEntity() error = %v", err)
	}

	links, err := f.svc.LinksForEntity(ctx, "capa_case", 2)
	if err != nil {
		t.Fatalf("LinksForEntity() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("links = %d, want 0", len(links))
	}
}

func TestService_FindByDigest(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("findable content")

	outcome, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 1))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	att, err := f.svc.FindByDigestAndLength(ctx, outcome.Digest, outcome.Length)
	if err != nil {
		t.Fatalf("FindByDigestAndLength() error = %v", err)
	}
	if att == nil || att.ID != outcome.Attachment.ID {
		t.Errorf("found = %+v, want attachment %s", att, outcome.Attachment.ID)
	}

	// Same digest, wrong length: no match.
	att, err = f.svc.FindByDigestAndLength(ctx, outcome.Digest, outcome.Length+1)
	if err != nil {
		t.Fatalf("FindByDigestAndLength() error = %v", err)
	}
	if att != nil {
		t.Errorf("found = %+v, want nil for mismatched length", att)
	}

	if _, err := f.svc.FindByDigest(ctx, ""); !errors.Is(err, av.ErrInvalidInput) {
		t.Errorf("FindByDigest(empty) error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.FindByDigestAndLength(ctx, outcome.Digest, -1); !errors.Is(err, av.ErrInvalidInput) {
		t.Errorf("FindByDigestAndLength(negative) error = %v, want ErrInvalidInput", err)
	}
}

func TestService_AttachmentSummaries(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	uploads := []struct {
		data       string
		fileName   string
		entityType string
	}{
		{"alpha content", "sop-cleaning.pdf", "work_order"},
		{"beta content", "deviation-photo.jpg", "deviation"},
		{"gamma content", "sop-calibration.pdf", "work_order"},
	}
	for i, u := range uploads {
		req := uploadReq(u.entityType, int64(i+1))
		req.FileName = u.fileName
		if _, err := f.svc.Upload(ctx, bytes.NewReader([]byte(u.data)), req); err != nil {
			t.Fatalf("Upload(%s) error = %v", u.fileName, err)
		}
	}

	t.Run("no filter", func(t *testing.T) {
		atts, err := f.svc.AttachmentSummaries(ctx, av.SummaryFilter{})
		if err != nil {
			t.Fatalf("AttachmentSummaries() error = %v", err)
		}
		if len(atts) != 3 {
			t.Errorf("attachments = %d, want 3", len(atts))
		}
	})

	t.Run("by entity type", func(t *testing.T) {
		atts, err := f.svc.AttachmentSummaries(ctx, av.SummaryFilter{EntityType: "deviation"})
		if err != nil {
			t.Fatalf("AttachmentSummaries() error = %v", err)
		}
		if len(atts) != 1 || atts[0].FileName != "deviation-photo.jpg" {
			t.Errorf("filtered = %+v, want only deviation-photo.jpg", atts)
		}
	})

	t.Run("by content type", func(t *testing.T) {
		atts, err := f.svc.AttachmentSummaries(ctx, av.SummaryFilter{ContentType: "pdf"})
		if err != nil {
			t.Fatalf("AttachmentSummaries() error = %v", err)
		}
		if len(atts) != 2 {
			t.Errorf("attachments = %d, want 2", len(atts))
		}
	})

	t.Run("by search", func(t *testing.T) {
		atts, err := f.svc.AttachmentSummaries(ctx, av.SummaryFilter{Search: "sop-"})
		if err != nil {
			t.Fatalf("AttachmentSummaries() error = %v", err)
		}
		if len(atts) != 2 {
			t.Errorf("attachments = %d, want 2", len(atts))
		}
	})
}

func TestService_Upload_AfterHardPurge(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("stability study raw data")

	first, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 7))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	// Purge the content the way retention enforcement does.
	if err := f.store.MarkAttachmentPurged(ctx, first.Attachment.ID, f.clock.Now()); err != nil {
		t.Fatalf("MarkAttachmentPurged() error = %v", err)
	}
	if err := f.store.DeleteLinksForAttachment(ctx, first.Attachment.ID); err != nil {
		t.Fatalf("DeleteLinksForAttachment() error = %v", err)
	}
	if err := f.blobs.Delete(ctx, first.Digest); err != nil {
		t.Fatalf("blob Delete() error = %v", err)
	}

	second, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("inspection", 9))
	if err != nil {
		t.Fatalf("re-upload error = %v", err)
	}
	if !second.Deduplicated {
		t.Error("re-upload Deduplicated = false, want true")
	}

	att := second.Attachment
	if att.Deleted {
		t.Error("revived attachment still flagged deleted")
	}
	if att.SoftDeletedAt != nil {
		t.Errorf("SoftDeletedAt = %v, want nil", att.SoftDeletedAt)
	}
	if att.Status != av.StatusUploaded {
		t.Errorf("Status = %q, want %q", att.Status, av.StatusUploaded)
	}

	var buf bytes.Buffer
	if _, err := f.svc.Download(ctx, att.ID, &buf, av.ReadRequest{}); err != nil {
		t.Fatalf("Download() after revival error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("downloaded content does not match re-uploaded data")
	}
}

func TestService_Upload_AfterSoftDelete(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("superseded SOP draft")

	first, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("document", 3))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := f.store.MarkAttachmentSoftDeleted(ctx, first.Attachment.ID, f.clock.Now()); err != nil {
		t.Fatalf("MarkAttachmentSoftDeleted() error = %v", err)
	}

	second, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("document", 4))
	if err != nil {
		t.Fatalf("re-upload error = %v", err)
	}

	att := second.Attachment
	if att.Deleted {
		t.Error("revived attachment still flagged deleted")
	}
	if att.SoftDeletedAt != nil {
		t.Errorf("SoftDeletedAt = %v, want nil", att.SoftDeletedAt)
	}
	if att.Status != av.StatusUploaded {
		t.Errorf("Status = %q, want %q", att.Status, av.StatusUploaded)
	}

	var buf bytes.Buffer
	if _, err := f.svc.Download(ctx, att.ID, &buf, av.ReadRequest{}); err != nil {
		t.Fatalf("Download() after revival error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("downloaded content does not match original data")
	}
}

// A later upload of already-stored content must not change the stored bytes,
// even when the later uploader has encryption configured and the first did not.
func TestService_Upload_DeduplicatedKeepsStoredEncoding(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	data := []byte("rollout document")

	first, err := f.svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 1))
	if err != nil {
		t.Fatalf("plain Upload() error = %v", err)
	}

	encrypting := av.NewService(f.store, f.blobs, f.sink, testutil.NewTestEncryptor(), nil,
		av.NewNopLogger(), f.clock, av.UUIDGenerator{})

	second, err := encrypting.Upload(ctx, bytes.NewReader(data), uploadReq("inspection", 2))
	if err != nil {
		t.Fatalf("encrypting Upload() error = %v", err)
	}
	if !second.Deduplicated {
		t.Error("second upload Deduplicated = false, want true")
	}
	if second.Attachment.Status != av.StatusUploaded {
		t.Errorf("Status = %q, want %q", second.Attachment.Status, av.StatusUploaded)
	}

	var buf bytes.Buffer
	if _, err := f.svc.Download(ctx, first.Attachment.ID, &buf, av.ReadRequest{}); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("downloaded content = %q, want the original plaintext", buf.Bytes())
	}
}

// rejectingBlobStore fails every Put without reading the content.
type rejectingBlobStore struct{}

func (rejectingBlobStore) Put(context.Context, string, io.Reader, int64) error {
	return errors.New("blob store unavailable")
}

func (rejectingBlobStore) Get(context.Context, string, io.Writer, *av.ByteRange) (int64, error) {
	return 0, errors.New("blob store unavailable")
}

func (rejectingBlobStore) Delete(context.Context, string) error { return nil }

func (rejectingBlobStore) ValidateSetup(context.Context) error { return nil }

func waitForGoroutines(t *testing.T, baseline int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("goroutines = %d, want at most %d", runtime.NumGoroutine(), baseline)
}

func TestService_Upload_BlobFailureStopsEncryptWriter(t *testing.T) {
	store := testutil.NewTestStore(t)
	sink := testutil.NewRecordingAuditSink()
	svc := av.NewService(store, rejectingBlobStore{}, sink, testutil.NewTestEncryptor(), nil,
		av.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

	baseline := runtime.NumGoroutine()

	ctx := context.Background()
	data := []byte("large enough to block a pipe writer")
	for i := 0; i < 5; i++ {
		_, err := svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", int64(i+1)))
		if err == nil {
			t.Fatal("Upload() error = nil, want blob store failure")
		}
	}

	waitForGoroutines(t, baseline)
}

func TestService_Download_DecryptFailureStopsBlobReader(t *testing.T) {
	f := newServiceFixture(t, testutil.NewTestEncryptor())
	ctx := context.Background()
	now := f.clock.Now()

	// An encrypted row whose blob carries no recognizable header, so
	// decryption fails after the first few bytes without draining the rest.
	att := &av.Attachment{
		ID:          "att-corrupt",
		Name:        "report",
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		Digest:      strings.Repeat("ab", 32),
		Length:      64,
		Status:      av.StatusEncrypted,
		UploadedBy:  "qa.user",
		UploadedAt:  now,
	}
	link := &av.AttachmentLink{
		ID:           "link-corrupt",
		AttachmentID: att.ID,
		EntityType:   "work_order",
		EntityID:     1,
		LinkedBy:     att.UploadedBy,
		LinkedAt:     now,
	}
	policy := &av.RetentionPolicy{
		ID:           "pol-corrupt",
		AttachmentID: att.ID,
		PolicyName:   av.DefaultPolicyName,
		DeleteMode:   av.DeleteModeSoft,
		CreatedAt:    now,
	}
	if _, err := f.store.StoreAttachment(ctx, att, link, policy); err != nil {
		t.Fatalf("StoreAttachment() error = %v", err)
	}
	if err := f.blobs.Put(ctx, att.Digest, bytes.NewReader(bytes.Repeat([]byte{0x5a}, 64)), 64); err != nil {
		t.Fatalf("blob Put() error = %v", err)
	}

	dctx, err := testutil.NewTestEncryptor().Unlock("passphrase")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	baseline := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		var buf bytes.Buffer
		_, err := f.svc.Download(ctx, att.ID, &buf, av.ReadRequest{Decrypt: dctx})
		if err == nil {
			t.Fatal("Download() error = nil, want decryption failure")
		}
	}

	waitForGoroutines(t, baseline)
}

// flagAllScanner marks every upload as suspect.
type flagAllScanner struct{}

func (flagAllScanner) Scan(context.Context, string, string, int64) (av.ScanVerdict, error) {
	return av.ScanVerdict{Engine: "test-scanner", Detail: "flagged"}, nil
}

func TestService_Upload_Quarantined(t *testing.T) {
	store := testutil.NewTestStore(t)
	blobs := blobstore.NewMemoryStore()
	sink := testutil.NewRecordingAuditSink()
	svc := av.NewService(store, blobs, sink, nil, flagAllScanner{},
		av.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

	ctx := context.Background()
	data := []byte("suspicious payload")

	outcome, err := svc.Upload(ctx, bytes.NewReader(data), uploadReq("work_order", 11))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if outcome.Attachment.Status != av.StatusQuarantined {
		t.Errorf("Status = %q, want %q", outcome.Attachment.Status, av.StatusQuarantined)
	}

	// The upload attempt stays on record: content stored, link created,
	// audit entry written.
	var stored bytes.Buffer
	if _, err := blobs.Get(ctx, outcome.Digest, &stored, nil); err != nil {
		t.Fatalf("blob Get() error = %v", err)
	}
	if outcome.Link == nil {
		t.Fatal("Link = nil, want a created link")
	}
	if entries := sink.Entries(); len(entries) != 1 || entries[0].Action != av.AuditActionUpload {
		t.Errorf("audit entries = %+v, want a single UPLOAD entry", entries)
	}

	t.Run("download refused", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := svc.Download(ctx, outcome.Attachment.ID, &buf, av.ReadRequest{})
		if !errors.Is(err, av.ErrQuarantined) {
			t.Errorf("error = %v, want ErrQuarantined", err)
		}
	})
}
