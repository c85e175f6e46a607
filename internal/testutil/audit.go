package testutil

import (
	"context"
	"sync"

	"av-go/internal/av"
)

// RecordingAuditSink collects audit entries in memory. Safe for concurrent
// use. Set FailWith to make every Append return that error.
type RecordingAuditSink struct {
	mu       sync.Mutex
	entries  []av.AuditEntry
	FailWith error
}

// NewRecordingAuditSink creates an empty RecordingAuditSink.
func NewRecordingAuditSink() *RecordingAuditSink {
	return &RecordingAuditSink{}
}

func (s *RecordingAuditSink) Append(ctx context.Context, entry av.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (s *RecordingAuditSink) Entries() []av.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]av.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Compile-time check that RecordingAuditSink implements av.AuditSink interface
var _ av.AuditSink = (*RecordingAuditSink)(nil)
