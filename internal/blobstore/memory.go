package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"av-go/internal/av"
)

// MemoryStore is an in-memory implementation of the BlobStore interface.
// It keeps all content in a map keyed by digest, making it useful for
// testing. This implementation is safe for concurrent use.
type MemoryStore struct {
	content map[string][]byte // digest -> content
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		content: make(map[string][]byte),
	}
}

// Put stores content under its digest. First write wins: a digest that is
// already stored is never overwritten, since its bytes are identical by
// definition and may carry a different at-rest encoding.
func (m *MemoryStore) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	m.mu.RLock()
	_, exists := m.content[digest]
	m.mu.RUnlock()
	if exists {
		// Drain the reader so pipe-backed producers complete.
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		return nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; a concurrent identical Put may have
	// committed since the read above.
	if _, exists := m.content[digest]; !exists {
		m.content[digest] = data
	}
	return nil
}

// Get retrieves content by digest and writes it to w.
func (m *MemoryStore) Get(ctx context.Context, digest string, w io.Writer, rng *av.ByteRange) (int64, error) {
	m.mu.RLock()
	data, ok := m.content[digest]
	m.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("content not found: %s", digest)
	}

	if rng != nil {
		if rng.Offset >= int64(len(data)) {
			return 0, nil
		}
		data = data[rng.Offset:]
		if rng.Length > 0 && rng.Length < int64(len(data)) {
			data = data[:rng.Length]
		}
	}

	written, err := io.Copy(w, bytes.NewReader(data))
	if err != nil {
		return written, fmt.Errorf("failed to write content: %w", err)
	}
	return written, nil
}

// Delete removes content by digest. Removing a missing digest is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.content, digest)
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// Compile-time check that MemoryStore implements av.BlobStore interface
var _ av.BlobStore = (*MemoryStore)(nil)
