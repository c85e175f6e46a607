package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"av-go/internal/av"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore
// interface. It stores content as flat files in a directory structure:
//
//	<root>/
//	  content/
//	    <digest>     (content files, named by SHA-256)
type FileSystemStore struct {
	root       string
	contentDir string
}

// NewFileSystemStore creates a new filesystem blob store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")

	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &FileSystemStore{
		root:       root,
		contentDir: contentDir,
	}, nil
}

// Put stores content under its digest.
// The operation is idempotent: storing the same digest multiple times is safe.
func (s *FileSystemStore) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	destPath := filepath.Join(s.contentDir, digest)

	// If content already exists, skip (idempotent)
	if _, err := os.Stat(destPath); err == nil {
		// Consume the reader to maintain expected behavior
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if size >= 0 && written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return s.writeFile(destPath, r, size)
}

// Get retrieves content by digest and writes it to w.
// A nil rng copies the whole blob.
func (s *FileSystemStore) Get(ctx context.Context, digest string, w io.Writer, rng *av.ByteRange) (int64, error) {
	srcPath := filepath.Join(s.contentDir, digest)

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content not found: %s", digest)
		}
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if rng != nil {
		if _, err := f.Seek(rng.Offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("failed to seek to offset %d: %w", rng.Offset, err)
		}
		if rng.Length > 0 {
			src = io.LimitReader(f, rng.Length)
		}
	}

	written, err := io.Copy(w, src)
	if err != nil {
		return written, fmt.Errorf("failed to read file: %w", err)
	}
	return written, nil
}

// Delete removes content by digest. Removing a missing digest is a no-op.
func (s *FileSystemStore) Delete(ctx context.Context, digest string) error {
	destPath := filepath.Join(s.contentDir, digest)
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove content: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store root is not a directory: %s", s.root)
	}

	info, err = os.Stat(s.contentDir)
	if err != nil {
		return fmt.Errorf("store directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path is not a directory: %s", s.contentDir)
	}

	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
// A negative expectedSize skips the size verification.
func (s *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements av.BlobStore interface
var _ av.BlobStore = (*FileSystemStore)(nil)
