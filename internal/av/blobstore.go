package av

import (
	"context"
	"io"
)

// BlobStore provides an interface for content storage backends. Blobs are
// keyed by their SHA-256 digest. All operations stream through io.Reader /
// io.Writer to support large files without loading them into memory.
type BlobStore interface {
	// Put stores content under its digest. The operation is idempotent:
	// storing the same digest multiple times is safe. size is the number of
	// bytes that will be read from r; pass a negative size when the byte
	// count is not known up front (encrypted streams), which skips the
	// size verification.
	Put(ctx context.Context, digest string, r io.Reader, size int64) error

	// Get writes content for digest to w and returns the number of bytes
	// written. A nil rng copies the whole blob.
	Get(ctx context.Context, digest string, w io.Writer, rng *ByteRange) (int64, error)

	// Delete removes content by digest. Deleting a digest that does not
	// exist is not an error.
	Delete(ctx context.Context, digest string) error

	// ValidateSetup verifies that the store is accessible and properly
	// configured.
	ValidateSetup(ctx context.Context) error
}
