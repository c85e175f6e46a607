package av

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashChunkSize is the read granularity for digest computation.
const hashChunkSize = 128 * 1024

// PreparedContent is the result of hashing a caller-supplied stream: the
// digest, the exact byte count, and a source guaranteed to be readable from
// its start. The caller must Close it on all exit paths.
type PreparedContent struct {
	Source io.Reader
	Digest string // SHA-256, lowercase hex
	Length int64

	buf *bytes.Buffer // set only on the buffered (non-seekable) path
}

// Close releases resources held for the replayable source. For seekable
// inputs there is nothing to release; for buffered inputs the copy is
// dropped so it can be collected.
func (p *PreparedContent) Close() error {
	if p.buf != nil {
		p.buf.Reset()
		p.buf = nil
	}
	p.Source = nil
	return nil
}

// PrepareContent hashes r and returns a replayable byte source.
//
// If r supports seeking it is rewound, read once in fixed-size chunks, and
// rewound again; the original stream is returned as the source with no copy
// made. Otherwise each chunk is fed to the digest and copied into a
// per-call buffer, and the buffer is returned as the source. That is the
// only path that incurs full buffering; callers with very large
// non-seekable sources accept this cost by construction.
//
// A zero-length stream is valid and yields the SHA-256 digest of the empty
// byte sequence. Read errors propagate; no partial result is returned.
func PrepareContent(ctx context.Context, r io.Reader) (*PreparedContent, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: content stream is nil", ErrInvalidInput)
	}

	if seeker, ok := r.(io.Seeker); ok {
		return prepareSeekable(ctx, r, seeker)
	}
	return prepareBuffered(ctx, r)
}

func prepareSeekable(ctx context.Context, r io.Reader, seeker io.Seeker) (*PreparedContent, error) {
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding content: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hashing canceled: %w", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding content after hashing: %w", err)
	}

	return &PreparedContent{
		Source: r,
		Digest: hex.EncodeToString(h.Sum(nil)),
		Length: total,
	}, nil
}

func prepareBuffered(ctx context.Context, r io.Reader) (*PreparedContent, error) {
	h := sha256.New()
	copyBuf := &bytes.Buffer{}
	buf := make([]byte, hashChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hashing canceled: %w", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			copyBuf.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
	}

	return &PreparedContent{
		Source: bytes.NewReader(copyBuf.Bytes()),
		Digest: hex.EncodeToString(h.Sum(nil)),
		Length: total,
		buf:    copyBuf,
	}, nil
}
