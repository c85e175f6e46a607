package testutil

import (
	"bytes"
	"io"
)

// NonSeekableReader wraps a byte slice in a reader that deliberately does not
// implement io.Seeker, forcing the buffered hashing path.
type NonSeekableReader struct {
	r *bytes.Reader
}

// NewNonSeekableReader creates a NonSeekableReader over data.
func NewNonSeekableReader(data []byte) *NonSeekableReader {
	return &NonSeekableReader{r: bytes.NewReader(data)}
}

func (n *NonSeekableReader) Read(p []byte) (int, error) {
	return n.r.Read(p)
}

// FailingReader returns some data first, then fails with Err.
type FailingReader struct {
	Data []byte
	Err  error
	off  int
}

func (f *FailingReader) Read(p []byte) (int, error) {
	if f.off < len(f.Data) {
		n := copy(p, f.Data[f.off:])
		f.off += n
		return n, nil
	}
	return 0, f.Err
}

var _ io.Reader = (*NonSeekableReader)(nil)
var _ io.Reader = (*FailingReader)(nil)
