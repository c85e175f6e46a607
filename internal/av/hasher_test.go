package av_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"av-go/internal/av"
	"av-go/internal/testutil"
)

// SHA-256 of the empty byte sequence.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestPrepareContent_Seekable(t *testing.T) {
	data := []byte("hello attachment world")

	prep, err := av.PrepareContent(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PrepareContent() error = %v", err)
	}
	defer prep.Close()

	if want := testutil.SHA256Hex(data); prep.Digest != want {
		t.Errorf("Digest = %s, want %s", prep.Digest, want)
	}
	if prep.Length != int64(len(data)) {
		t.Errorf("Length = %d, want %d", prep.Length, len(data))
	}

	// The source must be readable from the start without a copy.
	got, err := io.ReadAll(prep.Source)
	if err != nil {
		t.Fatalf("reading source: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("source = %q, want %q", got, data)
	}
}

func TestPrepareContent_NonSeekable(t *testing.T) {
	data := []byte("buffered path content")

	prep, err := av.PrepareContent(context.Background(), testutil.NewNonSeekableReader(data))
	if err != nil {
		t.Fatalf("PrepareContent() error = %v", err)
	}
	defer prep.Close()

	if want := testutil.SHA256Hex(data); prep.Digest != want {
		t.Errorf("Digest = %s, want %s", prep.Digest, want)
	}
	if prep.Length != int64(len(data)) {
		t.Errorf("Length = %d, want %d", prep.Length, len(data))
	}

	got, err := io.ReadAll(prep.Source)
	if err != nil {
		t.Fatalf("reading source: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("source = %q, want %q", got, data)
	}
}

func TestPrepareContent_PathsAgree(t *testing.T) {
	// Identical bytes must hash identically regardless of which path handled
	// them, including around the chunk boundary.
	sizes := []int{0, 1, 128*1024 - 1, 128 * 1024, 128*1024 + 1, 3 * 128 * 1024}

	for _, size := range sizes {
		data := bytes.Repeat([]byte{0xa7}, size)

		seekable, err := av.PrepareContent(context.Background(), bytes.NewReader(data))
		if err != nil {
			t.Fatalf("size %d: seekable error = %v", size, err)
		}
		buffered, err := av.PrepareContent(context.Background(), testutil.NewNonSeekableReader(data))
		if err != nil {
			t.Fatalf("size %d: buffered error = %v", size, err)
		}

		if seekable.Digest != buffered.Digest {
			t.Errorf("size %d: seekable digest %s != buffered digest %s", size, seekable.Digest, buffered.Digest)
		}
		if seekable.Length != int64(size) || buffered.Length != int64(size) {
			t.Errorf("size %d: lengths = %d / %d", size, seekable.Length, buffered.Length)
		}

		seekable.Close()
		buffered.Close()
	}
}

func TestPrepareContent_Empty(t *testing.T) {
	prep, err := av.PrepareContent(context.Background(), bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("PrepareContent() error = %v", err)
	}
	defer prep.Close()

	if prep.Digest != emptySHA256 {
		t.Errorf("Digest = %s, want %s", prep.Digest, emptySHA256)
	}
	if prep.Length != 0 {
		t.Errorf("Length = %d, want 0", prep.Length)
	}
}

func TestPrepareContent_RewindsSeekableInput(t *testing.T) {
	data := []byte("hashing starts from byte zero")
	r := bytes.NewReader(data)

	// Leave the reader mid-stream; hashing must cover the whole content.
	if _, err := r.Seek(7, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	prep, err := av.PrepareContent(context.Background(), r)
	if err != nil {
		t.Fatalf("PrepareContent() error = %v", err)
	}
	defer prep.Close()

	if want := testutil.SHA256Hex(data); prep.Digest != want {
		t.Errorf("Digest = %s, want %s", prep.Digest, want)
	}
	if prep.Length != int64(len(data)) {
		t.Errorf("Length = %d, want %d", prep.Length, len(data))
	}
}

func TestPrepareContent_NilReader(t *testing.T) {
	_, err := av.PrepareContent(context.Background(), nil)
	if !errors.Is(err, av.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestPrepareContent_ReadError(t *testing.T) {
	readErr := errors.New("disk gone")
	r := &testutil.FailingReader{Data: []byte("partial"), Err: readErr}

	_, err := av.PrepareContent(context.Background(), r)
	if !errors.Is(err, readErr) {
		t.Errorf("error = %v, want wrapped %v", err, readErr)
	}
}

func TestPrepareContent_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := av.PrepareContent(ctx, bytes.NewReader([]byte("data")))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPreparedContent_Close(t *testing.T) {
	prep, err := av.PrepareContent(context.Background(), testutil.NewNonSeekableReader([]byte("data")))
	if err != nil {
		t.Fatalf("PrepareContent() error = %v", err)
	}

	if err := prep.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if prep.Source != nil {
		t.Error("Source not released after Close")
	}
}
