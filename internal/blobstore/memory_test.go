package blobstore

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"av-go/internal/av"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	digest := "abc123"
	data := "hello world"

	if err := s.Put(ctx, digest, strings.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var buf bytes.Buffer
	written, err := s.Get(ctx, digest, &buf, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("content = %q, want %q", buf.String(), data)
	}
	if written != int64(len(data)) {
		t.Errorf("written = %d, want %d", written, len(data))
	}
}

func TestMemoryStore_Put_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "abc", strings.NewReader("hello"), 100); err == nil {
		t.Error("Put() expected error for size mismatch")
	}

	// Negative size skips verification
	if err := s.Put(ctx, "abc", strings.NewReader("hello"), -1); err != nil {
		t.Errorf("Put() with unknown size error = %v", err)
	}
}

func TestMemoryStore_Get_Range(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "abc", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	tests := []struct {
		name string
		rng  *av.ByteRange
		want string
	}{
		{"offset and length", &av.ByteRange{Offset: 6, Length: 5}, "world"},
		{"open end", &av.ByteRange{Offset: 6}, "world"},
		{"length past end", &av.ByteRange{Offset: 6, Length: 100}, "world"},
		{"offset past end", &av.ByteRange{Offset: 100}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := s.Get(ctx, "abc", &buf, tt.rng); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("content = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var buf bytes.Buffer
	_, err := s.Get(ctx, "nonexistent", &buf, nil)
	if err == nil {
		t.Fatal("Get() expected error for nonexistent content")
	}
	if !strings.Contains(err.Error(), "content not found") {
		t.Errorf("error = %v, want error containing 'content not found'", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "abc", strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	// Deleting again is a no-op
	if err := s.Delete(ctx, "abc"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			digest := strings.Repeat("a", n+1)
			data := strings.Repeat("x", n+1)
			if err := s.Put(ctx, digest, strings.NewReader(data), int64(len(data))); err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}
			var buf bytes.Buffer
			if _, err := s.Get(ctx, digest, &buf, nil); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}

func TestMemoryStore_Put_FirstWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "abc", strings.NewReader("original bytes"), 14); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}

	// A repeat Put for the same digest must leave the stored bytes alone
	// and still drain its reader.
	r := strings.NewReader("different bytes")
	if err := s.Put(ctx, "abc", r, 15); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("second Put() left %d unread bytes", r.Len())
	}

	var buf bytes.Buffer
	if _, err := s.Get(ctx, "abc", &buf, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "original bytes" {
		t.Errorf("content = %q, want the first write's bytes", buf.String())
	}
}
