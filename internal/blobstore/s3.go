package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"av-go/internal/av"
	"av-go/internal/config"
)

// S3Store is an S3-backed implementation of the BlobStore interface.
// Objects are stored under <prefix>/content/<digest>.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3 blob store from the given config. Credentials fall
// back to the default AWS credential chain when not set explicitly.
func NewS3Store(ctx context.Context, cfg config.BlobStoreConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// Custom endpoints (minio etc.) need path-style addressing
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// key returns the object key for a digest.
func (s *S3Store) key(digest string) string {
	if s.prefix == "" {
		return "content/" + digest
	}
	return s.prefix + "/content/" + digest
}

// Put stores content under its digest. First write wins: an existing object
// is never overwritten, since its bytes are identical by definition and may
// carry a different at-rest encoding. The upload manager handles multipart
// uploads for streams of unknown length.
func (s *S3Store) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	})
	if err == nil {
		// Drain the reader so pipe-backed producers complete.
		if _, derr := io.Copy(io.Discard, r); derr != nil {
			return fmt.Errorf("failed to read content: %w", derr)
		}
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("checking for existing content: %w", err)
	}

	counted := &countingReader{r: r}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
		Body:   counted,
	})
	if err != nil {
		return fmt.Errorf("failed to upload content: %w", err)
	}

	if size >= 0 && counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return nil
}

// Get retrieves content by digest and writes it to w. A nil rng copies the
// whole object; otherwise an HTTP Range header selects the slice server-side.
func (s *S3Store) Get(ctx context.Context, digest string, w io.Writer, rng *av.ByteRange) (int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	}
	if rng != nil {
		if rng.Length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", rng.Offset))
		}
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return 0, fmt.Errorf("content not found: %s", digest)
		}
		return 0, fmt.Errorf("failed to get content: %w", err)
	}
	defer out.Body.Close()

	written, err := io.Copy(w, out.Body)
	if err != nil {
		return written, fmt.Errorf("failed to read content: %w", err)
	}
	return written, nil
}

// Delete removes content by digest. S3 deletes are idempotent, so a missing
// key is not an error.
func (s *S3Store) Delete(ctx context.Context, digest string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the configured bucket is accessible.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket not accessible: %s: %w", s.bucket, err)
	}
	return nil
}

// countingReader tracks how many bytes have been read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Store implements av.BlobStore interface
var _ av.BlobStore = (*S3Store)(nil)
