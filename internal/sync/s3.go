package sync

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/alfredjeanlab/confsync/internal/store/s3store"
)

// timeToken in a backup key is replaced with the UTC time of each write,
// so every run keeps its own object.
const timeToken = "{time}"

// S3Destination uploads backups to an S3-compatible bucket. A key ending
// in ".zst" is written zstd-compressed.
type S3Destination struct {
	client s3store.API
	bucket string
	key    string
	now    func() time.Time
}

// NewS3Destination creates an S3 destination. A non-empty endpoint selects
// path-style addressing, for MinIO and similar.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	client, err := s3store.NewClient(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	return NewS3DestinationWithClient(client, bucket, key), nil
}

func NewS3DestinationWithClient(client s3store.API, bucket, key string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, key: key, now: time.Now}
}

// Key returns the object key the next write uses.
func (d *S3Destination) Key() string {
	return strings.ReplaceAll(d.key, timeToken, d.now().UTC().Format("20060102T150405Z"))
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.Key()),
		ContentType: aws.String("application/x-ndjson"),
	}
	if strings.HasSuffix(d.key, ".zst") {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
		in.ContentEncoding = aws.String("zstd")
	}
	in.Body = bytes.NewReader(data)
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s: %w", *in.Key, err)
	}
	return nil
}
