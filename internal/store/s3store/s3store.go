// Package s3store implements store.BlobStore on an S3-compatible bucket.
//
// Each blob is one object keyed <prefix>/<owner>/<namespace>/<blob id>.
// Blob ids are ULIDs, so a prefix listing returns a pair's blobs oldest
// first.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alfredjeanlab/confsync/internal/idgen"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// API is the subset of the S3 client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

const (
	deviceMetaKey = "device"
	// S3 accepts at most 1000 keys per DeleteObjects call.
	deleteBatch = 1000
)

// NewClient creates an S3 client. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(cfg, s3opts...), nil
}

// Store is a BlobStore over an S3 bucket.
type Store struct {
	client API
	bucket string
	prefix string
}

var _ store.BlobStore = (*Store)(nil)

// New returns a Store writing under prefix in bucket.
func New(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) pairPrefix(ns namespace.Namespace, owner string) string {
	return s.rootPrefix() + owner + "/" + strconv.Itoa(int(ns.WireCode())) + "/"
}

func (s *Store) rootPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func validOwner(owner string) error {
	if owner == "" || strings.Contains(owner, "/") {
		return fmt.Errorf("invalid owner %q", owner)
	}
	return nil
}

func (s *Store) PutBlob(ctx context.Context, b *store.Blob) error {
	if b.ID == "" {
		return errors.New("put blob: missing id")
	}
	if err := validOwner(b.Owner); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.pairPrefix(b.Namespace, b.Owner) + b.ID),
		Body:        bytes.NewReader(b.Data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{deviceMetaKey: b.Device},
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) ListBlobs(ctx context.Context, ns namespace.Namespace, owner string) ([]*store.Blob, error) {
	if err := validOwner(owner); err != nil {
		return nil, err
	}
	keys, err := s.listKeys(ctx, s.pairPrefix(ns, owner))
	if err != nil {
		return nil, err
	}
	return s.getAll(ctx, keys)
}

func (s *Store) ListAllBlobs(ctx context.Context) ([]*store.Blob, error) {
	keys, err := s.listKeys(ctx, s.rootPrefix())
	if err != nil {
		return nil, err
	}
	return s.getAll(ctx, keys)
}

// ReplaceBlobs writes b before deleting the oldest replaced objects, so a
// concurrent fetch may briefly see both but never neither.
func (s *Store) ReplaceBlobs(ctx context.Context, b *store.Blob, replaced int) error {
	if err := validOwner(b.Owner); err != nil {
		return err
	}
	old, err := s.listKeys(ctx, s.pairPrefix(b.Namespace, b.Owner))
	if err != nil {
		return err
	}
	if err := s.PutBlob(ctx, b); err != nil {
		return err
	}
	return s.deleteKeys(ctx, old[:min(max(replaced, 0), len(old))])
}

func (s *Store) DeleteBlobs(ctx context.Context, ns namespace.Namespace, owner string) (int, error) {
	if err := validOwner(owner); err != nil {
		return 0, err
	}
	keys, err := s.listKeys(ctx, s.pairPrefix(ns, owner))
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close is a no-op; the S3 client holds no connections to release.
func (s *Store) Close() error { return nil }

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Store) getAll(ctx context.Context, keys []string) ([]*store.Blob, error) {
	out := make([]*store.Blob, 0, len(keys))
	for _, k := range keys {
		b, err := s.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// get fetches one object. Keys that do not parse as blob keys are
// skipped (nil, nil).
func (s *Store) get(ctx context.Context, key string) (*store.Blob, error) {
	b, ok := s.parseKey(key)
	if !ok {
		return nil, nil
	}
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			// Deleted between list and get.
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer obj.Body.Close()
	b.Data, err = io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object %s: %w", key, err)
	}
	b.Device = obj.Metadata[deviceMetaKey]
	if obj.LastModified != nil {
		b.CreatedAt = *obj.LastModified
	}
	return b, nil
}

func (s *Store) parseKey(key string) (*store.Blob, bool) {
	rest, ok := strings.CutPrefix(key, s.rootPrefix())
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || !idgen.ValidBlobID(parts[2]) {
		return nil, false
	}
	code, err := strconv.ParseInt(parts[1], 10, 16)
	if err != nil {
		return nil, false
	}
	return &store.Blob{ID: parts[2], Namespace: namespace.Namespace(code), Owner: parts[0]}, true
}

func (s *Store) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteBatch)
		ids := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3 delete objects: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}
