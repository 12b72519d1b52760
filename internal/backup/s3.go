// Package backup mirrors stored session snapshots to an S3-compatible
// bucket and restores them when the local database has none.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Mirror stores snapshot bodies by video id.
type Mirror interface {
	Put(ctx context.Context, videoID string, body []byte) error
	// Get returns nil, nil when the object does not exist.
	Get(ctx context.Context, videoID string) ([]byte, error)
}

// objectAPI is the subset of *s3.Client the mirror needs.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Mirror writes each snapshot as <prefix><video id>.json.
type S3Mirror struct {
	client objectAPI
	bucket string
	prefix string
}

// Options configures NewS3Mirror. A non-empty Endpoint enables path-style
// addressing for MinIO and similar.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func NewS3Mirror(ctx context.Context, opts Options) (*S3Mirror, error) {
	if opts.Bucket == "" {
		return nil, errors.New("backup: bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	return newS3Mirror(s3.NewFromConfig(cfg, s3opts...), opts.Bucket, opts.Prefix), nil
}

func newS3Mirror(client objectAPI, bucket, prefix string) *S3Mirror {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for videoID.
func (m *S3Mirror) Key(videoID string) string {
	return m.prefix + url.PathEscape(videoID) + ".json"
}

func (m *S3Mirror) Put(ctx context.Context, videoID string, body []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.Key(videoID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (m *S3Mirror) Get(ctx context.Context, videoID string) ([]byte, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.Key(videoID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object: %w", err)
	}
	return data, nil
}

// NoopMirror is used when no bucket is configured.
type NoopMirror struct{}

func (NoopMirror) Put(context.Context, string, []byte) error   { return nil }
func (NoopMirror) Get(context.Context, string) ([]byte, error) { return nil, nil }
