// Package s3 implements the "s3" Target Sink: PutObject against an
// S3-compatible object store, keyed as <prefix>/<subdir>/<fname> (spec.md
// §4.8). Client usage mirrors nabbar-golib's aws/object client: a thin
// wrapper that issues one aws-sdk-go-v2 call per operation. Success is judged
// from PutObject's error alone; the response (including its ETag) is not
// inspected, and integrity rests on the Content-MD5 header.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/babeloff/meso-forge-mirror/digest"
	mirrorsink "github.com/babeloff/meso-forge-mirror/sink"
)

// Sink places objects at Prefix/<subdir>/<fname> in Bucket.
type Sink struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

var _ mirrorsink.Sink = (*Sink)(nil)

// New builds a Sink. Credential resolution prefers the explicit
// accessKeyID/secretAccessKey pair (spec.md §6: AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY) when both are set, falling back to the SDK's
// default chain (shared config, IMDS) otherwise; region and endpoint
// override the default for S3-compatible stores (spec.md §6: s3_region,
// s3_endpoint).
func New(ctx context.Context, bucket, prefix, region, endpoint, accessKeyID, secretAccessKey string) (*Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3.New: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = endpoint != ""
	})
	return &Sink{Client: client, Bucket: bucket, Prefix: prefix}, nil
}

func (s *Sink) key(parts ...string) string {
	key := s.Prefix
	for _, p := range parts {
		if key != "" {
			key += "/"
		}
		key += p
	}
	return key
}

// Place issues PutObject with Content-MD5 set to the precomputed digest, so
// S3 itself rejects a corrupted upload (spec.md §4.8). Re-upload of the
// same key is permitted, matching S3's natural idempotent PUT semantics.
func (s *Sink) Place(ctx context.Context, subdir, fname string, r io.Reader, size int64, d digest.Digest) error {
	md5b64 := base64.StdEncoding.EncodeToString(d.MD5[:])
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.key(subdir, fname)),
		Body:          r,
		ContentMD5:    aws.String(md5b64),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3.Place: PutObject %s: %w", s.key(subdir, fname), err)
	}
	return nil
}

// WriteRepodata uploads subdir's repodata.json document.
func (s *Sink) WriteRepodata(ctx context.Context, subdir string, doc []byte) error {
	return s.putPlain(ctx, s.key(subdir, "repodata.json"), doc)
}

// WriteChanneldata uploads the channel-wide channeldata.json document.
func (s *Sink) WriteChanneldata(ctx context.Context, doc []byte) error {
	return s.putPlain(ctx, s.key("channeldata.json"), doc)
}

func (s *Sink) putPlain(ctx context.Context, key string, doc []byte) error {
	sum := md5.Sum(doc)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(doc),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		ContentLength: aws.Int64(int64(len(doc))),
	})
	if err != nil {
		return fmt.Errorf("s3.putPlain: PutObject %s: %w", key, err)
	}
	return nil
}
