package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Source enumerates *.json objects under an s3://bucket/prefix URI.
// Listing uses ListObjectsV2 pagination, so corpora larger than one page
// enumerate fully.
type S3Source struct {
	bucket string
	prefix string

	api s3iface.S3API
}

// NewS3Source parses an s3://bucket/prefix URI and builds a client from the
// default AWS credential chain. region may be empty, in which case the SDK's
// own resolution applies.
func NewS3Source(uri, region string) (*S3Source, error) {
	bucket, prefix, err := splitS3URI(uri)
	if err != nil {
		return nil, err
	}

	cfg := aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 source: new session: %w", err)
	}

	return &S3Source{bucket: bucket, prefix: prefix, api: s3.New(sess)}, nil
}

// Files lists .json object keys under the prefix, sorted for deterministic
// processing order.
func (s *S3Source) Files(ctx context.Context) ([]Handle, error) {
	var keys []string

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	err := s.api.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3 source: list s3://%s/%s: %w", s.bucket, s.prefix, err)
	}

	sort.Strings(keys)

	out := make([]Handle, 0, len(keys))
	for _, k := range keys {
		out = append(out, &s3Handle{api: s.api, bucket: s.bucket, key: k})
	}
	return out, nil
}

type s3Handle struct {
	api    s3iface.S3API
	bucket string
	key    string
}

func (h *s3Handle) Name() string { return "s3://" + h.bucket + "/" + h.key }

func (h *s3Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := h.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 source: get %s: %w", h.Name(), err)
	}
	return out.Body, nil
}

func splitS3URI(uri string) (bucket, prefix string, _ error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("s3 source: uri %q must start with s3://", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 source: uri %q has no bucket", uri)
	}
	return bucket, prefix, nil
}
