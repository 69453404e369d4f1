// Package s3 reads folders from an S3-compatible bucket. Directories are
// key prefixes delimited by "/".
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/safety"
)

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Connector owns the S3 client.
type Connector struct {
	api    API
	bucket string
	logger *slog.Logger
}

// New builds an S3 client from cfg using the default AWS credential chain
// unless static keys are configured.
func New(ctx context.Context, cfg config.S3Config, httpClient *http.Client, logger *slog.Logger) (*Connector, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if httpClient != nil {
		optFns = append(optFns, awsconfig.WithHTTPClient(httpClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	pathStyle := cfg.UsePathStyle
	if cfg.Endpoint != "" {
		ep, err := safety.ParseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("s3 endpoint: %w", err)
		}
		// Local MinIO and similar rarely resolve virtual-host buckets.
		if ep.Loopback {
			pathStyle = true
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	return NewWithAPI(client, cfg.Bucket, logger), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{api: api, bucket: bucket, logger: logger}
}

func (c *Connector) Name() string { return "s3:" + c.bucket }

func (c *Connector) Connect(ctx context.Context) (remote.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &handle{api: c.api, bucket: c.bucket, logger: c.logger}, nil
}

func (c *Connector) Close() error { return nil }

type handle struct {
	api    API
	bucket string
	logger *slog.Logger
}

func (h *handle) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	var entries []remote.Entry
	seenAny := false
	paginator := s3.NewListObjectsV2Paginator(h.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(h.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", dir, err)
		}
		for _, cp := range page.CommonPrefixes {
			seenAny = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, remote.Entry{Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			seenAny = true
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			// Zero-length "dir/" marker objects.
			if name == "" || strings.HasSuffix(key, "/") {
				continue
			}
			e := remote.Entry{Name: name}
			if size := aws.ToInt64(obj.Size); size > 0 {
				e.Size = uint64(size)
			}
			entries = append(entries, e)
		}
	}

	// Prefixes only exist while something lives under them.
	if !seenAny && dir != "" {
		return nil, remote.NotFound(dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (h *handle) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := h.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return nil, classify("open", p, err)
	}
	return &body{rc: out.Body, path: p}, nil
}

func (h *handle) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := h.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(p),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("stat", p, err)
}

func (h *handle) Close() error { return nil }

type body struct {
	rc   io.ReadCloser
	path string
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, classify("read", b.path, err)
	}
	return n, err
}

func (b *body) Close() error { return b.rc.Close() }

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func classify(op, p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, remote.NotFound(p))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return remote.Transient(op, p, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return remote.Transient(op, p, err)
		}
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
	return remote.Transient(op, p, err)
}
