// Package gcs reads folders from a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/safety"
)

// Connector owns the storage client.
type Connector struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// ClientOptions translates cfg into client options.
func ClientOptions(cfg config.GCSConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		ep, err := safety.ParseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("gcs endpoint: %w", err)
		}
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		// fake-gcs-server and friends take no credentials.
		if ep.Loopback && cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts, nil
}

// New creates a storage client for cfg.Bucket.
func New(ctx context.Context, cfg config.GCSConfig, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Connector{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (c *Connector) Name() string { return "gcs:" + c.bucket }

func (c *Connector) Connect(ctx context.Context) (remote.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &handle{bucket: c.client.Bucket(c.bucket), logger: c.logger}, nil
}

// Close releases the storage client.
func (c *Connector) Close() error {
	return c.client.Close()
}

type handle struct {
	bucket *storage.BucketHandle
	logger *slog.Logger
}

func dirPrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return strings.TrimSuffix(dir, "/") + "/"
}

func (h *handle) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	prefix := dirPrefix(dir)
	it := h.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var entries []remote.Entry
	seenAny := false
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", dir, err)
		}
		seenAny = true
		if e, ok := entryFor(prefix, attrs); ok {
			entries = append(entries, e)
		}
	}
	if !seenAny && dir != "" {
		return nil, remote.NotFound(dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// entryFor converts a delimiter listing item. Synthetic prefixes come back
// with only Prefix set.
func entryFor(prefix string, attrs *storage.ObjectAttrs) (remote.Entry, bool) {
	if attrs.Prefix != "" {
		name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
		return remote.Entry{Name: name, IsDir: true}, name != ""
	}
	name := strings.TrimPrefix(attrs.Name, prefix)
	if name == "" || strings.HasSuffix(attrs.Name, "/") {
		return remote.Entry{}, false
	}
	e := remote.Entry{Name: name}
	if attrs.Size > 0 {
		e.Size = uint64(attrs.Size)
	}
	return e, true
}

func (h *handle) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := h.bucket.Object(p).NewReader(ctx)
	if err != nil {
		return nil, classify("open", p, err)
	}
	return &body{rc: r, path: p}, nil
}

func (h *handle) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := h.bucket.Object(p).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
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

func classify(op, p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s %s: %w", op, p, remote.NotFound(p))
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, p, remote.NotFound(p))
		case gerr.Code >= 500, gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusRequestTimeout:
			return remote.Transient(op, p, err)
		default:
			return fmt.Errorf("%s %s: %w", op, p, err)
		}
	}
	return remote.Transient(op, p, err)
}
