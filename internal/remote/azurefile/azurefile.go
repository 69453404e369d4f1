// Package azurefile reads folders from an Azure File Share.
package azurefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/directory"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/file"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/fileerror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/share"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/safety"
)

// Connector owns the share client. It is safe for concurrent use.
type Connector struct {
	client    *share.Client
	shareName string
	logger    *slog.Logger
}

// ConnectionString builds the storage connection string for cfg.
func ConnectionString(cfg config.AzureFileConfig) (string, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return "", fmt.Errorf("azure file: account name and key are required")
	}
	if cfg.Endpoint != "" {
		if _, err := safety.ParseEndpoint(cfg.Endpoint); err != nil {
			return "", fmt.Errorf("azure file endpoint: %w", err)
		}
		return fmt.Sprintf("DefaultEndpointsProtocol=%s;AccountName=%s;AccountKey=%s;FileEndpoint=%s",
			protocol(cfg), cfg.AccountName, cfg.AccountKey, cfg.Endpoint), nil
	}
	suffix := cfg.EndpointSuffix
	if suffix == "" {
		suffix = "core.windows.net"
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=%s;AccountName=%s;AccountKey=%s;EndpointSuffix=%s",
		protocol(cfg), cfg.AccountName, cfg.AccountKey, suffix), nil
}

func protocol(cfg config.AzureFileConfig) string {
	if cfg.Protocol == "" {
		return "https"
	}
	return cfg.Protocol
}

// New creates a connector for the share named in cfg.
func New(cfg config.AzureFileConfig, httpClient *http.Client, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShareName == "" {
		return nil, fmt.Errorf("azure file: share name is required")
	}
	connStr, err := ConnectionString(cfg)
	if err != nil {
		return nil, err
	}

	opts := &share.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Telemetry: policy.TelemetryOptions{ApplicationID: "sharezip"},
		},
	}
	if httpClient != nil {
		opts.Transport = httpClient
	}

	client, err := share.NewClientFromConnectionString(connStr, cfg.ShareName, opts)
	if err != nil {
		return nil, fmt.Errorf("creating share client: %w", err)
	}
	logger.Debug("azure file share client ready", "account", cfg.AccountName, "share", cfg.ShareName)
	return &Connector{client: client, shareName: cfg.ShareName, logger: logger}, nil
}

func (c *Connector) Name() string { return "azurefile:" + c.shareName }

// Connect returns a request-scoped handle. The underlying client and its
// connection pool are shared.
func (c *Connector) Connect(ctx context.Context) (remote.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &handle{client: c.client, logger: c.logger}, nil
}

func (c *Connector) Close() error { return nil }

type handle struct {
	client *share.Client
	logger *slog.Logger
}

// dir walks p one segment at a time so every name is escaped on its own.
func (h *handle) dir(p string) *directory.Client {
	d := h.client.NewRootDirectoryClient()
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			d = d.NewSubdirectoryClient(seg)
		}
	}
	return d
}

func (h *handle) file(p string) *file.Client {
	dir, name := remote.Split(p)
	return h.dir(dir).NewFileClient(name)
}

func (h *handle) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	var entries []remote.Entry
	pager := h.dir(dir).NewListFilesAndDirectoriesPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("list", dir, err)
		}
		if resp.Segment == nil {
			continue
		}
		for _, d := range resp.Segment.Directories {
			if d == nil || d.Name == nil {
				continue
			}
			entries = append(entries, remote.Entry{Name: *d.Name, IsDir: true})
		}
		for _, f := range resp.Segment.Files {
			if f == nil || f.Name == nil {
				continue
			}
			e := remote.Entry{Name: *f.Name}
			if f.Properties != nil && f.Properties.ContentLength != nil && *f.Properties.ContentLength > 0 {
				e.Size = uint64(*f.Properties.ContentLength)
			}
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (h *handle) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := h.file(p).DownloadStream(ctx, nil)
	if err != nil {
		return nil, classify("open", p, err)
	}
	return &body{rc: resp.Body, path: p}, nil
}

func (h *handle) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := h.file(p).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	// A directory at p also answers ResourceNotFound to a file request.
	if fileerror.HasCode(err, fileerror.ResourceNotFound, fileerror.ParentNotFound) {
		return false, nil
	}
	return false, classify("stat", p, err)
}

func (h *handle) Close() error { return nil }

// body tags mid-stream read failures as transient.
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
	if fileerror.HasCode(err, fileerror.ResourceNotFound, fileerror.ParentNotFound, fileerror.ShareNotFound) {
		return fmt.Errorf("%s %s: %w", op, p, remote.NotFound(p))
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, p, remote.NotFound(p))
		case respErr.StatusCode >= 500,
			respErr.StatusCode == http.StatusTooManyRequests,
			respErr.StatusCode == http.StatusRequestTimeout:
			return remote.Transient(op, p, err)
		default:
			return fmt.Errorf("%s %s: %w", op, p, err)
		}
	}
	// No HTTP response at all: the connection failed.
	return remote.Transient(op, p, err)
}
