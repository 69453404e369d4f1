package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/remote"
)

func TestEntryFor(t *testing.T) {
	prefix := dirPrefix("teamA/reports")
	assert.Equal(t, "teamA/reports/", prefix)
	assert.Equal(t, "", dirPrefix(""))

	tests := []struct {
		name  string
		attrs *storage.ObjectAttrs
		want  remote.Entry
		ok    bool
	}{
		{"sub directory", &storage.ObjectAttrs{Prefix: "teamA/reports/2023/"}, remote.Entry{Name: "2023", IsDir: true}, true},
		{"file", &storage.ObjectAttrs{Name: "teamA/reports/q1.csv", Size: 4}, remote.Entry{Name: "q1.csv", Size: 4}, true},
		{"empty file", &storage.ObjectAttrs{Name: "teamA/reports/empty"}, remote.Entry{Name: "empty"}, true},
		{"directory marker", &storage.ObjectAttrs{Name: "teamA/reports/"}, remote.Entry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryFor(prefix, tt.attrs)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantNotFound  bool
	}{
		{"object missing", storage.ErrObjectNotExist, false, true},
		{"bucket missing", fmt.Errorf("attrs: %w", storage.ErrBucketNotExist), false, true},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, true, false},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true, false},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, false, false},
		{"network", errors.New("unexpected EOF"), true, false},
		{"deadline", context.DeadlineExceeded, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("read", "teamA/a.txt", tt.err)
			assert.Equal(t, tt.wantTransient, remote.IsTransient(err))
			assert.Equal(t, tt.wantNotFound, remote.IsNotFound(err))
		})
	}
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientOptions(config.GCSConfig{Bucket: "b"})
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = ClientOptions(config.GCSConfig{Bucket: "b", Endpoint: "http://127.0.0.1:4443/storage/v1/"})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = ClientOptions(config.GCSConfig{Bucket: "b", Endpoint: "gs://nope"})
	assert.Error(t, err)
}

func TestNewLocalEmulator(t *testing.T) {
	conn, err := New(context.Background(), config.GCSConfig{
		Bucket:   "team-files",
		Endpoint: "http://127.0.0.1:4443/storage/v1/",
	}, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "gcs:team-files", conn.Name())

	_, err = New(context.Background(), config.GCSConfig{}, nil)
	assert.Error(t, err)
}
