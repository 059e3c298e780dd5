package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/hasher"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("x")) })
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	})
	mux.HandleFunc("/ua", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(r.UserAgent())) })
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchBodyAndHeaders(t *testing.T) {
	srv := newServer(t)
	f := New(Config{UserAgent: "agent/2"})

	body, err := f.Fetch(context.Background(), srv.URL+"/ua")
	require.NoError(t, err)
	assert.Equal(t, "agent/2", string(body))
}

func TestFetchRejectsBodyOverMaxBytes(t *testing.T) {
	srv := newServer(t)

	_, err := New(Config{MaxBytes: 10}).Fetch(context.Background(), srv.URL+"/big")
	var tl *BodyTooLargeError
	require.True(t, errors.As(err, &tl))
	assert.Equal(t, int64(10), tl.Limit)

	body, err := New(Config{MaxBytes: 100}).Fetch(context.Background(), srv.URL+"/big")
	require.NoError(t, err)
	assert.Len(t, body, 100)
}

func TestSnapshotOversizeBodyIsAWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 60) + r.URL.Query().Get("tail")))
	}))
	t.Cleanup(srv.Close)
	f := New(Config{MaxBytes: 50, Logger: zerolog.Nop()})
	sentinel := hasher.New(hasher.MD5).Sentinel()

	for _, tail := range []string{"a", "b"} {
		url := srv.URL + "/?tail=" + tail
		res, err := f.Snapshot(context.Background(), "urls", []string{url})
		require.NoError(t, err)
		d, _ := res.Snapshot.Digest(url)
		assert.Equal(t, sentinel, d, "a prefix digest would hide the change at byte 60")
		require.Len(t, res.Warnings, 1)
		var tl *BodyTooLargeError
		assert.True(t, errors.As(res.Warnings[0].Err, &tl))
	}
}

func TestFetchReportsStatus(t *testing.T) {
	srv := newServer(t)
	_, err := New(Config{}).Fetch(context.Background(), srv.URL+"/missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestSnapshotKeyedByURL(t *testing.T) {
	srv := newServer(t)
	blobs := t.TempDir()
	f := New(Config{
		BlobDir: blobs,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})

	ok := srv.URL + "/x"
	bad := srv.URL + "/missing"
	res, err := f.Snapshot(context.Background(), "urls:test", []string{ok, bad, ok})
	require.NoError(t, err)

	snap := res.Snapshot
	assert.Equal(t, "urls:test", snap.Source())
	assert.Equal(t, int64(1700000000), snap.CreatedAt().Epoch)
	assert.Equal(t, 2, snap.Len())

	d, _ := snap.Digest(ok)
	assert.Equal(t, "9dd4e461268c8034f5c8564e155c67a6", d)
	body, err := cache.ReadBlob(blobs, d)
	require.NoError(t, err)
	assert.Equal(t, "x", string(body))

	d, _ = snap.Digest(bad)
	assert.Equal(t, hasher.New(hasher.MD5).Sentinel(), d)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, bad, res.Warnings[0].Path)
	assert.True(t, hasher.IsUnreadable(res.Warnings[0].Err))
}

func TestSnapshotUnreachableHostIsAWarning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone"
	srv.Close()

	res, err := New(Config{Timeout: 2 * time.Second, Logger: zerolog.Nop()}).
		Snapshot(context.Background(), "urls", []string{url})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 1, res.Snapshot.Len())
}

func TestSnapshotCancelled(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Logger: zerolog.Nop()}).Snapshot(ctx, "urls", []string{srv.URL + "/x"})
	assert.ErrorIs(t, err, context.Canceled)
}
