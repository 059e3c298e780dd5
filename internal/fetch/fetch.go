// Package fetch produces a snapshot for a set of URLs: one entry per URL,
// keyed by the URL itself, whose digest is computed over the response body.
//
// Fetching is best effort. A URL that cannot be fetched is recorded with the
// hasher's sentinel digest and reported as a warning, the same way the tree
// scanner treats an unreadable file.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/hasher"
	"fingerprinter/internal/scan"
	"fingerprinter/internal/snapshot"
)

// Config configures a Fetcher.
type Config struct {
	Timeout  time.Duration // per request. Default: 30s.
	MaxBytes int64         // response body cap. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// Workers bounds concurrent requests. Default: 4.
	Workers int
	Hasher  *hasher.Hasher
	// BlobDir receives every fetched body (see cache.SaveBlob). Empty
	// disables caching.
	BlobDir string
	Logger  zerolog.Logger
	Now     func() time.Time
	// Client overrides the pooled client built from Timeout.
	Client *http.Client
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "fingerprinter/1.0"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Hasher == nil {
		c.Hasher = hasher.New(hasher.Default)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("fetch %s: http %d", e.URL, e.Code) }

// BodyTooLargeError reports a response body longer than MaxBytes. Such a
// body is never hashed, since a digest of its prefix would hide changes
// past the cap.
type BodyTooLargeError struct {
	URL   string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("fetch %s: body exceeds %d bytes", e.URL, e.Limit)
}

// Fetcher retrieves URL bodies.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = cfg.Timeout
	}
	return &Fetcher{client: client, config: cfg}
}

// Fetch returns the body of url. Bodies longer than MaxBytes fail with
// *BodyTooLargeError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, &BodyTooLargeError{URL: url, Limit: f.config.MaxBytes}
	}
	return body, nil
}

// Snapshot fetches every URL and returns a snapshot labelled source. The
// timestamp is taken once, before the first request. Only a cancelled ctx
// fails the call.
func (f *Fetcher) Snapshot(ctx context.Context, source string, urls []string) (scan.Result, error) {
	created := snapshot.NewTimestamp(f.config.Now())

	var (
		mu       sync.Mutex
		files    = make(map[string]string, len(urls))
		warnings []scan.Warning
	)
	unique := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, dup := files[u]; dup {
			continue
		}
		files[u] = f.config.Hasher.Sentinel()
		unique = append(unique, u)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Workers)
	for _, u := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := f.fingerprint(gctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				warnings = append(warnings, scan.Warning{Path: u, Err: &hasher.UnreadableFileError{Path: u, Err: err}})
				return nil
			}
			files[u] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scan.Result{}, err
	}

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Path < warnings[j].Path })
	for _, w := range warnings {
		f.config.Logger.Warn().Str("path", w.Path).Err(w.Err).Msg("fetch failed")
	}
	f.config.Logger.Debug().Str("source", source).Int("urls", len(files)).Int("warnings", len(warnings)).Msg("fetch complete")

	return scan.Result{
		Snapshot: snapshot.New(source, created, string(f.config.Hasher.Algo()), files),
		Warnings: warnings,
	}, nil
}

func (f *Fetcher) fingerprint(ctx context.Context, url string) (string, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	digest := f.config.Hasher.HashBytes(body)
	if f.config.BlobDir != "" {
		if err := cache.SaveBlob(f.config.BlobDir, digest, bytes.NewReader(body)); err != nil {
			f.config.Logger.Warn().Str("path", url).Err(err).Msg("body cache failed")
		}
	}
	return digest, nil
}
