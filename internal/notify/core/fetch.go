package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"conjure/internal/types"
)

// DefaultMaxFetchBytes caps how much of a media object is buffered in memory
// before upload. Objects beyond this size fail the fetch rather than OOM the
// worker.
const DefaultMaxFetchBytes = 50 * 1024 * 1024

// FetchedMedia is a media object downloaded into memory, ready to be
// re-uploaded to a chat platform as multipart form data.
type FetchedMedia struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Fetcher downloads media objects referenced by generation outputs into
// in-memory buffers. Chat platforms require the bytes, not the URL, because
// output URLs are short-lived presigned links the platform cannot fetch later.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   types.Logger
}

// NewFetcher creates a Fetcher using the given HTTP client. Pass a client
// from security.NewSafeHTTPClient so user-influenced URLs cannot reach
// internal networks.
func NewFetcher(client *http.Client, logger types.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		maxBytes: DefaultMaxFetchBytes,
		logger:   logger,
	}
}

// Fetch downloads the object at url into memory. Returns an AppError with
// code ErrCodeDeliveryFetch on any failure so callers can distinguish fetch
// problems from platform send problems.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchedMedia, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &types.AppError{
			Code:    types.ErrCodeDeliveryFetch,
			Message: "invalid media URL",
			Err:     err,
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &types.AppError{
			Code:    types.ErrCodeDeliveryFetch,
			Message: fmt.Sprintf("fetching media from %s", url),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &types.AppError{
			Code:    types.ErrCodeDeliveryFetch,
			Message: fmt.Sprintf("media fetch returned status %d", resp.StatusCode),
		}
	}

	// LimitReader with maxBytes+1 so we can tell "exactly maxBytes" apart
	// from "truncated".
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &types.AppError{
			Code:    types.ErrCodeDeliveryFetch,
			Message: "reading media body",
			Err:     err,
		}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &types.AppError{
			Code:    types.ErrCodeDeliveryFetch,
			Message: fmt.Sprintf("media exceeds %d byte limit", f.maxBytes),
		}
	}

	f.logger.Info("media fetched",
		"url", url,
		"bytes", len(data),
	)

	return &FetchedMedia{
		Data:        data,
		Filename:    filenameFromURL(url),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// maxConcurrentFetches bounds parallel downloads in FetchAll so a record
// with many outputs does not open unbounded connections from the worker.
const maxConcurrentFetches = 4

// FetchAll downloads every URL concurrently and returns the results in input
// order. A single failed fetch fails the batch; callers that want partial
// delivery should fetch individually.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]*FetchedMedia, error) {
	results := make([]*FetchedMedia, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			media, err := f.Fetch(gCtx, url)
			if err != nil {
				return err
			}
			results[i] = media
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// FetchText downloads a text artifact (a .txt output URL) and returns its
// contents as a string for inlining into the chat message.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	media, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(media.Data), nil
}

// filenameFromURL extracts the final path segment, with query string
// stripped, for use as an upload filename. Falls back to "file" when the
// URL has no usable segment.
func filenameFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	name := path.Base(trimmed)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
