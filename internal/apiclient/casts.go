package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"conjure/internal/types"
)

// internalAPIUserAgent identifies the notification workers to the internal API.
const internalAPIUserAgent = "Conjure-NotifyWorker/1.0"

// Client talks to the Conjure internal REST API. The notification layer only
// needs the spell-cast lookup; everything else the API offers is out of
// scope here.
type Client struct {
	base      *BaseClient
	baseURL   string
	clientKey types.SecretString
	logger    types.Logger
}

// New creates an internal API Client. baseURL must carry no trailing slash.
func New(httpClient *http.Client, baseURL string, clientKey types.SecretString, logger types.Logger, opts ...BaseClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:      NewBaseClient(httpClient, "internal-api", DefaultRetryPolicy(), internalAPIUserAgent, opts...),
		baseURL:   baseURL,
		clientKey: clientKey,
		logger:    logger,
	}
}

// GetSpellCast fetches the cast record used to enrich spell webhook
// payloads. Callers degrade gracefully when this fails: a lookup error must
// never prevent the user from receiving a notification.
func (c *Client) GetSpellCast(ctx context.Context, castID string) (*types.CastRecord, error) {
	if castID == "" {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "cast ID is empty", nil)
	}

	endpoint := fmt.Sprintf("%s/internal/v1/data/spells/casts/%s", c.baseURL, url.PathEscape(castID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build cast lookup request", err)
	}
	req.Header.Set("X-Internal-Client-Key", c.clientKey.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("cast lookup returned non-2xx",
			"cast_id", castID,
			"status", resp.StatusCode,
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamInternalAPI,
			fmt.Sprintf("cast lookup returned %d", resp.StatusCode),
			nil,
		)
	}

	var cast types.CastRecord
	if err := json.Unmarshal(body, &cast); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamInternalAPI, "failed to decode cast record", err)
	}

	return &cast, nil
}
