package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conjure/internal/security"
	"conjure/internal/types"
)

// RetrySchedule is the fixed backoff schedule between webhook attempts.
// With MaxAttempts at 3 the observed spacing is 1s then 5s; the 30s slot is
// the cap applied if the attempt budget is ever raised.
var RetrySchedule = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

// MaxAttempts is the total number of HTTP attempts per delivery.
const MaxAttempts = 3

// AttemptTimeout is the hard per-attempt timeout, independent of the
// retry schedule.
const AttemptTimeout = 10 * time.Second

// DefaultUserAgent identifies webhook deliveries to consumer endpoints.
const DefaultUserAgent = "Conjure-Webhook/1.0"

// maxErrorBodyBytes bounds how much of an error response is carried in the
// exhaustion error.
const maxErrorBodyBytes = 200

// Compile-time assertion that Notifier implements types.Notifier.
var _ types.Notifier = (*Notifier)(nil)

// Notifier delivers signed JSON payloads to user-configured HTTP endpoints.
// Unlike the chat channels it runs its own fixed internal retry loop; the
// destination and secret come from record metadata, not the notification
// context.
type Notifier struct {
	client      *http.Client
	casts       CastFetcher
	clock       types.Clock
	logger      types.Logger
	userAgent   string
	production  bool
	timeout     time.Duration
	validateURL types.SSRFValidator

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithUserAgent overrides the outgoing User-Agent header.
func WithUserAgent(ua string) Option {
	return func(n *Notifier) { n.userAgent = ua }
}

// WithSleepFunc replaces the backoff sleep. Tests use this to run the retry
// schedule without waiting.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(n *Notifier) { n.sleep = fn }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithSSRFValidator installs a resolver pre-flight check that runs against
// the destination URL before the first attempt. A blocked destination fails
// immediately instead of burning the retry schedule on dial errors.
func WithSSRFValidator(fn types.SSRFValidator) Option {
	return func(n *Notifier) { n.validateURL = fn }
}

// NewNotifier creates a webhook notifier. In production pass a client built
// by security.NewSafeHTTPClient plus WithSSRFValidator so deliveries cannot
// reach internal networks; the production flag additionally enforces
// HTTPS-only destinations.
func NewNotifier(client *http.Client, casts CastFetcher, clock types.Clock, production bool, logger types.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		client:     client,
		casts:      casts,
		clock:      clock,
		logger:     logger,
		userAgent:  DefaultUserAgent,
		production: production,
		timeout:    AttemptTimeout,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (n *Notifier) Type() types.ChannelType { return types.ChannelWebhook }

// SendNotification builds, signs, and POSTs the payload for a record to the
// webhook URL in its metadata. The notification context and fallback text are
// unused: webhook consumers receive structured JSON, never rendered text.
func (n *Notifier) SendNotification(ctx context.Context, _ types.NotificationContext, _ string, record *types.GenerationRecord) error {
	url := strings.TrimSpace(record.Metadata.WebhookURL)
	if url == "" {
		return types.NewAppError(types.ErrCodeConfigMissingDestination, "record has no webhook URL", nil)
	}
	if err := types.ValidateWebhookURL(url, n.production); err != nil {
		return types.NewAppError(types.ErrCodeConfigInvalidDestination, err.Error(), err)
	}
	if n.validateURL != nil {
		if err := n.validateURL(url); err != nil {
			return types.NewAppError(types.ErrCodeSSRFBlocked,
				fmt.Sprintf("webhook URL %s resolves to a blocked address", url), err)
		}
	}

	p := BuildPayload(ctx, record, n.casts, n.clock, n.logger)

	var body []byte
	var sig string
	secret := types.SecretString(record.Metadata.WebhookSecret)
	if secret != "" {
		var err error
		body, sig, err = SignBody(p, secret)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "building webhook body", err)
		}
	} else {
		var err error
		body, err = json.Marshal(p)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "building webhook body", err)
		}
	}

	return n.deliver(ctx, url, record.ID, body, sig)
}

// deliver runs the fixed retry loop. Retryable: network errors, DNS
// failures, non-2xx responses. Terminal without further attempts: per-attempt
// timeout and SSRF blocks.
func (n *Notifier) deliver(ctx context.Context, url, generationID string, body []byte, sig string) error {
	var lastStatus int
	var lastSnippet string
	var lastErr error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := RetrySchedule[min(attempt-1, len(RetrySchedule)-1)]
			if err := n.sleep(ctx, delay); err != nil {
				return types.NewAppError(types.ErrCodeDeliveryNetwork, "webhook delivery cancelled", err)
			}
		}

		status, snippet, err := n.attempt(ctx, url, body, sig)
		if err == nil && status >= 200 && status < 300 {
			n.logger.Info("webhook delivered",
				"generation_id", generationID,
				"url", url,
				"status", status,
				"attempt", attempt+1,
			)
			return nil
		}

		if err != nil {
			if errors.Is(err, security.ErrSSRFBlocked) {
				return types.NewAppError(types.ErrCodeSSRFBlocked,
					fmt.Sprintf("webhook URL %s resolves to a blocked address", url), err)
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				// The attempt timed out while the caller's context is still
				// live. Timeouts are terminal: a slow endpoint would burn
				// the whole schedule without ever succeeding.
				return types.NewAppError(types.ErrCodeDeliveryTimeout,
					fmt.Sprintf("webhook POST to %s timed out after %s", url, n.timeout), err)
			}
			if ctx.Err() != nil {
				return types.NewAppError(types.ErrCodeDeliveryNetwork, "webhook delivery cancelled", ctx.Err())
			}
			lastErr = err
			lastStatus = 0
			lastSnippet = ""
		} else {
			lastErr = nil
			lastStatus = status
			lastSnippet = snippet
		}

		n.logger.Warn("webhook attempt failed",
			"generation_id", generationID,
			"url", url,
			"attempt", attempt+1,
			"status", lastStatus,
			"error", errString(lastErr),
		)
	}

	msg := fmt.Sprintf("webhook delivery to %s failed after %d attempts", url, MaxAttempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %s", msg, lastErr.Error())
	} else {
		msg = fmt.Sprintf("%s: last status %d, body %q", msg, lastStatus, lastSnippet)
	}
	return types.NewAppError(types.ErrCodeDeliveryExhausted, msg, lastErr)
}

// attempt performs one POST with its own timeout.
func (n *Notifier) attempt(ctx context.Context, url string, body []byte, sig string) (status int, snippet string, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)
	if sig != "" {
		req.Header.Set(SignatureHeader, HeaderValue(sig))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
