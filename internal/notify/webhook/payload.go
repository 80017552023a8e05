package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conjure/internal/payload"
	"conjure/internal/types"
)

// ErrorInfo describes a failed generation or cast in a webhook payload.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Payload is either a ToolPayload or a SpellPayload. The signature setter is
// unexported: callers go through SignBody so the signed bytes and the
// embedded signature field can never disagree.
type Payload interface {
	setSignature(sig string)
}

// ToolPayload is the webhook body for a single tool execution.
type ToolPayload struct {
	Event        types.WebhookEvent  `json:"event"`
	GenerationID string              `json:"generationId"`
	ToolID       string              `json:"toolId,omitempty"`
	Status       string              `json:"status"`
	Outputs      []payload.WebOutput `json:"outputs"`
	CostUSD      string              `json:"costUsd"`
	Timestamp    string              `json:"timestamp"`
	Error        *ErrorInfo          `json:"error,omitempty"`
	Signature    string              `json:"signature,omitempty"`
}

func (p *ToolPayload) setSignature(sig string) { p.Signature = sig }

// SpellPayload is the webhook body for a completed or failed spell cast.
type SpellPayload struct {
	Event         types.WebhookEvent  `json:"event"`
	CastID        string              `json:"castId"`
	SpellID       string              `json:"spellId,omitempty"`
	SpellSlug     string              `json:"spellSlug,omitempty"`
	Status        string              `json:"status"`
	GenerationIDs []string            `json:"generationIds"`
	CostUSD       string              `json:"costUsd"`
	StartedAt     string              `json:"startedAt,omitempty"`
	CompletedAt   string              `json:"completedAt,omitempty"`
	FinalOutputs  []payload.WebOutput `json:"finalOutputs,omitempty"`
	Error         *ErrorInfo          `json:"error,omitempty"`
	Signature     string              `json:"signature,omitempty"`
}

func (p *SpellPayload) setSignature(sig string) { p.Signature = sig }

// CastFetcher looks up a spell cast record from the internal API.
type CastFetcher interface {
	GetSpellCast(ctx context.Context, castID string) (*types.CastRecord, error)
}

// BuildPayload assembles the webhook payload for a record. Records carrying
// a castId produce the spell shape, which requires a cast lookup through the
// internal API; if that lookup fails the builder degrades to the tool shape
// so the consumer still receives a delivery.
func BuildPayload(ctx context.Context, record *types.GenerationRecord, casts CastFetcher, clock types.Clock, logger types.Logger) Payload {
	if record.CastID != "" && casts != nil {
		cast, err := casts.GetSpellCast(ctx, record.CastID)
		if err != nil {
			logger.Warn("cast lookup failed, degrading to tool payload",
				"generation_id", record.ID,
				"cast_id", record.CastID,
				"error", err.Error(),
			)
		} else {
			return buildSpellPayload(record, cast)
		}
	}
	return buildToolPayload(record, clock)
}

func buildToolPayload(record *types.GenerationRecord, clock types.Clock) *ToolPayload {
	event := types.EventGenerationCompleted
	if record.Status != types.GenerationCompleted {
		event = types.EventGenerationFailed
	}

	p := &ToolPayload{
		Event:        event,
		GenerationID: record.ID,
		ToolID:       record.ToolID,
		Status:       string(record.Status),
		Outputs:      payload.ToWebFormat(payload.Normalize(record.ResponsePayload, nil)),
		CostUSD:      record.CostString(),
		Timestamp:    clock.Now().Format(time.RFC3339),
	}
	if p.Outputs == nil {
		p.Outputs = []payload.WebOutput{}
	}
	if event == types.EventGenerationFailed {
		p.Error = recordError(record)
	}
	return p
}

func buildSpellPayload(record *types.GenerationRecord, cast *types.CastRecord) *SpellPayload {
	event := types.EventSpellCompleted
	if record.Status != types.GenerationCompleted {
		event = types.EventSpellFailed
	}

	p := &SpellPayload{
		Event:         event,
		CastID:        cast.ID,
		SpellID:       cast.SpellID,
		SpellSlug:     cast.SpellSlug,
		Status:        string(record.Status),
		GenerationIDs: cast.GenerationIDs,
		CostUSD:       types.NormalizeDecimal(cast.CostUSD),
	}
	if p.GenerationIDs == nil {
		p.GenerationIDs = []string{}
	}
	if cast.StartedAt != nil {
		p.StartedAt = cast.StartedAt.Format(time.RFC3339)
	}
	if cast.CompletedAt != nil {
		p.CompletedAt = cast.CompletedAt.Format(time.RFC3339)
	}
	if event == types.EventSpellCompleted {
		p.FinalOutputs = payload.ToWebFormat(payload.Normalize(record.ResponsePayload, nil))
	} else {
		p.Error = recordError(record)
	}
	return p
}

func recordError(record *types.GenerationRecord) *ErrorInfo {
	code := record.Metadata.ErrorCode
	msg := record.Metadata.ErrorMessage
	if code == "" && msg == "" {
		msg = "generation failed"
	}
	return &ErrorInfo{Code: code, Message: msg}
}

// SignBody serializes p, signs the serialization, embeds the signature, and
// returns the final body plus the signature. The signature covers the body
// with the signature field absent; VerifyBody reverses the operation.
func SignBody(p Payload, secret types.SecretString) (body []byte, sig string, err error) {
	unsigned, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("webhook payload: marshal: %w", err)
	}
	sig = Sign(unsigned, secret)
	p.setSignature(sig)
	body, err = json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("webhook payload: marshal signed: %w", err)
	}
	return body, sig, nil
}

// VerifyBody checks a received webhook body against the given signature
// (header value or the body's own signature field). The body is decoded into
// the shape its event field names, the signature field cleared, and the
// canonical serialization verified.
func VerifyBody(body []byte, signature string, secret types.SecretString) bool {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return false
	}

	var p Payload
	switch types.WebhookEvent(head.Event) {
	case types.EventSpellCompleted, types.EventSpellFailed:
		p = &SpellPayload{}
	case types.EventGenerationCompleted, types.EventGenerationFailed:
		p = &ToolPayload{}
	default:
		return false
	}
	if err := json.Unmarshal(body, p); err != nil {
		return false
	}
	p.setSignature("")
	unsigned, err := json.Marshal(p)
	if err != nil {
		return false
	}
	return Verify(unsigned, signature, secret)
}
