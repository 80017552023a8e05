// Package discord delivers generation results to Discord channels through
// the REST API. Like the Telegram channel it speaks HTTP directly; media is
// re-uploaded as multipart attachments because output URLs are short-lived
// presigned links.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"conjure/internal/notify/core"
	"conjure/internal/types"
)

// DefaultBaseURL is the production Discord REST endpoint.
const DefaultBaseURL = "https://discord.com/api/v10"

// channelTypeDM is the DM channel type from the Discord API.
const channelTypeDM = 1

// Component types and button styles.
const (
	componentActionRow = 1
	componentButton    = 2

	buttonStyleSecondary = 2
)

// API is a minimal Discord REST client covering the endpoints the notifier
// needs.
type API struct {
	http    *http.Client
	baseURL string
	token   types.SecretString
}

// NewAPI creates an API client. baseURL is overridable for tests.
func NewAPI(httpClient *http.Client, baseURL string, token types.SecretString) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Message is the subset of a Discord message the notifier cares about.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// ChannelInfo is the subset of a Discord channel object the notifier needs
// to tell guild channels from DMs.
type ChannelInfo struct {
	ID   string `json:"id"`
	Type int    `json:"type"`
}

// IsGuild reports whether the channel is a multi-user guild channel.
func (c *ChannelInfo) IsGuild() bool { return c.Type != channelTypeDM }

// Button is one interactive button of an action row.
type Button struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
}

// ActionRow groups up to five buttons on one row.
type ActionRow struct {
	Type       int      `json:"type"`
	Components []Button `json:"components"`
}

// MessageReference links a message to the one it replies to.
type MessageReference struct {
	MessageID string `json:"message_id,omitempty"`
}

// MessagePayload is the create/edit message body.
type MessagePayload struct {
	Content          string            `json:"content,omitempty"`
	Components       []ActionRow       `json:"components,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

// RequestError is a typed Discord REST failure.
type RequestError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *RequestError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg != "" {
		return fmt.Sprintf("discord http %d: %s", e.StatusCode, msg)
	}
	body := strings.TrimSpace(e.Body)
	if body != "" {
		return fmt.Sprintf("discord http %d: %s", e.StatusCode, body)
	}
	return fmt.Sprintf("discord http %d", e.StatusCode)
}

func (api *API) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, api.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+api.token.Unmask())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return &RequestError{
			StatusCode: resp.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("discord %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// CreateMessage posts a message to a channel. With no files the payload is
// sent as JSON; with files it becomes a multipart request with the JSON in
// the payload_json field and each file as files[N].
func (api *API) CreateMessage(ctx context.Context, channelID string, payload MessagePayload, files []*core.FetchedMedia) (*Message, error) {
	path := fmt.Sprintf("/channels/%s/messages", channelID)

	var msg Message
	if len(files) == 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := api.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(b), &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("payload_json", string(b)); err != nil {
		return nil, err
	}
	for i, f := range files {
		filename := f.Filename
		if filename == "" {
			filename = fmt.Sprintf("file%d", i)
		}
		part, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	if err := api.do(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageComponents attaches action rows to an already sent message.
func (api *API) EditMessageComponents(ctx context.Context, channelID, messageID string, components []ActionRow) error {
	body := struct {
		Components []ActionRow `json:"components"`
	}{Components: components}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return api.do(ctx, http.MethodPatch, path, "application/json", bytes.NewReader(b), nil)
}

// GetChannel fetches channel metadata, used to distinguish guild channels
// from DMs for document redirection.
func (api *API) GetChannel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var ch ChannelInfo
	if err := api.do(ctx, http.MethodGet, "/channels/"+channelID, "", nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateDMChannel opens (or reuses) the private channel with a user.
func (api *API) CreateDMChannel(ctx context.Context, userID string) (*ChannelInfo, error) {
	b, err := json.Marshal(map[string]string{"recipient_id": userID})
	if err != nil {
		return nil, err
	}
	var ch ChannelInfo
	if err := api.do(ctx, http.MethodPost, "/users/@me/channels", "application/json", bytes.NewReader(b), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}
