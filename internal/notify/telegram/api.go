// Package telegram delivers generation results to Telegram chats through the
// Bot API. The client speaks the HTTP API directly: JSON for text methods,
// multipart uploads for media, since output URLs are short-lived presigned
// links Telegram's own URL fetcher cannot be trusted with.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"conjure/internal/notify/core"
	"conjure/internal/types"
)

// ParseModeMarkdownV2 is the only parse mode used for formatted sends.
const ParseModeMarkdownV2 = "MarkdownV2"

// API is a minimal Telegram Bot API client covering the methods the notifier
// needs.
type API struct {
	http    *http.Client
	baseURL string
	token   types.SecretString
}

// NewAPI creates an API client. baseURL is normally https://api.telegram.org
// and is overridable for tests and regional proxies.
func NewAPI(httpClient *http.Client, baseURL string, token types.SecretString) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Message is the subset of a Telegram message the notifier cares about.
type Message struct {
	MessageID int64 `json:"message_id"`
}

// InlineKeyboardButton is one button of an inline keyboard row.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InlineKeyboardMarkup is the reply_markup payload for inline keyboards.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// RequestError is a typed Bot API failure carrying the HTTP status and
// Telegram's error description for classification.
type RequestError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("telegram http %d: %s", e.StatusCode, desc)
		}
		return "telegram: " + desc
	}
	body := strings.TrimSpace(e.Body)
	if e.StatusCode > 0 {
		if body != "" {
			return fmt.Sprintf("telegram http %d: %s", e.StatusCode, body)
		}
		return fmt.Sprintf("telegram http %d", e.StatusCode)
	}
	if body != "" {
		return "telegram: " + body
	}
	return "telegram request failed"
}

// IsMarkdownParseError reports whether err is Telegram rejecting MarkdownV2
// entities. The caller retries those sends as plain text.
func IsMarkdownParseError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't parse entity")
}

func (api *API) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token.Unmask(), method)
}

func (api *API) do(ctx context.Context, method string, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.methodURL(method), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := api.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var out apiResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return nil, &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   out.ErrorCode,
			Description: out.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	return out.Result, nil
}

func (api *API) doJSON(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return api.do(ctx, method, "application/json", bytes.NewReader(b))
}

type sendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
	ReplyToMessageID      int64                 `json:"reply_to_message_id,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage posts a text message. parseMode may be empty for plain text.
func (api *API) SendMessage(ctx context.Context, chatID int64, text, parseMode string, replyTo int64, markup *InlineKeyboardMarkup) (*Message, error) {
	result, err := api.doJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
		ReplyToMessageID:      replyTo,
		ReplyMarkup:           markup,
	})
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("telegram sendMessage: decode result: %w", err)
	}
	return &msg, nil
}

// SendMedia uploads one media object with the given Bot API method and form
// field name: sendPhoto/"photo", sendVideo/"video", sendAnimation/"animation",
// sendDocument/"document". The caption may be empty.
func (api *API) SendMedia(ctx context.Context, chatID int64, method, field string, media *core.FetchedMedia, caption, parseMode string, markup *InlineKeyboardMarkup) (*Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return nil, err
		}
		if parseMode != "" {
			if err := mw.WriteField("parse_mode", parseMode); err != nil {
				return nil, err
			}
		}
	}
	if markup != nil {
		b, err := json.Marshal(markup)
		if err != nil {
			return nil, err
		}
		if err := mw.WriteField("reply_markup", string(b)); err != nil {
			return nil, err
		}
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(media.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	result, err := api.do(ctx, method, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return &msg, nil
}

// MediaGroupItem is one entry of a sendMediaGroup batch.
type MediaGroupItem struct {
	Type    string // "photo" or "video"
	Media   *core.FetchedMedia
	Caption string
}

type inputMedia struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMediaGroup uploads 2 to 10 media objects as a single album using the
// attach:// multipart convention. Returns the created messages in order.
func (api *API) SendMediaGroup(ctx context.Context, chatID int64, items []MediaGroupItem, parseMode string) ([]Message, error) {
	if len(items) < 2 || len(items) > 10 {
		return nil, fmt.Errorf("telegram sendMediaGroup: need 2 to 10 items, got %d", len(items))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, err
	}

	descriptors := make([]inputMedia, 0, len(items))
	for i, item := range items {
		attachName := fmt.Sprintf("file%d", i)
		desc := inputMedia{
			Type:    item.Type,
			Media:   "attach://" + attachName,
			Caption: item.Caption,
		}
		if item.Caption != "" {
			desc.ParseMode = parseMode
		}
		descriptors = append(descriptors, desc)

		filename := item.Media.Filename
		if filename == "" {
			filename = attachName
		}
		part, err := mw.CreateFormFile(attachName, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(item.Media.Data); err != nil {
			return nil, err
		}
	}

	mediaJSON, err := json.Marshal(descriptors)
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("media", string(mediaJSON)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	result, err := api.do(ctx, "sendMediaGroup", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(result, &msgs); err != nil {
		return nil, fmt.Errorf("telegram sendMediaGroup: decode result: %w", err)
	}
	return msgs, nil
}

type editReplyMarkupRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageReplyMarkup attaches an inline keyboard to an already sent
// message. Used to put the control row on the final message regardless of
// how it was sent.
func (api *API) EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *InlineKeyboardMarkup) error {
	_, err := api.doJSON(ctx, "editMessageReplyMarkup", editReplyMarkupRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: markup,
	})
	return err
}
