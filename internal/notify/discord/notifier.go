package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"conjure/internal/notify/core"
	"conjure/internal/payload"
	"conjure/internal/types"
)

// MaxAttachmentsPerMessage is Discord's per-message attachment limit.
const MaxAttachmentsPerMessage = 10

// Compile-time assertion that Notifier implements types.Notifier.
var _ types.Notifier = (*Notifier)(nil)

// Notifier delivers generation results to a Discord channel: media as
// attachments in generation order, photos grouped into one message, one
// trailing text message, and the control row on whatever message ends up
// last.
type Notifier struct {
	api     *API
	fetcher *core.Fetcher
	logger  types.Logger
}

// NewNotifier creates a Discord notifier.
func NewNotifier(api *API, fetcher *core.Fetcher, logger types.Logger) *Notifier {
	return &Notifier{
		api:     api,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (n *Notifier) Type() types.ChannelType { return types.ChannelDiscord }

// SendNotification renders the record into one or more Discord messages.
// Failed records get the fallback text verbatim. Any delivery error triggers
// one last plain-text fallback send before the error propagates.
func (n *Notifier) SendNotification(ctx context.Context, nctx types.NotificationContext, fallbackText string, record *types.GenerationRecord) error {
	channelID := nctx.ChannelID
	if channelID == "" {
		return types.NewAppError(types.ErrCodeConfigMissingDestination, "discord notification has no channel id", nil)
	}

	components := controlRows(record)

	if record == nil || record.Status != types.GenerationCompleted {
		_, err := n.sendText(ctx, channelID, fallbackText, nctx.ReplyToMessageID, components)
		if err != nil {
			return n.wrapSendError("sending failure notice", err)
		}
		return nil
	}

	items := payload.Normalize(record.ResponsePayload, n.logger)
	last, err := n.deliverItems(ctx, channelID, nctx, fallbackText, record, items)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.IsConfig() {
			return err
		}

		n.logger.Warn("discord delivery failed, attempting text-only fallback",
			"generation_id", record.ID,
			"channel_id", channelID,
			"error", err.Error(),
		)
		if _, fbErr := n.sendText(ctx, channelID, fallbackText, nctx.ReplyToMessageID, components); fbErr != nil {
			return n.wrapSendError("delivering result", err)
		}
		return nil
	}

	if last != nil && components != nil {
		if err := n.api.EditMessageComponents(ctx, last.ChannelID, last.ID, components); err != nil {
			n.logger.Warn("failed to attach control row",
				"generation_id", record.ID,
				"channel_id", last.ChannelID,
				"message_id", last.ID,
				"error", err.Error(),
			)
		}
	}

	return nil
}

func (n *Notifier) deliverItems(ctx context.Context, channelID string, nctx types.NotificationContext, fallbackText string, record *types.GenerationRecord, items []payload.Item) (*Message, error) {
	texts, err := n.resolveTexts(ctx, items)
	if err != nil {
		return nil, err
	}
	texts = payload.DedupeText(texts)
	media := payload.ExtractMedia(items)

	if len(media) == 0 && len(texts) == 0 {
		return n.sendText(ctx, channelID, fallbackText, nctx.ReplyToMessageID, nil)
	}

	hint, hasHint := (types.DeliveryHint{}), false
	if record != nil {
		hint, hasHint = record.Hint(types.ChannelDiscord)
	}
	forceDocument := hasHint && hint.SendAs == types.SendAsDocument

	photoCount := 0
	if !forceDocument {
		for _, it := range media {
			if it.Type == payload.TypePhoto {
				photoCount++
			}
		}
	}

	var last *Message

	var batch []*core.FetchedMedia
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = nil }()

		if len(batch) > 1 {
			msg, err := n.api.CreateMessage(ctx, channelID, MessagePayload{}, batch)
			if err == nil {
				last = msg
				return nil
			}
			n.logger.Warn("attachment batch rejected, sending photos individually",
				"channel_id", channelID,
				"count", len(batch),
				"error", err.Error(),
			)
		}

		for _, f := range batch {
			msg, err := n.api.CreateMessage(ctx, channelID, MessagePayload{}, []*core.FetchedMedia{f})
			if err != nil {
				return err
			}
			last = msg
		}
		return nil
	}

	// Prefetch every media object before any send so a broken URL cannot
	// leave a half-delivered notification behind.
	urls := make([]string, len(media))
	for i, it := range media {
		urls[i] = it.URL
	}
	fetchedAll, err := n.fetcher.FetchAll(ctx, urls)
	if err != nil {
		return nil, err
	}

	for i, it := range media {
		fetched := fetchedAll[i]
		if it.Filename != "" {
			fetched.Filename = it.Filename
		}

		sendAsDocument := it.Type == payload.TypeDocument || (it.Type == payload.TypePhoto && forceDocument)
		if sendAsDocument {
			if err := flushBatch(); err != nil {
				return nil, err
			}
			if forceDocument && hint.Filename != "" && it.Type == payload.TypePhoto {
				fetched.Filename = hint.Filename
			}
			msg, err := n.sendDocument(ctx, channelID, nctx, fetched)
			if err != nil {
				return nil, err
			}
			last = msg
			continue
		}

		if it.Type == payload.TypePhoto && photoCount >= 2 && len(batch) < MaxAttachmentsPerMessage {
			batch = append(batch, fetched)
			continue
		}

		if err := flushBatch(); err != nil {
			return nil, err
		}
		msg, err := n.api.CreateMessage(ctx, channelID, MessagePayload{}, []*core.FetchedMedia{fetched})
		if err != nil {
			return nil, err
		}
		last = msg
	}
	if err := flushBatch(); err != nil {
		return nil, err
	}

	if len(texts) > 0 {
		replyTo := nctx.ReplyToMessageID
		if last != nil {
			replyTo = 0
		}
		msg, err := n.sendText(ctx, channelID, strings.Join(texts, "\n\n"), replyTo, nil)
		if err != nil {
			return nil, err
		}
		last = msg
	}

	return last, nil
}

func (n *Notifier) resolveTexts(ctx context.Context, items []payload.Item) ([]string, error) {
	var texts []string
	for _, it := range items {
		if it.Type != payload.TypeText {
			continue
		}
		if it.Text != "" {
			texts = append(texts, it.Text)
			continue
		}
		if it.URL == "" {
			continue
		}
		content, err := n.fetcher.FetchText(ctx, it.URL)
		if err != nil {
			return nil, err
		}
		texts = append(texts, content)
	}
	return texts, nil
}

// sendDocument delivers one file attachment. In guild channels with a known
// user the file is redirected to the user's DM and a short notice posted in
// the channel instead.
func (n *Notifier) sendDocument(ctx context.Context, channelID string, nctx types.NotificationContext, media *core.FetchedMedia) (*Message, error) {
	if nctx.UserID != "" {
		ch, err := n.api.GetChannel(ctx, channelID)
		if err != nil {
			n.logger.Warn("cannot resolve channel type, sending document in place",
				"channel_id", channelID,
				"error", err.Error(),
			)
		} else if ch.IsGuild() {
			dm, err := n.api.CreateDMChannel(ctx, nctx.UserID)
			if err != nil {
				return nil, err
			}
			if _, err := n.api.CreateMessage(ctx, dm.ID, MessagePayload{}, []*core.FetchedMedia{media}); err != nil {
				return nil, err
			}
			notice := fmt.Sprintf("📄 %s sent to you privately", media.Filename)
			return n.sendText(ctx, channelID, notice, 0, nil)
		}
	}

	return n.api.CreateMessage(ctx, channelID, MessagePayload{}, []*core.FetchedMedia{media})
}

// sendText sends escaped markdown content as one message.
func (n *Notifier) sendText(ctx context.Context, channelID, text string, replyTo int64, components []ActionRow) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		trimmed = "(empty)"
	}

	p := MessagePayload{
		Content:    EscapeMarkdown(trimmed),
		Components: components,
	}
	if replyTo != 0 {
		p.MessageReference = &MessageReference{MessageID: fmt.Sprintf("%d", replyTo)}
	}
	return n.api.CreateMessage(ctx, channelID, p, nil)
}

func (n *Notifier) wrapSendError(op string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return types.NewAppError(types.ErrCodeDeliveryUpstream, op+": "+reqErr.Error(), reqErr)
	}
	return types.NewAppError(types.ErrCodeDeliveryNetwork, op+": "+err.Error(), err)
}

// controlRows builds the interactive buttons for a delivered generation.
func controlRows(record *types.GenerationRecord) []ActionRow {
	if record == nil || record.ID == "" {
		return nil
	}

	rerunLabel := "🔄 Rerun"
	if n := record.Metadata.RerunCount; n > 0 {
		rerunLabel = fmt.Sprintf("🔄 Rerun (%d)", n)
	}

	return []ActionRow{
		{
			Type: componentActionRow,
			Components: []Button{
				{Type: componentButton, Style: buttonStyleSecondary, Label: "👍", CustomID: "rate:up:" + record.ID},
				{Type: componentButton, Style: buttonStyleSecondary, Label: "👎", CustomID: "rate:down:" + record.ID},
			},
		},
		{
			Type: componentActionRow,
			Components: []Button{
				{Type: componentButton, Style: buttonStyleSecondary, Label: "ℹ️ Info", CustomID: "info:" + record.ID},
				{Type: componentButton, Style: buttonStyleSecondary, Label: "✏️ Tweak", CustomID: "tweak:" + record.ID},
				{Type: componentButton, Style: buttonStyleSecondary, Label: rerunLabel, CustomID: "rerun:" + record.ID},
			},
		},
	}
}
