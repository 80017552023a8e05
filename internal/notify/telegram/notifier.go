package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"conjure/internal/notify/core"
	"conjure/internal/payload"
	"conjure/internal/types"
)

// Compile-time assertion that Notifier implements types.Notifier.
var _ types.Notifier = (*Notifier)(nil)

// Notifier delivers generation results to a Telegram chat: media in
// generation order, one trailing text message, and the interactive control
// row on whatever message ends up last.
type Notifier struct {
	api     *API
	fetcher *core.Fetcher
	logger  types.Logger
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(api *API, fetcher *core.Fetcher, logger types.Logger) *Notifier {
	return &Notifier{
		api:     api,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (n *Notifier) Type() types.ChannelType { return types.ChannelTelegram }

// sentMessage tracks the last message created in a delivery so the control
// row can be attached to it afterwards.
type sentMessage struct {
	chatID    int64
	messageID int64
}

// SendNotification renders the record into one or more Telegram messages.
// Failed records get the fallback text verbatim. For completed records the
// payload is normalized, media fetched into buffers and uploaded, and
// extracted text sent as one trailing message. Any delivery error triggers
// one last plain-text fallback send before the error propagates.
func (n *Notifier) SendNotification(ctx context.Context, nctx types.NotificationContext, fallbackText string, record *types.GenerationRecord) error {
	chatID := nctx.ChatID
	if chatID == 0 {
		return types.NewAppError(types.ErrCodeConfigMissingDestination, "telegram notification has no chat id", nil)
	}

	markup := controlRow(record)

	if record == nil || record.Status != types.GenerationCompleted {
		_, err := n.sendText(ctx, chatID, fallbackText, nctx.ReplyToMessageID, markup)
		if err != nil {
			return n.wrapSendError("sending failure notice", err)
		}
		return nil
	}

	items := payload.Normalize(record.ResponsePayload, n.logger)
	last, err := n.deliverItems(ctx, chatID, nctx, fallbackText, record, items)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.IsConfig() {
			return err
		}

		n.logger.Warn("telegram delivery failed, attempting text-only fallback",
			"generation_id", record.ID,
			"chat_id", chatID,
			"error", err.Error(),
		)
		if _, fbErr := n.sendText(ctx, chatID, fallbackText, nctx.ReplyToMessageID, markup); fbErr != nil {
			return n.wrapSendError("delivering result", err)
		}
		return nil
	}

	if last != nil && markup != nil {
		if err := n.api.EditMessageReplyMarkup(ctx, last.chatID, last.messageID, markup); err != nil {
			// The content got through; a missing keyboard is not worth a retry.
			n.logger.Warn("failed to attach control row",
				"generation_id", record.ID,
				"chat_id", last.chatID,
				"message_id", last.messageID,
				"error", err.Error(),
			)
		}
	}

	return nil
}

// deliverItems sends the canonical item list and returns the last message
// created. A nil last message with a nil error means nothing needed sending,
// which deliverItems avoids by falling back to the fallback text itself.
func (n *Notifier) deliverItems(ctx context.Context, chatID int64, nctx types.NotificationContext, fallbackText string, record *types.GenerationRecord, items []payload.Item) (*sentMessage, error) {
	texts, err := n.resolveTexts(ctx, items)
	if err != nil {
		return nil, err
	}
	texts = payload.DedupeText(texts)
	media := payload.ExtractMedia(items)

	if len(media) == 0 && len(texts) == 0 {
		msg, err := n.sendText(ctx, chatID, fallbackText, nctx.ReplyToMessageID, nil)
		if err != nil {
			return nil, err
		}
		return &sentMessage{chatID: chatID, messageID: msg.MessageID}, nil
	}

	hint, hasHint := (types.DeliveryHint{}), false
	if record != nil {
		hint, hasHint = record.Hint(types.ChannelTelegram)
	}
	forceDocument := hasHint && hint.SendAs == types.SendAsDocument

	var last *sentMessage
	replyTo := nctx.ReplyToMessageID

	photoCount := 0
	if !forceDocument {
		for _, it := range media {
			if it.Type == payload.TypePhoto {
				photoCount++
			}
		}
	}

	var batch []MediaGroupItem
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = nil }()
		if len(batch) == 1 {
			// A group of one is invalid; Telegram wants a plain photo send.
			msg, err := n.api.SendMedia(ctx, chatID, "sendPhoto", "photo", batch[0].Media, "", "", nil)
			if err != nil {
				return err
			}
			last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
			return nil
		}
		msgs, err := n.api.SendMediaGroup(ctx, chatID, batch, ParseModeMarkdownV2)
		if err == nil {
			if len(msgs) > 0 {
				last = &sentMessage{chatID: chatID, messageID: msgs[len(msgs)-1].MessageID}
			}
			return nil
		}

		// Telegram can reject a batch it dislikes (mixed formats, size).
		// Degrade to individual sends rather than losing the photos.
		n.logger.Warn("media group rejected, sending photos individually",
			"chat_id", chatID,
			"count", len(batch),
			"error", err.Error(),
		)
		for _, item := range batch {
			msg, err := n.api.SendMedia(ctx, chatID, "sendPhoto", "photo", item.Media, "", "", nil)
			if err != nil {
				return err
			}
			last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
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
			msg, err := n.sendDocument(ctx, chatID, nctx, fetched)
			if err != nil {
				return nil, err
			}
			last = msg
			replyTo = 0
			continue
		}

		switch it.Type {
		case payload.TypePhoto:
			if photoCount >= 2 {
				batch = append(batch, MediaGroupItem{Type: "photo", Media: fetched})
				continue
			}
			msg, err := n.api.SendMedia(ctx, chatID, "sendPhoto", "photo", fetched, "", "", nil)
			if err != nil {
				return nil, err
			}
			last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
		case payload.TypeVideo:
			if err := flushBatch(); err != nil {
				return nil, err
			}
			msg, err := n.api.SendMedia(ctx, chatID, "sendVideo", "video", fetched, "", "", nil)
			if err != nil {
				return nil, err
			}
			last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
		case payload.TypeAnimation:
			if err := flushBatch(); err != nil {
				return nil, err
			}
			msg, err := n.api.SendMedia(ctx, chatID, "sendAnimation", "animation", fetched, "", "", nil)
			if err != nil {
				return nil, err
			}
			last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
		}
		replyTo = 0
	}
	if err := flushBatch(); err != nil {
		return nil, err
	}

	if len(texts) > 0 {
		msg, err := n.sendText(ctx, chatID, strings.Join(texts, "\n\n"), replyTo, nil)
		if err != nil {
			return nil, err
		}
		last = &sentMessage{chatID: chatID, messageID: msg.MessageID}
	}

	return last, nil
}

// resolveTexts collects inline text items and fetches remote .txt items so
// their content is inlined rather than delivered as a file.
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

// sendDocument delivers one document. In group chats with a known user it is
// redirected to the user's private chat and a short notice posted in the
// group instead, so shared channels are not cluttered with raw files.
func (n *Notifier) sendDocument(ctx context.Context, chatID int64, nctx types.NotificationContext, media *core.FetchedMedia) (*sentMessage, error) {
	isGroup := chatID < 0
	if isGroup && nctx.UserID != "" {
		userChatID, err := strconv.ParseInt(nctx.UserID, 10, 64)
		if err == nil {
			if _, err := n.api.SendMedia(ctx, userChatID, "sendDocument", "document", media, "", "", nil); err != nil {
				return nil, err
			}
			notice := fmt.Sprintf("📄 %s sent to you privately", media.Filename)
			msg, err := n.sendText(ctx, chatID, notice, 0, nil)
			if err != nil {
				return nil, err
			}
			return &sentMessage{chatID: chatID, messageID: msg.MessageID}, nil
		}
		n.logger.Warn("cannot redirect document, user id is not numeric", "user_id", nctx.UserID)
	}

	msg, err := n.api.SendMedia(ctx, chatID, "sendDocument", "document", media, "", "", nil)
	if err != nil {
		return nil, err
	}
	return &sentMessage{chatID: chatID, messageID: msg.MessageID}, nil
}

// sendText sends escaped MarkdownV2, retrying once as plain text when
// Telegram rejects the entities.
func (n *Notifier) sendText(ctx context.Context, chatID int64, text string, replyTo int64, markup *InlineKeyboardMarkup) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		trimmed = "(empty)"
	}

	msg, err := n.api.SendMessage(ctx, chatID, EscapeMarkdownV2(trimmed), ParseModeMarkdownV2, replyTo, markup)
	if err == nil {
		return msg, nil
	}
	if !IsMarkdownParseError(err) {
		return nil, err
	}

	n.logger.Warn("markdown rejected, resending as plain text", "chat_id", chatID, "error", err.Error())
	return n.api.SendMessage(ctx, chatID, trimmed, "", replyTo, markup)
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

// controlRow builds the interactive keyboard for a delivered generation:
// rating, info, tweak, and rerun with the accumulated rerun count.
func controlRow(record *types.GenerationRecord) *InlineKeyboardMarkup {
	if record == nil || record.ID == "" {
		return nil
	}

	rerunLabel := "🔄 Rerun"
	if n := record.Metadata.RerunCount; n > 0 {
		rerunLabel = fmt.Sprintf("🔄 Rerun (%d)", n)
	}

	return &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{
			{
				{Text: "👍", CallbackData: "rate:up:" + record.ID},
				{Text: "👎", CallbackData: "rate:down:" + record.ID},
			},
			{
				{Text: "ℹ️ Info", CallbackData: "info:" + record.ID},
				{Text: "✏️ Tweak", CallbackData: "tweak:" + record.ID},
				{Text: rerunLabel, CallbackData: "rerun:" + record.ID},
			},
		},
	}
}
