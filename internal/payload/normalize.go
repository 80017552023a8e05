// Package payload normalizes the heterogeneous generation result shapes the
// execution subsystem has emitted over time into one canonical ordered list
// of typed output items. It is a leaf package: no network, no channel
// knowledge, and it never fails on malformed input. Unparsable entries are
// skipped and logged at warn level.
//
// Three upstream shapes are recognized:
//
//	(a) current:  [{"data": {"text": [...], "images": [{"url": ...}], "files": [{"url": ..., "filename": ..., "format": ...}]}}]
//	(b) legacy:   [{"url": ..., "format": ...}] with the type inferred from
//	    extension/MIME
//	(c) oldest:   {"images": [{"url": ...}]}
//
// Shape-tagged parsing maps each to canonical items without trying to unify
// the upstream shapes themselves.
package payload

import (
	"encoding/json"
	"path"
	"strings"

	"conjure/internal/types"
)

// Type classifies one canonical output item.
type Type string

const (
	TypeText      Type = "text"
	TypePhoto     Type = "photo"
	TypeVideo     Type = "video"
	TypeAnimation Type = "animation"
	TypeDocument  Type = "document"
)

// Item is one piece of deliverable content in generation order.
//
// For TypeText, either Text holds the inline content or URL points at a
// plain-text file whose content must be fetched and inlined by the notifier
// (it is never delivered as a document).
type Item struct {
	Type     Type
	Text     string
	URL      string
	Filename string
	Format   string
}

// videoExtensions are the filename extensions classified as video when no
// MIME type is available.
var videoExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".avi": true, ".mov": true, ".mkv": true,
}

var photoExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true,
}

// Normalize parses a raw responsePayload into the canonical ordered item
// list. Order of upstream entries is preserved so caption/media ordering in
// the delivered message matches generation order. A nil logger is replaced
// with a no-op logger.
func Normalize(raw json.RawMessage, logger types.Logger) []Item {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if len(raw) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		logger.Warn("response payload is not valid JSON, skipping", "error", err.Error())
		return nil
	}

	switch v := decoded.(type) {
	case nil:
		return nil
	case []any:
		return normalizeList(v, logger)
	case map[string]any:
		// Oldest legacy shape: {"images": [{"url": ...}]} at the payload root.
		if images, ok := v["images"].([]any); ok {
			return normalizeImages(images, logger)
		}
		logger.Warn("unrecognized response payload object shape, skipping")
		return nil
	default:
		logger.Warn("unrecognized response payload type, skipping")
		return nil
	}
}

// normalizeList handles both the current outputs shape (entries carrying a
// "data" map) and the legacy bare {url, format} entry list.
func normalizeList(entries []any, logger types.Logger) []Item {
	var items []Item
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok || len(obj) == 0 {
			if entry != nil {
				logger.Warn("skipping malformed payload entry")
			}
			continue
		}

		if data, ok := obj["data"].(map[string]any); ok {
			items = append(items, normalizeData(data, logger)...)
			continue
		}

		if url := stringField(obj, "url"); url != "" {
			items = append(items, classifyURLEntry(url, stringField(obj, "format"), stringField(obj, "filename"), stringField(obj, "subfolder")))
			continue
		}

		logger.Warn("skipping payload entry with no data and no url")
	}
	return items
}

// normalizeData converts one current-shape output's data map. Within a single
// output, text precedes images precedes files; order across outputs follows
// the input list.
func normalizeData(data map[string]any, logger types.Logger) []Item {
	var items []Item

	if texts, ok := data["text"].([]any); ok {
		for _, t := range texts {
			s, ok := t.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			items = append(items, Item{Type: TypeText, Text: s})
		}
	}

	if images, ok := data["images"].([]any); ok {
		items = append(items, normalizeImages(images, logger)...)
	}

	if files, ok := data["files"].([]any); ok {
		for _, f := range files {
			obj, ok := f.(map[string]any)
			if !ok {
				logger.Warn("skipping malformed file entry")
				continue
			}
			url := stringField(obj, "url")
			if url == "" {
				logger.Warn("skipping file entry without url")
				continue
			}
			items = append(items, classifyURLEntry(url, stringField(obj, "format"), stringField(obj, "filename"), stringField(obj, "subfolder")))
		}
	}

	return items
}

func normalizeImages(images []any, logger types.Logger) []Item {
	var items []Item
	for _, img := range images {
		obj, ok := img.(map[string]any)
		if !ok {
			logger.Warn("skipping malformed image entry")
			continue
		}
		url := stringField(obj, "url")
		if url == "" {
			logger.Warn("skipping image entry without url")
			continue
		}
		items = append(items, Item{Type: TypePhoto, URL: url})
	}
	return items
}

// classifyURLEntry applies the file classification rules:
//
//	MIME prefix video/            -> video
//	extension mp4/webm/avi/mov/mkv -> video
//	subfolder "video"             -> video
//	.txt or text/plain            -> text item to be fetched and inlined
//	image MIME or extension       -> photo (gif -> animation)
//	anything else with a URL      -> document
func classifyURLEntry(url, format, filename, subfolder string) Item {
	name := filename
	if name == "" {
		name = url
	}
	ext := strings.ToLower(path.Ext(strings.SplitN(name, "?", 2)[0]))
	mime := strings.ToLower(strings.TrimSpace(format))

	switch {
	case strings.HasPrefix(mime, "video/"),
		videoExtensions[ext],
		strings.EqualFold(subfolder, "video"):
		return Item{Type: TypeVideo, URL: url, Filename: filename, Format: format}

	case ext == ".txt", mime == "text/plain":
		return Item{Type: TypeText, URL: url, Filename: filename, Format: format}

	case ext == ".gif", mime == "image/gif":
		return Item{Type: TypeAnimation, URL: url, Filename: filename, Format: format}

	case strings.HasPrefix(mime, "image/"), photoExtensions[ext]:
		return Item{Type: TypePhoto, URL: url, Filename: filename, Format: format}

	default:
		return Item{Type: TypeDocument, URL: url, Filename: filename, Format: format}
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// ExtractText returns all inline text entries in order. Text items that
// point at a remote .txt file are excluded: resolving them requires a fetch,
// which is the notifier's job. Callers are responsible for deduplication:
// the chat notifiers dedupe, the webhook formatter does not.
func ExtractText(items []Item) []string {
	var out []string
	for _, it := range items {
		if it.Type == TypeText && it.Text != "" {
			out = append(out, it.Text)
		}
	}
	return out
}

// ExtractMedia returns all non-text items in order.
func ExtractMedia(items []Item) []Item {
	var out []Item
	for _, it := range items {
		if it.Type == TypeText {
			continue
		}
		out = append(out, it)
	}
	return out
}

// DedupeText removes exact duplicates (after trimming) while preserving the
// order of first occurrence. Upstream can legitimately emit the same caption
// more than once across output segments.
func DedupeText(texts []string) []string {
	seen := make(map[string]bool, len(texts))
	var out []string
	for _, t := range texts {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}

// WebOutput is the canonical item projection used in webhook payloads.
type WebOutput struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Format   string `json:"format,omitempty"`
}

// ToWebFormat projects the canonical list into the structured JSON shape
// delivered to webhook consumers. No deduplication is applied: the payload
// is a single structured response, not a rendered chat message.
func ToWebFormat(items []Item) []WebOutput {
	out := make([]WebOutput, 0, len(items))
	for _, it := range items {
		out = append(out, WebOutput{
			Type:     string(it.Type),
			Text:     it.Text,
			URL:      it.URL,
			Filename: it.Filename,
			Format:   it.Format,
		})
	}
	return out
}
