package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CurrentShape_OrderPreserved(t *testing.T) {
	raw := json.RawMessage(`[
		{"data": {"text": ["a"]}},
		{"data": {"images": [{"url": "u1"}]}},
		{"data": {"text": ["b"]}},
		{"data": {"images": [{"url": "u2"}]}}
	]`)

	items := Normalize(raw, nil)
	require.Len(t, items, 4)

	texts := ExtractText(items)
	assert.Equal(t, []string{"a", "b"}, texts)

	media := ExtractMedia(items)
	require.Len(t, media, 2)
	assert.Equal(t, "u1", media[0].URL)
	assert.Equal(t, "u2", media[1].URL)
}

func TestNormalize_LegacyShapeEquivalence(t *testing.T) {
	rootShape := json.RawMessage(`{"images": [{"url": "x"}]}`)
	currentShape := json.RawMessage(`[{"data": {"images": [{"url": "x"}]}}]`)

	assert.Equal(t, Normalize(currentShape, nil), Normalize(rootShape, nil))
}

func TestNormalize_LegacyURLList(t *testing.T) {
	raw := json.RawMessage(`[
		{"url": "https://cdn.example.com/out.png"},
		{"url": "https://cdn.example.com/clip.mp4"}
	]`)

	items := Normalize(raw, nil)
	require.Len(t, items, 2)
	assert.Equal(t, TypePhoto, items[0].Type)
	assert.Equal(t, TypeVideo, items[1].Type)
}

func TestNormalize_VideoClassification(t *testing.T) {
	raw := json.RawMessage(`[{"data": {"files": [
		{"url": "u1", "format": "video/mp4"},
		{"url": "u2", "filename": "clip.mov"},
		{"url": "u3", "subfolder": "video"},
		{"url": "u4", "filename": "notes.txt"},
		{"url": "u5", "format": "text/plain"},
		{"url": "u6", "filename": "archive.zip"}
	]}}]`)

	items := Normalize(raw, nil)
	require.Len(t, items, 6)

	assert.Equal(t, TypeVideo, items[0].Type)
	assert.Equal(t, TypeVideo, items[1].Type)
	assert.Equal(t, TypeVideo, items[2].Type)

	// .txt files are text output to be fetched and inlined, never documents.
	assert.Equal(t, TypeText, items[3].Type)
	assert.Equal(t, "u4", items[3].URL)
	assert.Equal(t, TypeText, items[4].Type)

	assert.Equal(t, TypeDocument, items[5].Type)
}

func TestNormalize_AnimationClassification(t *testing.T) {
	raw := json.RawMessage(`[{"data": {"files": [
		{"url": "u1", "filename": "loop.gif"},
		{"url": "u2", "format": "image/gif"}
	]}}]`)

	items := Normalize(raw, nil)
	require.Len(t, items, 2)
	assert.Equal(t, TypeAnimation, items[0].Type)
	assert.Equal(t, TypeAnimation, items[1].Type)
}

func TestNormalize_MalformedInputNeverPanics(t *testing.T) {
	cases := []json.RawMessage{
		nil,
		json.RawMessage(``),
		json.RawMessage(`null`),
		json.RawMessage(`"just a string"`),
		json.RawMessage(`42`),
		json.RawMessage(`{not json`),
		json.RawMessage(`[null, 42, "str", {}, {"data": null}, {"data": {}}]`),
		json.RawMessage(`[{"data": {"images": [null, {"nope": 1}]}}]`),
		json.RawMessage(`{"something": "else"}`),
	}
	for _, raw := range cases {
		assert.NotPanics(t, func() {
			items := Normalize(raw, nil)
			assert.Empty(t, items, "input %s should normalize to nothing", string(raw))
		})
	}
}

func TestNormalize_SkipsEmptyTextEntries(t *testing.T) {
	raw := json.RawMessage(`[{"data": {"text": ["", "  ", "kept"]}}]`)
	items := Normalize(raw, nil)
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].Text)
}

func TestNormalize_QueryStringDoesNotConfuseExtension(t *testing.T) {
	raw := json.RawMessage(`[{"url": "https://cdn.example.com/clip.mp4?expires=123"}]`)
	items := Normalize(raw, nil)
	require.Len(t, items, 1)
	assert.Equal(t, TypeVideo, items[0].Type)
}

func TestDedupeText(t *testing.T) {
	out := DedupeText([]string{"same", "same", "different"})
	assert.Equal(t, []string{"same", "different"}, out)

	out = DedupeText([]string{"  padded ", "padded", ""})
	assert.Equal(t, []string{"padded"}, out)
}

func TestExtractText_ExcludesRemoteTextFiles(t *testing.T) {
	items := []Item{
		{Type: TypeText, Text: "inline"},
		{Type: TypeText, URL: "https://cdn.example.com/notes.txt"},
	}
	assert.Equal(t, []string{"inline"}, ExtractText(items))
}

func TestToWebFormat(t *testing.T) {
	items := []Item{
		{Type: TypeText, Text: "caption"},
		{Type: TypePhoto, URL: "u1"},
		{Type: TypeDocument, URL: "u2", Filename: "a.zip", Format: "application/zip"},
	}

	web := ToWebFormat(items)
	require.Len(t, web, 3)
	assert.Equal(t, "text", web[0].Type)
	assert.Equal(t, "caption", web[0].Text)
	assert.Equal(t, "photo", web[1].Type)
	assert.Equal(t, "a.zip", web[2].Filename)

	// Idempotence: round-tripping canonical items does not duplicate or
	// reorder anything.
	b, err := json.Marshal(web)
	require.NoError(t, err)
	var back []WebOutput
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, web, back)
}

func TestNormalize_Idempotence(t *testing.T) {
	raw := json.RawMessage(`[
		{"data": {"text": ["a"], "images": [{"url": "u1"}]}},
		{"data": {"files": [{"url": "u2", "filename": "clip.mp4"}]}}
	]`)

	first := Normalize(raw, nil)
	second := Normalize(raw, nil)
	assert.Equal(t, first, second)
}
