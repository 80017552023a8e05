package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conjure/internal/notify/webhook"
	"conjure/internal/types"
)

const testSecret = types.SecretString("whsec_echo_test")

func newTestServer(secret types.SecretString) (*echoServer, *bytes.Buffer) {
	var out bytes.Buffer
	return &echoServer{
		secret: secret,
		pretty: true,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:    &out,
	}, &out
}

func signedToolBody(t *testing.T, secret types.SecretString) ([]byte, string) {
	t.Helper()
	body, sig, err := webhook.SignBody(&webhook.ToolPayload{
		Event:        types.EventGenerationCompleted,
		GenerationID: "gen_echo_1",
		Status:       "completed",
		CostUSD:      "0.02",
		Timestamp:    "2026-01-31T12:00:00Z",
	}, secret)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	return body, sig
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	e, out := newTestServer(testSecret)
	body, sig := signedToolBody(t, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.HeaderValue(sig))
	rec := httptest.NewRecorder()

	e.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("expected ok receipt, got %s", rec.Body.String())
	}
	if !strings.Contains(out.String(), "gen_echo_1") {
		t.Errorf("expected payload echoed to output, got %q", out.String())
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	e, out := newTestServer(testSecret)
	body, _ := signedToolBody(t, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()

	e.handleWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if out.Len() != 0 {
		t.Errorf("rejected payload must not be echoed, got %q", out.String())
	}
}

func TestHandleWebhook_NoSecretSkipsVerification(t *testing.T) {
	e, _ := newTestServer("")
	body, _ := signedToolBody(t, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	e.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without secret, got %d", rec.Code)
	}
}

func TestFormatBody(t *testing.T) {
	pretty := formatBody([]byte(`{"a":1}`), true)
	if !strings.Contains(pretty, "\n") {
		t.Errorf("expected indented JSON, got %q", pretty)
	}
	raw := formatBody([]byte("not json"), true)
	if raw != "not json" {
		t.Errorf("expected passthrough for non-JSON, got %q", raw)
	}
}
