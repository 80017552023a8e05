// Package main implements the webhook-echo development tool: a local HTTP
// server that receives Conjure webhook deliveries, verifies their
// HMAC-SHA256 signatures, and pretty-prints the payloads.
//
// Usage:
//
//	go run ./cmd/tools/webhook-echo --addr=:8085 --secret=whsec_test
//
// Environment variables (used as defaults when flags are not set):
//
//	WEBHOOK_ECHO_SECRET - shared signing secret; verification is skipped
//	                      when empty
//
// Point a dev channel configuration at http://localhost:8085/webhook and
// every delivery (including retries) is logged with its verification result.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"conjure/internal/notify/webhook"
	"conjure/internal/types"
)

// maxBodyBytes bounds how much of a request body the tool reads.
const maxBodyBytes = 1 << 20

func main() {
	addr := flag.String("addr", ":8085", "Listen address")
	secret := flag.String("secret", os.Getenv("WEBHOOK_ECHO_SECRET"), "Webhook signing secret (or WEBHOOK_ECHO_SECRET env)")
	pretty := flag.Bool("pretty", true, "Pretty-print received payloads")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	e := &echoServer{
		secret: types.SecretString(*secret),
		pretty: *pretty,
		logger: logger,
		out:    os.Stdout,
	}

	r := chi.NewRouter()
	r.Get("/healthz", e.handleHealth)
	r.Post("/webhook", e.handleWebhook)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if *secret == "" {
		logger.Warn("no secret configured, signature verification disabled")
	}
	logger.Info("webhook-echo listening", "addr", *addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

type echoServer struct {
	secret types.SecretString
	pretty bool
	logger *slog.Logger
	out    io.Writer
}

func (e *echoServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleWebhook receives one delivery, verifies it when a secret is
// configured, and echoes a receipt. Responding 401 on a bad signature makes
// the worker retry, which is useful for exercising the retry schedule.
func (e *echoServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	receiptID := uuid.New().String()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		e.logger.Error("failed to read body", "receipt_id", receiptID, "error", err)
		http.Error(w, "read failure", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(webhook.SignatureHeader)
	verified := false
	if e.secret.Unmask() != "" {
		verified = webhook.VerifyBody(body, sig, e.secret)
		if !verified {
			e.logger.Warn("signature verification failed",
				"receipt_id", receiptID,
				"signature", sig,
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	e.logger.Info("webhook received",
		"receipt_id", receiptID,
		"bytes", len(body),
		"verified", verified,
		"user_agent", r.Header.Get("User-Agent"),
	)

	fmt.Fprintf(e.out, "--- receipt %s ---\n%s\n", receiptID, formatBody(body, e.pretty))

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"receipt_id":%q}`, receiptID)
}

// formatBody re-indents JSON bodies for readability; anything that fails to
// parse is passed through verbatim.
func formatBody(body []byte, pretty bool) string {
	if !pretty {
		return string(body)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}
