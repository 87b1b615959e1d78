package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/webhook"
)

const maxBody = 1 << 20

func main() {
	if err := log.Init("development", "info"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	signingKey := os.Getenv("WEBHOOK_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "demo-signing-key"
	}

	log.Info("webhook demo server starting",
		zap.String("port", port),
		zap.String("endpoint", "POST /webhook"),
	)
	if err := http.ListenAndServe(":"+port, newMux(signingKey)); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

func newMux(signingKey string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", receive(signingKey))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

func receive(signingKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		timestamp, err := strconv.ParseInt(r.Header.Get(webhook.TimestampHeader), 10, 64)
		if err != nil {
			log.Warn("invalid timestamp header", zap.String("value", r.Header.Get(webhook.TimestampHeader)))
			http.Error(w, "Invalid timestamp", http.StatusBadRequest)
			return
		}

		if !webhook.VerifySignature(signingKey, r.Header.Get(webhook.SignatureHeader), timestamp, body) {
			log.Warn("invalid signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var payload webhook.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Warn("failed to parse payload", zap.Error(err))
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		log.Info("webhook received",
			zap.String("event_type", payload.EventType),
			zap.String("stream_id", payload.StreamID),
			zap.String("memorial_id", payload.MemorialID),
			zap.String("from_status", string(payload.FromStatus)),
			zap.String("status", string(payload.Status)),
			zap.Time("timestamp", payload.Timestamp),
			zap.Any("data", payload.Data),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
