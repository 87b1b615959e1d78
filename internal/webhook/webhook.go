package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const (
	// TimestampHeader carries the unix time the payload was signed at.
	TimestampHeader = "X-Timestamp"
	// SignatureHeader carries "sha256=" + hex HMAC of "{timestamp}.{body}".
	SignatureHeader = "X-Signature-256"
)

// Payload is the body of an outbound lifecycle notification.
type Payload struct {
	EventType  string         `json:"event_type"`
	StreamID   string         `json:"stream_id"`
	MemorialID string         `json:"memorial_id"`
	Status     stream.Status  `json:"status"`
	FromStatus stream.Status  `json:"from_status,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Stream     *stream.Stream `json:"stream"`
	Data       map[string]any `json:"data,omitempty"`
}

// Sender handles webhook delivery.
type Sender struct {
	httpClient *http.Client
	signingKey string
	maxRetries int
	now        func() time.Time
}

// NewSender creates a new webhook sender.
func NewSender(signingKey string) *Sender {
	client := &http.Client{Timeout: 10 * time.Second}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("too many redirects")
		}
		if err := validateURL(req.URL.String()); err != nil {
			return fmt.Errorf("redirect url not allowed: %w", err)
		}
		return nil
	}
	return &Sender{
		httpClient: client,
		signingKey: signingKey,
		maxRetries: 4, // total attempts (initial + 3 retries)
		now:        time.Now,
	}
}

// SendResult contains the result of sending a webhook.
type SendResult struct {
	Success    bool
	Attempts   int
	StatusCode int
	Error      string
}

// Send sends a webhook to the specified URL with retries.
func (s *Sender) Send(ctx context.Context, webhookURL string, payload *Payload) *SendResult {
	if err := validateURL(webhookURL); err != nil {
		return &SendResult{Error: fmt.Sprintf("invalid webhook url: %v", err)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("marshal payload: %v", err)}
	}
	return s.sendWithRetries(ctx, webhookURL, payload.EventType, body)
}

func (s *Sender) sendWithRetries(ctx context.Context, webhookURL, eventType string, body []byte) *SendResult {
	result := &SendResult{}
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt

		if delay := retryDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				result.Error = "context canceled"
				return result
			case <-time.After(delay):
			}
		}

		statusCode, err := s.sendOnce(ctx, webhookURL, body)
		result.StatusCode = statusCode

		if err == nil && statusCode >= 200 && statusCode < 300 {
			result.Success = true
			result.Error = ""
			log.Debug("webhook sent",
				zap.String("url", webhookURL),
				zap.String("event_type", eventType),
				zap.Int("attempt", attempt),
			)
			return result
		}

		var errMsg string
		if err != nil {
			errMsg = err.Error()
		} else {
			errMsg = fmt.Sprintf("HTTP %d", statusCode)
		}
		log.Warn("webhook delivery failed",
			zap.String("url", webhookURL),
			zap.String("event_type", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
		result.Error = errMsg

		// Client errors other than throttling will not change on retry.
		if err == nil && statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
			break
		}
	}

	log.Error("webhook delivery failed after all retries",
		zap.String("url", webhookURL),
		zap.String("event_type", eventType),
		zap.Int("total_attempts", result.Attempts),
		zap.String("last_error", result.Error),
	)
	return result
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Second * time.Duration(1<<(attempt-2))
	if delay > 10*time.Second {
		return 10 * time.Second
	}
	return delay
}

func (s *Sender) sendOnce(ctx context.Context, webhookURL string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	timestamp := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(SignatureHeader, "sha256="+Sign(s.signingKey, timestamp, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// Sign creates an HMAC-SHA256 signature for the webhook.
// Format: HMAC-SHA256(key, "{timestamp}.{body}")
func Sign(signingKey string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a webhook signature. The signature may carry
// the "sha256=" prefix as sent in the header.
func VerifySignature(signingKey, signature string, timestamp int64, body []byte) bool {
	now := time.Now().Unix()
	if abs(now-timestamp) > 300 {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := Sign(signingKey, timestamp, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if u.User != nil {
		return fmt.Errorf("credentials in url are not allowed")
	}
	return nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
