package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// DefaultSignatureTolerance bounds the accepted age of a signed webhook.
const DefaultSignatureTolerance = 5 * time.Minute

// ErrBadSignature is returned when a webhook signature does not verify.
var ErrBadSignature = errors.New("invalid webhook signature")

// SignatureHeader returns the header a provider signs its webhooks with.
func SignatureHeader(p stream.Provider) string {
	switch p {
	case stream.ProviderCloudflare:
		return "Webhook-Signature"
	case stream.ProviderMux:
		return "Mux-Signature"
	}
	return ""
}

// signatureKeys returns the timestamp and signature field names used in
// the provider's header.
func signatureKeys(p stream.Provider) (tsKey, sigKey string) {
	if p == stream.ProviderMux {
		return "t", "v1"
	}
	return "time", "sig1"
}

// VerifySignature checks a vendor webhook signature header. Both vendors
// sign "{timestamp}.{body}" with HMAC-SHA256 and differ only in field names.
func VerifySignature(p stream.Provider, header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return fmt.Errorf("%w: missing header", ErrBadSignature)
	}
	tsKey, sigKey := signatureKeys(p)

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case tsKey:
			ts = v
		case sigKey:
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(secs, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
		}
	}

	expected := Sign(ts, body, secret)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrBadSignature)
}

// Sign returns the hex HMAC-SHA256 of "{ts}.{body}".
func Sign(ts string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
