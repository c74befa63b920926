// Package webhook delivers batch job completion callbacks. Delivery is a
// single POST with an HMAC-SHA256 signature header; the queue logs failures
// and never retries, so a flaky receiver cannot back up job processing.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-AyushBridge-Signature"

// Sender posts JSON payloads to callback URLs.
type Sender struct {
	secret     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSender creates the callback sender. An empty secret disables signing.
func NewSender(secret string, logger zerolog.Logger) *Sender {
	return &Sender{
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "webhook").Logger(),
	}
}

// Deliver implements the batch queue's CallbackSender: one POST, success is
// any 2xx status.
func (s *Sender) Deliver(ctx context.Context, rawURL string, payload interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("callback url %q is not a valid http(s) url", rawURL)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback post: status %d", resp.StatusCode)
	}

	s.logger.Debug().Str("url", rawURL).Int("status", resp.StatusCode).Msg("callback delivered")
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Receivers verify
// with the shared secret before trusting the payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret, in constant
// time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
