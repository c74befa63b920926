// Package icd talks to the WHO ICD-11 API. The service ships its own TM2
// snapshot in Postgres, so at runtime the client is only a connectivity
// probe: readiness reports whether the upstream credentials still work.
package icd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTokenURL is WHO's OAuth2 token endpoint for the ICD API.
const DefaultTokenURL = "https://icdaccessmanagement.who.int/connect/token"

const tokenScope = "icdapi_access"

// Client holds the WHO ICD API credentials and a cached access token.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       zerolog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates the WHO ICD client. tokenURL may be empty to use the
// production endpoint.
func NewClient(baseURL, tokenURL, clientID, clientSecret string, logger zerolog.Logger) *Client {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With().Str("component", "who-icd").Logger(),
	}
}

// Configured reports whether credentials are present. An unconfigured client
// is not a readiness failure; the catalog still serves from the snapshot.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// Ping verifies connectivity by obtaining a token and fetching the ICD
// release entity root.
func (c *Client) Ping(ctx context.Context) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/icd/entity", nil)
	if err != nil {
		return fmt.Errorf("build entity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("API-Version", "v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("who icd entity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("who icd entity: status %d", resp.StatusCode)
	}
	return nil
}

// token returns a cached access token, refreshing via client credentials
// when missing or near expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Until(c.expiresAt) > time.Minute {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {tokenScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("who icd token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("who icd token: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("who icd token: empty access_token")
	}

	c.mu.Lock()
	c.accessToken = body.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return body.AccessToken, nil
}
