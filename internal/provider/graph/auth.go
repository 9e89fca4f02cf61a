package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// graphScope requests every application permission granted to the client.
const graphScope = "https://graph.microsoft.com/.default"

// tokenExpiryBuffer is taken off the reported lifetime so a token is
// replaced before Graph starts rejecting it. Lifetimes shorter than twice
// the buffer keep half of their length instead.
const tokenExpiryBuffer = 5 * time.Minute

// clientCredentials identifies the app registration that sends mail.
type clientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
}

// tokenCache keeps one app-only access token for the sendMail calls and
// fetches a new one when it lapses or Graph rejects it.
type tokenCache struct {
	creds      clientCredentials
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		creds: clientCredentials{
			tokenURL:     tokenURL,
			clientID:     clientID,
			clientSecret: clientSecret,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token, fetching one first when none is held or
// the held one has lapsed. Concurrent callers share a single fetch.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.accessToken != "" && tc.now().Before(tc.expiresAt) {
		return tc.accessToken, nil
	}

	token, lifetime, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}
	tc.accessToken = token
	tc.expiresAt = tc.now().Add(usableLifetime(lifetime))
	return token, nil
}

// Invalidate forgets the held token. Send calls it when sendMail answers 401.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}
}

// fetch runs the client-credentials grant against the token endpoint.
func (tc *tokenCache) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tc.creds.clientID},
		"client_secret": {tc.creds.clientSecret},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.creds.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, newTokenError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

func usableLifetime(lifetime time.Duration) time.Duration {
	if lifetime > 2*tokenExpiryBuffer {
		return lifetime - tokenExpiryBuffer
	}
	return lifetime / 2
}

// tokenError is a rejected client-credentials grant. Entra ID reports the
// reason as an OAuth2 error code plus a description.
type tokenError struct {
	statusCode  int
	code        string
	description string
}

func newTokenError(status int, body []byte) *tokenError {
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return &tokenError{statusCode: status, code: oauthErr.Error, description: oauthErr.ErrorDescription}
	}
	return &tokenError{statusCode: status, description: strings.TrimSpace(string(body))}
}

func (e *tokenError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("token endpoint returned %d (%s): %s", e.statusCode, e.code, e.description)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.statusCode, e.description)
}
