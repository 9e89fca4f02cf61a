package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/maildeck/internal/email"
)

// defaultBaseURL is the Microsoft Graph v1.0 endpoint.
const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2 client
// credentials. Each message is sent from the mailbox of its From address.
type GraphProvider struct {
	baseURL    string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return newWithOverrides(cfg, defaultBaseURL, tokenURL, client)
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, baseURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send submits a message through the sendMail endpoint of the sending
// mailbox, attempted once. The raw MIME bytes are posted base64 encoded so the
// delivered message matches the stored copy. Graph takes MIME recipients from
// the headers alone and raw never carries Bcc, so a message with Bcc
// recipients (or without raw bytes) is sent as a JSON message instead.
// sendMail returns no message id, so the Graph request-id is used when
// present and a random id otherwise.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email, raw []byte) (string, error) {
	var body []byte
	contentType := "text/plain"
	if len(raw) > 0 && len(msg.Bcc) == 0 {
		body = make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
		base64.StdEncoding.Encode(body, raw)
	} else {
		var err error
		body, err = json.Marshal(buildSendMailRequest(msg))
		if err != nil {
			return "", fmt.Errorf("failed to marshal request body: %w", err)
		}
		contentType = "application/json"
	}

	mailbox := msg.Sender
	if mailbox == "" {
		mailbox = msg.From
	}

	requestID, err := g.doSendRequest(ctx, mailbox, contentType, body)
	if err != nil {
		var sendErr *sendError
		if errors.As(err, &sendErr) && sendErr.statusCode == http.StatusUnauthorized {
			slog.Info("Graph API rejected access token, discarding cached token")
			g.token.Invalidate()
		}
		return "", err
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}
	return requestID, nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the sendMail endpoint and
// returns the request-id response header.
func (g *GraphProvider) doSendRequest(ctx context.Context, from, contentType string, body []byte) (string, error) {
	token, err := g.token.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(from))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("request-id"), nil
	}

	body, _ = io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return "", &sendError{statusCode: resp.StatusCode, code: graphErrResp.Error.Code, message: graphErrResp.Error.Message}
	}

	return "", &sendError{statusCode: resp.StatusCode, message: strings.TrimSpace(string(body))}
}

// sendError is a non-success response from the sendMail endpoint.
type sendError struct {
	statusCode int
	code       string
	message    string
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
