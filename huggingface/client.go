// client.go - HTTP-Client fuer den Model-Hub
// Liefert Repository-Metadaten und einzelne Dateien.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ortdiffusion/envconfig"
)

const (
	DefaultClientTimeout = 30 * time.Minute
	DefaultRevision      = "main"
	ClientUserAgent      = "ortdiffusion/1.0"
)

var (
	ErrModelNotFound   = errors.New("modell nicht gefunden")
	ErrUnauthorized    = errors.New("authentifizierung fehlgeschlagen")
	ErrRateLimited     = errors.New("rate limit ueberschritten")
	ErrNetworkError    = errors.New("netzwerkfehler")
	ErrInvalidModelID  = errors.New("ungueltige modell-id")
	ErrDownloadFailed  = errors.New("download fehlgeschlagen")
	ErrInvalidResponse = errors.New("ungueltige server-antwort")
	ErrOffline         = errors.New("offline-modus: modell nicht im cache")
)

// Client talks to the model hub.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      string
	userAgent  string
}

type ClientOption func(*Client)

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBaseURL points the client at another hub, e.g. a mirror or a test
// server.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimSuffix(base, "/")); err == nil {
			c.baseURL = u
		}
	}
}

func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a client configured from HF_ENDPOINT and HF_TOKEN.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
		baseURL:    envconfig.HubEndpoint(),
		token:      envconfig.HubToken(),
		userAgent:  ClientUserAgent,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) HasToken() bool { return c.token != "" }

func (c *Client) apiURL(modelID, revision string) string {
	u := c.baseURL.JoinPath("api", "models", modelID)
	if revision != "" && revision != DefaultRevision {
		u = u.JoinPath("revision", revision)
	}
	return u.String()
}

func (c *Client) resolveURL(modelID, revision, filename string) string {
	return c.baseURL.JoinPath(modelID, "resolve", url.PathEscape(revision), filename).String()
}

// ModelInfo fetches the metadata and file list of a repository revision.
func (c *Client) ModelInfo(ctx context.Context, modelID, revision string) (*APIModelInfo, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(modelID, revision), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := c.handleResponseError(resp); err != nil {
		return nil, &HuggingFaceError{Op: "info", ModelID: modelID, Err: err}
	}

	var info APIModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &info, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusErrors maps hub status codes to sentinel errors.
var statusErrors = map[int]error{
	http.StatusNotFound:        ErrModelNotFound,
	http.StatusUnauthorized:    ErrUnauthorized,
	http.StatusForbidden:       ErrUnauthorized,
	http.StatusTooManyRequests: ErrRateLimited,
}

func (c *Client) handleResponseError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(body))
	// the hub reports the reason in X-Error-Message for gated and missing repos
	if h := resp.Header.Get("X-Error-Message"); h != "" {
		msg = h
	}

	err, ok := statusErrors[resp.StatusCode]
	if !ok {
		err = ErrInvalidResponse
	}
	if msg == "" {
		return fmt.Errorf("%w: status %d", err, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", err, resp.StatusCode, msg)
}

// IsRepoID reports whether s looks like owner/name rather than a local path.
func IsRepoID(s string) bool {
	return validateModelID(s) == nil && !strings.HasPrefix(s, ".") && !strings.HasPrefix(s, "/")
}

func validateModelID(modelID string) error {
	owner, name, ok := strings.Cut(modelID, "/")
	switch {
	case modelID == "":
		return fmt.Errorf("%w: modell-id darf nicht leer sein", ErrInvalidModelID)
	case !ok || owner == "" || name == "" || strings.Contains(name, "/"):
		return fmt.Errorf("%w: %q, erwartet format 'owner/model'", ErrInvalidModelID, modelID)
	case strings.Contains(modelID, ".."):
		return fmt.Errorf("%w: %q enthaelt '..'", ErrInvalidModelID, modelID)
	}
	return nil
}
