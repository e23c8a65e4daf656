package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"typhonrelay/internal/config"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	postTimeout    = 20 * time.Second
	verifyTimeout  = 10 * time.Second
)

var ErrNotConfigured = errors.New("facebook: page id and access token are required")

// Credentials identify the page and the token used to act on it.
type Credentials struct {
	PageID       string
	AccessToken  string
	GraphVersion string
}

// GraphError is a failed Graph API call.
type GraphError struct {
	Status       int             `json:"status"`
	Message      string          `json:"message"`
	Code         int64           `json:"code,omitempty"`
	Type         string          `json:"type,omitempty"`
	FBTraceID    string          `json:"fbtrace_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	RequestURL   string          `json:"requestUrl"`
	GraphVersion string          `json:"graphVersion"`
}

func (e *GraphError) Error() string {
	status := "n/a"
	if e.Status != 0 {
		status = fmt.Sprint(e.Status)
	}
	return fmt.Sprintf("Facebook Graph API error (%s): %s", status, e.Message)
}

// HTTPStatus is the status to report for this error.
func (e *GraphError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Client talks to the Graph API on behalf of one page. Credentials can be replaced at runtime.
type Client struct {
	mu         sync.RWMutex
	creds      Credentials
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg config.FacebookConfig, opts ...Option) *Client {
	c := &Client{
		creds: Credentials{
			PageID:       strings.TrimSpace(cfg.PageID),
			AccessToken:  strings.TrimSpace(cfg.AccessToken),
			GraphVersion: strings.TrimSpace(cfg.GraphVersion),
		},
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	if c.creds.GraphVersion == "" {
		c.creds.GraphVersion = config.DefaultGraphVersion
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns the credentials currently in use.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// UpdateCredentials replaces the non-empty fields of update.
func (c *Client) UpdateCredentials(update Credentials) Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update.PageID != "" {
		c.creds.PageID = strings.TrimSpace(update.PageID)
	}
	if update.AccessToken != "" {
		c.creds.AccessToken = strings.TrimSpace(update.AccessToken)
	}
	if update.GraphVersion != "" {
		c.creds.GraphVersion = strings.TrimSpace(update.GraphVersion)
	}
	return c.creds
}

// PostToPageFeed publishes message (and optionally link) on the page feed.
func (c *Client) PostToPageFeed(ctx context.Context, message, link string) (json.RawMessage, error) {
	creds := c.Credentials()
	if creds.PageID == "" || creds.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	endpoint := c.endpoint(creds, "feed")
	params := url.Values{}
	params.Set("message", message)
	params.Set("access_token", creds.AccessToken)
	if link != "" {
		params.Set("link", link)
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, endpoint, params, creds.GraphVersion)
}

// VerifyPageAccess reads the page id and name to confirm the token works. Non-empty
// override fields replace the stored credentials for this call only.
func (c *Client) VerifyPageAccess(ctx context.Context, override Credentials) (json.RawMessage, Credentials, error) {
	creds := c.Credentials()
	if v := strings.TrimSpace(override.PageID); v != "" {
		creds.PageID = v
	}
	if v := strings.TrimSpace(override.AccessToken); v != "" {
		creds.AccessToken = v
	}
	if v := strings.TrimSpace(override.GraphVersion); v != "" {
		creds.GraphVersion = v
	}
	if creds.PageID == "" || creds.AccessToken == "" {
		return nil, creds, ErrNotConfigured
	}
	params := url.Values{}
	params.Set("access_token", creds.AccessToken)
	params.Set("fields", "id,name")

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	data, err := c.do(ctx, http.MethodGet, c.endpoint(creds, ""), params, creds.GraphVersion)
	return data, creds, err
}

func (c *Client) endpoint(creds Credentials, edge string) string {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, creds.GraphVersion, url.PathEscape(creds.PageID))
	if edge != "" {
		u += "/" + edge
	}
	return u
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, graphVersion string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GraphError{Message: err.Error(), RequestURL: endpoint, GraphVersion: graphVersion}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read graph response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	gErr := &GraphError{
		Status:       resp.StatusCode,
		Message:      http.StatusText(resp.StatusCode),
		RequestURL:   endpoint,
		GraphVersion: graphVersion,
	}
	if gjson.ValidBytes(body) {
		gErr.Data = body
		e := gjson.GetBytes(body, "error")
		if msg := e.Get("message").String(); msg != "" {
			gErr.Message = msg
		}
		gErr.Code = e.Get("code").Int()
		gErr.Type = e.Get("type").String()
		gErr.FBTraceID = e.Get("fbtrace_id").String()
	}
	return nil, gErr
}

// MaskToken keeps the first and last four characters of a token.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
