// Package notesclient is a typed client for the private notes REST API.
// Every call takes the caller's access token; the client itself holds no
// credentials.
package notesclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://private-notes-backend.onrender.com"

type Config struct {
	// BaseURL defaults to DefaultBaseURL. Trailing slashes are dropped.
	BaseURL string
	// HTTPClient defaults to a pooled client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type NoteSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is a full note. UserID is empty on the result of CreateNote.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err means the access token was missing,
// invalid or expired, so the caller should sign in again.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

func New(cfg Config) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type noteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (c *Client) ListNotes(ctx context.Context, accessToken string) ([]NoteSummary, error) {
	var resp struct {
		Notes []NoteSummary `json:"notes"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/notes", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Notes == nil {
		resp.Notes = []NoteSummary{}
	}
	return resp.Notes, nil
}

func (c *Client) GetNote(ctx context.Context, accessToken, id string) (*Note, error) {
	var resp struct {
		Note *Note `json:"note"`
	}
	if err := c.doRequest(ctx, http.MethodGet, notePath(id), accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Note, nil
}

func (c *Client) CreateNote(ctx context.Context, accessToken, title, content string) (*Note, error) {
	var resp struct {
		Note *Note `json:"note"`
	}
	in := noteInput{Title: title, Content: content}
	if err := c.doRequest(ctx, http.MethodPost, "/notes", accessToken, in, &resp); err != nil {
		return nil, err
	}
	return resp.Note, nil
}

func (c *Client) UpdateNote(ctx context.Context, accessToken, id, title, content string) (*Note, error) {
	var resp struct {
		Note *Note `json:"note"`
	}
	in := noteInput{Title: title, Content: content}
	if err := c.doRequest(ctx, http.MethodPut, notePath(id), accessToken, in, &resp); err != nil {
		return nil, err
	}
	return resp.Note, nil
}

func (c *Client) DeleteNote(ctx context.Context, accessToken, id string) error {
	return c.doRequest(ctx, http.MethodDelete, notePath(id), accessToken, nil, nil)
}

func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/me", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func notePath(id string) string {
	return "/notes/" + url.PathEscape(id)
}

// doRequest is the single funnel for API calls. A 204 yields no body and
// no error; any non-2xx becomes an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notesclient: encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("notesclient: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notesclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("notesclient: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Request failed (%d)", resp.StatusCode)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("notesclient: decoding response: %w", err)
	}
	return nil
}
