package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dovakin0007.com/private-notes/internal/models"
	"github.com/hashicorp/go-cleanhttp"
)

// RestPath is appended to a bare project URL to reach the REST interface.
const RestPath = "/rest/v1"

// RestFactory builds clients for a PostgREST-compatible datastore. Each
// client forwards the caller's Authorization header, so the datastore
// evaluates its row policies as the caller and never as a service role.
type RestFactory struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewRestFactory(cfg Config) (*RestFactory, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, ErrMissingKey
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid datastore URL: %w", err)
	}
	if u.Path == "" {
		u.Path = RestPath
	}

	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		if cfg.Timeout > 0 {
			client.Timeout = cfg.Timeout
		}
	}
	return &RestFactory{baseURL: u.String(), anonKey: cfg.AnonKey, httpClient: client}, nil
}

func (f *RestFactory) ForRequest(r *http.Request) (NotesStore, error) {
	authz, err := callerAuthorization(r)
	if err != nil {
		return nil, err
	}
	return &restClient{
		baseURL:       f.baseURL,
		anonKey:       f.anonKey,
		authorization: authz,
		httpClient:    f.httpClient,
	}, nil
}

func (f *RestFactory) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}

type restClient struct {
	baseURL       string
	anonKey       string
	authorization string
	httpClient    *http.Client
}

type restError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (c *restClient) doRequest(ctx context.Context, method string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/notes?"+query.Encode(), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("datastore request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading datastore response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var re restError
		if err := json.Unmarshal(payload, &re); err != nil || re.Message == "" {
			return &UpstreamError{Message: fmt.Sprintf("datastore returned status %d", resp.StatusCode)}
		}
		return &UpstreamError{Message: re.Message, Code: re.Code}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding datastore response: %w", err)
	}
	return nil
}

func ownedBy(userID string) url.Values {
	return url.Values{"user_id": {"eq." + userID}}
}

func (c *restClient) ListNotes(ctx context.Context, userID string) ([]models.NoteSummary, error) {
	q := ownedBy(userID)
	q.Set("select", strings.Join(summaryColumns, ","))
	q.Set("order", "created_at.desc,id.desc")

	notes := make([]models.NoteSummary, 0)
	if err := c.doRequest(ctx, http.MethodGet, q, nil, &notes); err != nil {
		return nil, err
	}
	if notes == nil {
		notes = make([]models.NoteSummary, 0)
	}
	return notes, nil
}

func (c *restClient) ViewNote(ctx context.Context, userID, noteID string) (*models.Note, error) {
	q := ownedBy(userID)
	q.Set("id", "eq."+noteID)
	q.Set("select", strings.Join(noteColumns, ","))
	q.Set("limit", "1")

	var rows []models.Note
	if err := c.doRequest(ctx, http.MethodGet, q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoteNotFound
	}
	return &rows[0], nil
}

func (c *restClient) CreateNote(ctx context.Context, in models.CreateNoteInput) (*models.Note, error) {
	q := url.Values{"select": {"id,title,content,created_at"}}
	body := map[string]string{
		"user_id": in.UserID,
		"title":   in.Title,
		"content": in.Content,
	}

	var rows []models.Note
	if err := c.doRequest(ctx, http.MethodPost, q, body, &rows); err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("datastore returned %d rows for insert", len(rows))
	}
	return &rows[0], nil
}

func (c *restClient) UpdateNote(ctx context.Context, in models.UpdateNoteInput) (*models.Note, error) {
	q := ownedBy(in.UserID)
	q.Set("id", "eq."+in.NoteID)
	q.Set("select", strings.Join(noteColumns, ","))
	body := map[string]string{
		"title":   in.Title,
		"content": in.Content,
	}

	var rows []models.Note
	if err := c.doRequest(ctx, http.MethodPatch, q, body, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoteNotFound
	}
	return &rows[0], nil
}

func (c *restClient) DeleteNote(ctx context.Context, userID, noteID string) (bool, error) {
	q := ownedBy(userID)
	q.Set("id", "eq."+noteID)
	q.Set("select", "id")

	var rows []struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodDelete, q, nil, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
