// Package testdb provides in-memory stand-ins for the identity provider and
// the REST datastore, with the same ownership rules as the real policies.
package testdb

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Row struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
}

func (r Row) project(cols []string) map[string]any {
	all := map[string]any{
		"id":         r.ID,
		"user_id":    r.UserID,
		"title":      r.Title,
		"content":    r.Content,
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
	}
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if v, ok := all[c]; ok {
			out[c] = v
		}
	}
	return out
}

type Identity struct {
	UserID string
	Email  string
}

// Provider is a fake identity provider plus REST datastore sharing one
// token table.
type Provider struct {
	AnonKey string

	mu        sync.Mutex
	tokens    map[string]Identity
	passwords map[string]string
	rows      []Row
	clock     time.Time
	failNext  *failure
}

type failure struct {
	status  int
	message string
	code    string
}

func New(anonKey string) *Provider {
	return &Provider{
		AnonKey:   anonKey,
		tokens:    make(map[string]Identity),
		passwords: make(map[string]string),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddUser registers a user with an access token and, optionally, a password.
func (p *Provider) AddUser(token, userID, email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = Identity{UserID: userID, Email: email}
	if password != "" {
		p.passwords[email] = password
	}
}

// FailNext makes the next datastore request answer with a PostgREST error.
func (p *Provider) FailNext(status int, message, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = &failure{status: status, message: message, code: code}
}

func (p *Provider) Rows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Row(nil), p.rows...)
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != p.AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
		return
	}
	switch {
	case r.URL.Path == "/auth/v1/user":
		p.serveUser(w, r)
	case r.URL.Path == "/auth/v1/token":
		p.serveToken(w, r)
	case r.URL.Path == "/rest/v1/notes":
		p.serveNotes(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (p *Provider) caller(r *http.Request) (Identity, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return Identity{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.tokens[token]
	return id, ok
}

func (p *Provider) serveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := p.caller(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.UserID, "email": id.Email, "role": "authenticated"})
}

func (p *Provider) serveToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "unsupported grant"})
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	defer p.mu.Unlock()
	if pw, ok := p.passwords[body.Email]; !ok || pw != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
		return
	}
	for token, id := range p.tokens {
		if id.Email == body.Email {
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  token,
				"refresh_token": "refresh-" + token,
				"token_type":    "bearer",
				"expires_in":    3600,
				"expires_at":    time.Now().Add(time.Hour).Unix(),
				"user":          map[string]string{"id": id.UserID, "email": id.Email},
			})
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
}

func (p *Provider) serveNotes(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	if f := p.failNext; f != nil {
		p.failNext = nil
		p.mu.Unlock()
		writeJSON(w, f.status, map[string]string{"message": f.message, "code": f.code})
		return
	}
	p.mu.Unlock()

	// Requests without a recognised token run as anon, which the row
	// policies give no rows.
	caller, _ := p.caller(r)
	q := r.URL.Query()
	cols := strings.Split(q.Get("select"), ",")

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, p.selectRows(caller, q, cols))
	case http.MethodPost:
		var body struct {
			UserID  string `json:"user_id"`
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error(), "code": "PGRST102"})
			return
		}
		if caller.UserID == "" || body.UserID != caller.UserID {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"message": `new row violates row-level security policy for table "notes"`,
				"code":    "42501",
			})
			return
		}
		row := p.insert(body.UserID, body.Title, body.Content)
		writeJSON(w, http.StatusCreated, []map[string]any{row.project(cols)})
	case http.MethodPatch:
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, p.updateRows(caller, q, body.Title, body.Content, cols))
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, p.deleteRows(caller, q, cols))
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
	}
}

func (p *Provider) insert(userID, title, content string) Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = p.clock.Add(time.Millisecond)
	row := Row{ID: uuid.NewString(), UserID: userID, Title: title, Content: content, CreatedAt: p.clock}
	p.rows = append(p.rows, row)
	return row
}

func matches(row Row, caller Identity, q url.Values) bool {
	if row.UserID != caller.UserID {
		return false
	}
	for _, col := range []string{"id", "user_id"} {
		f := q.Get(col)
		if f == "" {
			continue
		}
		want, ok := strings.CutPrefix(f, "eq.")
		if !ok {
			return false
		}
		got := row.ID
		if col == "user_id" {
			got = row.UserID
		}
		if got != want {
			return false
		}
	}
	return true
}

func (p *Provider) selectRows(caller Identity, q url.Values, cols []string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hits []Row
	for _, row := range p.rows {
		if matches(row, caller, q) {
			hits = append(hits, row)
		}
	}
	if strings.HasPrefix(q.Get("order"), "created_at.desc") {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	}
	if q.Get("limit") == "1" && len(hits) > 1 {
		hits = hits[:1]
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.project(cols))
	}
	return out
}

func (p *Provider) updateRows(caller Identity, q url.Values, title, content string, cols []string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, 0)
	for i := range p.rows {
		if matches(p.rows[i], caller, q) {
			p.rows[i].Title = title
			p.rows[i].Content = content
			out = append(out, p.rows[i].project(cols))
		}
	}
	return out
}

func (p *Provider) deleteRows(caller Identity, q url.Values, cols []string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, 0)
	kept := p.rows[:0]
	for _, row := range p.rows {
		if matches(row, caller, q) {
			out = append(out, row.project(cols))
			continue
		}
		kept = append(kept, row)
	}
	p.rows = kept
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
