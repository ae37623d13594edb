package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/database"
	"dovakin0007.com/private-notes/internal/metrics"
	"dovakin0007.com/private-notes/internal/models"
	"dovakin0007.com/private-notes/internal/server"
	"dovakin0007.com/private-notes/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	aliceID = "11111111-1111-4111-8111-111111111111"
	bobID   = "22222222-2222-4222-8222-222222222222"
	origin  = "http://localhost:3000"
)

type fixture struct {
	provider *testdb.Provider
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := testdb.New("anon")
	provider.AddUser("alice-token", aliceID, "alice@example.com", "")
	provider.AddUser("bob-token", bobID, "bob@example.com", "")

	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	factory, err := database.NewRestFactory(database.Config{URL: srv.URL, AnonKey: "anon", HTTPClient: srv.Client()})
	require.NoError(t, err)
	validator := auth.NewProviderValidator(auth.ProviderConfig{URL: srv.URL, AnonKey: "anon", HTTPClient: srv.Client()})

	handler := server.NewHandler(server.HandlerOptions{
		Factory:        factory,
		Validator:      validator,
		Metrics:        metrics.New(),
		Logger:         zaptest.NewLogger(t),
		AllowedOrigins: []string{origin},
	})
	return &fixture{provider: provider, handler: handler}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, token, title, content string) models.Note {
	t.Helper()
	body, err := json.Marshal(map[string]string{"title": title, "content": content})
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/notes", token, string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeNote(t, rec)
}

func decodeNote(t *testing.T, rec *httptest.ResponseRecorder) models.Note {
	t.Helper()
	var resp models.NoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Note)
	return *resp.Note
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestHealthNeedsNoToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestMetricsNeedsNoToken(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "", "")

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "private_notes_http_requests_total")
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	f := newFixture(t)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodGet, "/notes"},
		{http.MethodPost, "/notes"},
		{http.MethodGet, "/notes/" + aliceID},
		{http.MethodPut, "/notes/" + aliceID},
		{http.MethodPatch, "/notes/" + aliceID},
		{http.MethodDelete, "/notes/" + aliceID},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := f.do(t, rt.method, rt.path, "", "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, auth.MsgMissingToken, errorMessage(t, rec))

			rec = f.do(t, rt.method, rt.path, "forged-token", "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, auth.MsgInvalidToken, errorMessage(t, rec))
		})
	}
}

func TestMisconfiguredValidator(t *testing.T) {
	handler := server.NewHandler(server.HandlerOptions{
		Validator: auth.NewProviderValidator(auth.ProviderConfig{}),
		Logger:    zaptest.NewLogger(t),
	})
	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server misconfigured: AUTH_URL or AUTH_ANON_KEY is missing"}`, rec.Body.String())
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/me", "alice-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":{"id":"`+aliceID+`","email":"alice@example.com"}}`, rec.Body.String())
}

func TestCreateNote(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/notes", "alice-token", `{"title":"  Groceries ","content":" Milk, eggs\n","user_id":"`+bobID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw["note"], "user_id")
	for _, k := range []string{"id", "title", "content", "created_at"} {
		assert.Contains(t, raw["note"], k)
	}
	assert.Equal(t, "Groceries", raw["note"]["title"])
	assert.Equal(t, "Milk, eggs", raw["note"]["content"])

	rows := f.provider.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, aliceID, rows[0].UserID)
	assert.Equal(t, "Groceries", rows[0].Title)
}

func TestCreateNote_Validation(t *testing.T) {
	f := newFixture(t)
	bodies := map[string]string{
		"blank title":     `{"title":"   ","content":"x"}`,
		"missing content": `{"title":"x"}`,
		"null title":      `{"title":null,"content":"x"}`,
		"numeric title":   `{"title":42,"content":"x"}`,
		"invalid json":    `{"title":`,
		"empty body":      ``,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer alice-token")
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, server.MsgFieldsRequired, errorMessage(t, rec))
		})
	}
	assert.Empty(t, f.provider.Rows())
}

func TestCreateNote_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	body := `{"title":"t","content":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := f.do(t, http.MethodPost, "/notes", "alice-token", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, server.MsgBodyTooLarge, errorMessage(t, rec))
}

func TestListNotes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/notes", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notes":[]}`, rec.Body.String())

	f.create(t, "alice-token", "first", "1")
	f.create(t, "alice-token", "second", "2")
	f.create(t, "bob-token", "bob's", "3")

	rec = f.do(t, http.MethodGet, "/notes", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Notes []map[string]any `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw.Notes, 2)
	assert.Equal(t, "second", raw.Notes[0]["title"])
	assert.Equal(t, "first", raw.Notes[1]["title"])
	assert.NotContains(t, raw.Notes[0], "content")
}

func TestGetNote(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, "alice-token", "Secret", "s")

	rec := f.do(t, http.MethodGet, "/notes/"+n.ID, "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeNote(t, rec)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, aliceID, got.UserID)
	assert.Equal(t, "s", got.Content)

	rec = f.do(t, http.MethodGet, "/notes/"+n.ID, "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, server.MsgNoteNotFound, errorMessage(t, rec))

	rec = f.do(t, http.MethodGet, "/notes/not-a-uuid", "alice-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, server.MsgNoteNotFound, errorMessage(t, rec))
}

func TestUpdateNote(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, "alice-token", "Old", "old")

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			rec := f.do(t, method, "/notes/"+n.ID, "alice-token", `{"title":" New ","content":"new `+method+`"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			got := decodeNote(t, rec)
			assert.Equal(t, n.ID, got.ID)
			assert.Equal(t, aliceID, got.UserID)
			assert.Equal(t, "New", got.Title)
			assert.Equal(t, "new "+method, got.Content)
		})
	}

	rec := f.do(t, http.MethodPut, "/notes/"+n.ID, "alice-token", `{"title":"only title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/notes/"+n.ID, "bob-token", `{"title":"Pwned","content":"p"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "New", f.provider.Rows()[0].Title)
}

func TestDeleteNote(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, "alice-token", "Doomed", "d")

	rec := f.do(t, http.MethodDelete, "/notes/"+n.ID, "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, f.provider.Rows(), 1)

	rec = f.do(t, http.MethodDelete, "/notes/"+n.ID, "alice-token", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/notes/"+n.ID, "alice-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, server.MsgNoteNotFound, errorMessage(t, rec))
}

func TestUpstreamErrorMessageIsReturned(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext(http.StatusBadRequest, `relation "public.notes" does not exist`, "42P01")

	rec := f.do(t, http.MethodGet, "/notes", "alice-token", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, `relation "public.notes" does not exist`, errorMessage(t, rec))
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/notes", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

type staticValidator struct{ user *models.User }

func (v staticValidator) ValidateToken(context.Context, string) (*models.User, error) {
	return v.user, nil
}

type panicFactory struct{}

func (panicFactory) ForRequest(*http.Request) (database.NotesStore, error) { panic("boom") }
func (panicFactory) Close() error                                        { return nil }

func TestPanicIsServerError(t *testing.T) {
	handler := server.NewHandler(server.HandlerOptions{
		Factory:   panicFactory{},
		Validator: staticValidator{user: &models.User{ID: aliceID}},
		Logger:    zaptest.NewLogger(t),
	})
	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server error"}`, rec.Body.String())
}
