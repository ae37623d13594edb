package database_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dovakin0007.com/private-notes/internal/database"
	"dovakin0007.com/private-notes/internal/models"
	"dovakin0007.com/private-notes/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "11111111-1111-4111-8111-111111111111"
	bobID   = "22222222-2222-4222-8222-222222222222"
)

func newRestFixture(t *testing.T) (*testdb.Provider, *database.RestFactory) {
	t.Helper()
	provider := testdb.New("anon")
	provider.AddUser("alice-token", aliceID, "alice@example.com", "")
	provider.AddUser("bob-token", bobID, "bob@example.com", "")

	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	f, err := database.NewRestFactory(database.Config{URL: srv.URL, AnonKey: "anon", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return provider, f
}

func restStore(t *testing.T, f *database.RestFactory, token string) database.NotesStore {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/notes", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	store, err := f.ForRequest(r)
	require.NoError(t, err)
	return store
}

func TestRest_ForRequestNeedsAuthorization(t *testing.T) {
	_, f := newRestFixture(t)
	_, err := f.ForRequest(httptest.NewRequest(http.MethodGet, "/notes", nil))
	require.ErrorIs(t, err, database.ErrNoCallerToken)
}

func TestRest_CreateAndView(t *testing.T) {
	_, f := newRestFixture(t)
	ctx := context.Background()
	alice := restStore(t, f, "alice-token")

	created, err := alice.CreateNote(ctx, models.CreateNoteInput{UserID: aliceID, Title: "Groceries", Content: "Milk, eggs"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Empty(t, created.UserID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := alice.ViewNote(ctx, aliceID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, got.UserID)
	assert.Equal(t, "Groceries", got.Title)
	assert.Equal(t, "Milk, eggs", got.Content)
}

func TestRest_ListIsNewestFirstAndOwnedOnly(t *testing.T) {
	_, f := newRestFixture(t)
	ctx := context.Background()
	alice := restStore(t, f, "alice-token")
	bob := restStore(t, f, "bob-token")

	for _, title := range []string{"A", "B", "C"} {
		_, err := alice.CreateNote(ctx, models.CreateNoteInput{UserID: aliceID, Title: title, Content: "x"})
		require.NoError(t, err)
	}
	_, err := bob.CreateNote(ctx, models.CreateNoteInput{UserID: bobID, Title: "Bob's", Content: "y"})
	require.NoError(t, err)

	notes, err := alice.ListNotes(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, []string{"C", "B", "A"}, []string{notes[0].Title, notes[1].Title, notes[2].Title})

	empty, err := restStore(t, f, "unknown-token").ListNotes(ctx, aliceID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRest_ForeignNoteIsNotFound(t *testing.T) {
	provider, f := newRestFixture(t)
	ctx := context.Background()
	alice := restStore(t, f, "alice-token")
	bob := restStore(t, f, "bob-token")

	n, err := alice.CreateNote(ctx, models.CreateNoteInput{UserID: aliceID, Title: "Secret", Content: "s"})
	require.NoError(t, err)

	_, err = bob.ViewNote(ctx, bobID, n.ID)
	require.ErrorIs(t, err, database.ErrNoteNotFound)

	_, err = bob.UpdateNote(ctx, models.UpdateNoteInput{NoteID: n.ID, UserID: bobID, Title: "Pwned", Content: "p"})
	require.ErrorIs(t, err, database.ErrNoteNotFound)

	deleted, err := bob.DeleteNote(ctx, bobID, n.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	rows := provider.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Secret", rows[0].Title)
}

func TestRest_UpdateAndDelete(t *testing.T) {
	_, f := newRestFixture(t)
	ctx := context.Background()
	alice := restStore(t, f, "alice-token")

	n, err := alice.CreateNote(ctx, models.CreateNoteInput{UserID: aliceID, Title: "Old", Content: "old"})
	require.NoError(t, err)

	updated, err := alice.UpdateNote(ctx, models.UpdateNoteInput{NoteID: n.ID, UserID: aliceID, Title: "New", Content: "new"})
	require.NoError(t, err)
	assert.Equal(t, n.ID, updated.ID)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, "new", updated.Content)

	deleted, err := alice.DeleteNote(ctx, aliceID, n.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = alice.DeleteNote(ctx, aliceID, n.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRest_InsertForOtherUserIsRejected(t *testing.T) {
	_, f := newRestFixture(t)
	bob := restStore(t, f, "bob-token")

	_, err := bob.CreateNote(context.Background(), models.CreateNoteInput{UserID: aliceID, Title: "T", Content: "C"})
	var upstream *database.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "42501", upstream.Code)
}

func TestRest_UpstreamErrorCarriesMessage(t *testing.T) {
	provider, f := newRestFixture(t)
	provider.FailNext(http.StatusBadRequest, `relation "public.notes" does not exist`, "42P01")

	_, err := restStore(t, f, "alice-token").ListNotes(context.Background(), aliceID)
	var upstream *database.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, `relation "public.notes" does not exist`, upstream.Message)
	assert.Equal(t, "42P01", upstream.Code)
}

func TestRest_ErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, err := database.NewRestFactory(database.Config{URL: srv.URL, AnonKey: "anon"})
	require.NoError(t, err)

	_, err = restStore(t, f, "alice-token").ListNotes(context.Background(), aliceID)
	var upstream *database.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "datastore returned status 502", upstream.Message)
}

func TestRest_ForwardsCallerHeaders(t *testing.T) {
	var gotAuth, gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f, err := database.NewRestFactory(database.Config{URL: srv.URL + "/", AnonKey: "anon"})
	require.NoError(t, err)

	_, err = restStore(t, f, "alice-token").ListNotes(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Equal(t, "Bearer alice-token", gotAuth)
	assert.Equal(t, "anon", gotKey)
	assert.Equal(t, "/rest/v1/notes", gotPath)
}
