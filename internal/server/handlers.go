package server

import (
	"errors"
	"net/http"
	"strings"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/database"
	"dovakin0007.com/private-notes/internal/models"
	"dovakin0007.com/private-notes/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MsgServerError     = "Server error"
	MsgNoteNotFound    = "Note not found"
	MsgFieldsRequired  = "Both title and content are required"
	MsgBodyTooLarge    = "Request body too large"
	MsgRouteNotFound   = "Not found"
	MsgUnauthenticated = "Unauthenticated"
)

type notesHandler struct {
	factory  database.Factory
	validate *validator.Validate
	logger   *zap.Logger
}

func newNotesHandler(factory database.Factory, logger *zap.Logger) *notesHandler {
	v := validator.New()
	// RegisterValidation only fails on an empty tag name.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return &notesHandler{factory: factory, validate: v, logger: logger}
}

func (h *notesHandler) health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, models.HealthResponse{OK: true})
}

func (h *notesHandler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, MsgUnauthenticated)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.MeResponse{User: *user})
}

func (h *notesHandler) notFound(w http.ResponseWriter, r *http.Request) {
	utils.WriteError(w, http.StatusNotFound, MsgRouteNotFound)
}

// scope resolves the caller and a datastore client acting as them.
func (h *notesHandler) scope(w http.ResponseWriter, r *http.Request) (*models.User, database.NotesStore, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, MsgUnauthenticated)
		return nil, nil, false
	}
	store, err := h.factory.ForRequest(r)
	if err != nil {
		h.writeStoreError(w, err)
		return nil, nil, false
	}
	return user, store, true
}

func (h *notesHandler) listNotes(w http.ResponseWriter, r *http.Request) {
	user, store, ok := h.scope(w, r)
	if !ok {
		return
	}
	notes, err := store.ListNotes(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if notes == nil {
		notes = make([]models.NoteSummary, 0)
	}
	utils.WriteJSON(w, http.StatusOK, models.ListNotesResponse{Notes: notes})
}

func (h *notesHandler) getNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDFromPath(w, r)
	if !ok {
		return
	}
	user, store, ok := h.scope(w, r)
	if !ok {
		return
	}
	note, err := store.ViewNote(r.Context(), user.ID, noteID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.NoteResponse{Note: note})
}

func (h *notesHandler) createNote(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeNote(w, r)
	if !ok {
		return
	}
	user, store, ok := h.scope(w, r)
	if !ok {
		return
	}
	note, err := store.CreateNote(r.Context(), models.CreateNoteInput{
		UserID:  user.ID,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, models.NoteResponse{Note: note})
}

func (h *notesHandler) updateNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeNote(w, r)
	if !ok {
		return
	}
	user, store, ok := h.scope(w, r)
	if !ok {
		return
	}
	note, err := store.UpdateNote(r.Context(), models.UpdateNoteInput{
		NoteID:  noteID,
		UserID:  user.ID,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.NoteResponse{Note: note})
}

func (h *notesHandler) deleteNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDFromPath(w, r)
	if !ok {
		return
	}
	user, store, ok := h.scope(w, r)
	if !ok {
		return
	}
	deleted, err := store.DeleteNote(r.Context(), user.ID, noteID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !deleted {
		utils.WriteError(w, http.StatusNotFound, MsgNoteNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeNote reads and validates a {title, content} body and returns it
// trimmed. Unknown fields, user_id included, are ignored.
func (h *notesHandler) decodeNote(w http.ResponseWriter, r *http.Request) (*models.NoteRequest, bool) {
	var req models.NoteRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, utils.ErrBodyTooLarge) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return nil, false
		}
		utils.WriteError(w, http.StatusBadRequest, MsgFieldsRequired)
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, MsgFieldsRequired)
		return nil, false
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	return &req, true
}

// noteIDFromPath answers 404 for ids that cannot name a note.
func noteIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, MsgNoteNotFound)
		return "", false
	}
	return id.String(), true
}

func (h *notesHandler) writeStoreError(w http.ResponseWriter, err error) {
	var upstream *database.UpstreamError
	switch {
	case errors.Is(err, database.ErrNoteNotFound):
		utils.WriteError(w, http.StatusNotFound, MsgNoteNotFound)
	case errors.As(err, &upstream):
		h.logger.Warn("datastore rejected request", zap.String("code", upstream.Code), zap.String("message", upstream.Message))
		utils.WriteError(w, http.StatusInternalServerError, upstream.Message)
	default:
		h.logger.Error("unexpected datastore failure", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, MsgServerError)
	}
}
