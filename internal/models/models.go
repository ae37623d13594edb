package models

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Note is the full row. UserID is left empty when the datastore was not
// asked to return it (create), so it drops out of the JSON body.
type Note struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id,omitempty"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NoteSummary is the listing projection; content is left out.
type NoteSummary struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type CreateNoteInput struct {
	UserID  string
	Title   string
	Content string
}

type UpdateNoteInput struct {
	NoteID  string
	UserID  string
	Title   string
	Content string
}

// NoteRequest is the body accepted by create and update.
type NoteRequest struct {
	Title   string `json:"title" validate:"notblank"`
	Content string `json:"content" validate:"notblank"`
}

type NoteResponse struct {
	Note *Note `json:"note"`
}

type ListNotesResponse struct {
	Notes []NoteSummary `json:"notes"`
}

type MeResponse struct {
	User User `json:"user"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
