package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dovakin0007.com/private-notes/internal/models"
	"go.uber.org/zap"
)

var (
	ErrNoteNotFound  = errors.New("note not found")
	ErrMissingURL    = errors.New("datastore URL is required")
	ErrMissingKey    = errors.New("datastore anon key is required")
	ErrNoCallerToken = errors.New("request carries no Authorization header")
)

// UpstreamError is a failure reported by the datastore itself. Its message
// is safe to hand back to the caller.
type UpstreamError struct {
	Message string
	Code    string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("datastore error %s: %s", e.Code, e.Message)
	}
	return "datastore error: " + e.Message
}

// NotesStore is a datastore client acting as one caller. Every method takes
// the caller's id and filters on it; the datastore's row policies apply on
// top of that.
type NotesStore interface {
	ListNotes(ctx context.Context, userID string) ([]models.NoteSummary, error)
	ViewNote(ctx context.Context, userID, noteID string) (*models.Note, error)
	CreateNote(ctx context.Context, in models.CreateNoteInput) (*models.Note, error)
	UpdateNote(ctx context.Context, in models.UpdateNoteInput) (*models.Note, error)
	DeleteNote(ctx context.Context, userID, noteID string) (bool, error)
}

// Factory hands out a NotesStore scoped to the caller of one request.
type Factory interface {
	ForRequest(r *http.Request) (NotesStore, error)
	Close() error
}

type Config struct {
	URL     string
	AnonKey string
	Migrate bool
	Timeout time.Duration
	// HTTPClient overrides the pooled client used by the REST driver.
	HTTPClient *http.Client
}

// NewFactory picks the driver from the URL scheme: postgres:// talks to
// Postgres directly, http(s):// to a PostgREST endpoint.
func NewFactory(ctx context.Context, cfg Config, logger *zap.Logger) (Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.AnonKey = strings.TrimSpace(cfg.AnonKey)
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.AnonKey == "" {
		return nil, ErrMissingKey
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid datastore URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		logger.Info("using postgres datastore", zap.String("host", u.Host))
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "http", "https":
		logger.Info("using rest datastore", zap.String("host", u.Host))
		rest, err := NewRestFactory(cfg)
		if err != nil {
			return nil, err
		}
		return rest, nil
	default:
		return nil, fmt.Errorf("unsupported datastore scheme %q", u.Scheme)
	}
}

func callerAuthorization(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoCallerToken
	}
	return h, nil
}
