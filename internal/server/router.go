package server

import (
	"net/http"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/database"
	"dovakin0007.com/private-notes/internal/metrics"
	"go.uber.org/zap"
)

type HandlerOptions struct {
	Factory        database.Factory
	Validator      auth.TokenValidator
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHandler builds the REST API. /health and /metrics are public; every
// other route goes through RequireAuth.
func NewHandler(opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	h := newNotesHandler(opts.Factory, logger)
	authn := auth.NewMiddleware(opts.Validator, logger.Named("auth"), m)

	mux := http.NewServeMux()
	public := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, m.Instrument(pattern, fn))
	}
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, m.Instrument(pattern, authn.RequireAuth(recordUser(fn))))
	}

	public("GET /health", h.health)
	mux.Handle("GET /metrics", m.Handler())

	protected("GET /me", h.me)
	protected("GET /notes", h.listNotes)
	protected("POST /notes", h.createNote)
	protected("GET /notes/{id}", h.getNote)
	protected("PUT /notes/{id}", h.updateNote)
	protected("PATCH /notes/{id}", h.updateNote)
	protected("DELETE /notes/{id}", h.deleteNote)

	public("/", h.notFound)

	var handler http.Handler = mux
	handler = CORSMiddleware(opts.AllowedOrigins, handler)
	handler = RecoverMiddleware(logger, handler)
	handler = LoggingMiddleware(logger, handler)
	return handler
}
