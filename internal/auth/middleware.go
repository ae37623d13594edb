package auth

import (
	"context"
	"errors"
	"net/http"

	"dovakin0007.com/private-notes/internal/models"
	"dovakin0007.com/private-notes/internal/utils"
	"go.uber.org/zap"
)

const (
	MsgMissingToken  = "Missing Authorization Bearer token"
	MsgInvalidToken  = "Invalid or expired token"
	MsgMisconfigured = "Server misconfigured: AUTH_URL or AUTH_ANON_KEY is missing"
)

type userContextKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the user attached by RequireAuth.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*models.User)
	return u, ok && u != nil
}

// ValidationObserver receives "valid", "invalid" or "misconfigured" after
// every validation attempt.
type ValidationObserver interface {
	ObserveValidation(result string)
}

type Middleware struct {
	validator TokenValidator
	logger    *zap.Logger
	observer  ValidationObserver
}

func NewMiddleware(validator TokenValidator, logger *zap.Logger, observer ValidationObserver) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{validator: validator, logger: logger, observer: observer}
}

// RequireAuth rejects requests without a valid bearer token and otherwise
// attaches the resolved user to the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := utils.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			utils.WriteError(w, http.StatusUnauthorized, MsgMissingToken)
			return
		}

		user, err := m.validator.ValidateToken(r.Context(), token)
		switch {
		case errors.Is(err, ErrMisconfigured):
			m.observe("misconfigured")
			m.logger.Error("token validator is not configured")
			utils.WriteError(w, http.StatusInternalServerError, MsgMisconfigured)
			return
		case err != nil || user == nil:
			m.observe("invalid")
			m.logger.Debug("rejected bearer token", zap.NamedError("reason", err))
			utils.WriteError(w, http.StatusUnauthorized, MsgInvalidToken)
			return
		}

		m.observe("valid")
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) observe(result string) {
	if m.observer != nil {
		m.observer.ObserveValidation(result)
	}
}
