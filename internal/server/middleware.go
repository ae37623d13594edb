package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// CORSMiddleware echoes the request Origin when it is on the allow-list and
// answers preflight requests itself. Credentials are not allowed.
func CORSMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		if origin != "" && slices.Contains(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if w.Header().Get("Access-Control-Allow-Origin") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type userHolder struct {
	userID string
}

type userHolderKey struct{}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}

func userHolderFrom(ctx context.Context) *userHolder {
	h, _ := ctx.Value(userHolderKey{}).(*userHolder)
	return h
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LoggingMiddleware tags each request with an id and logs one line when it
// completes. Headers are never logged.
func LoggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		holder := &userHolder{}
		next.ServeHTTP(rec, r.WithContext(withUserHolder(r.Context(), holder)))

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if holder.userID != "" {
			fields = append(fields, zap.String("user_id", holder.userID))
		}
		logger.Info("request completed", fields...)
	})
}

// RecoverMiddleware turns a panic into a 500 with the generic message.
func RecoverMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panicked",
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()),
				)
				utils.WriteError(w, http.StatusInternalServerError, MsgServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// recordUser copies the authenticated user id up to the logging middleware,
// which sits outside the auth wrapper and never sees its context.
func recordUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := auth.UserFromContext(r.Context()); ok {
			if h := userHolderFrom(r.Context()); h != nil {
				h.userID = u.ID
			}
		}
		next.ServeHTTP(w, r)
	})
}
