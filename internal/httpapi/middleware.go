package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
)

// apiKeyMaskHook is a zerolog.Hook that stamps every log event with the
// masked API key it holds, per spec.md §6's "mask X-API-Key by keeping
// the first 8 characters" rule. It never sees the raw key: RequestLogging
// passes it MaskAPIKey's output when it builds the request-scoped logger.
type apiKeyMaskHook struct{ masked string }

func (h apiKeyMaskHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	if h.masked != "" {
		e.Str("api_key", h.masked)
	}
}

// loggerCtxKey is how the request-scoped logger rides along the
// request context, the same hlog-style pattern as Sergey-Bar-Alfred's
// gateway logger.
type loggerCtxKeyType int

const loggerCtxKey loggerCtxKeyType = 0

// RequestLogging builds one zerolog.Logger per request, hooked to stamp
// the masked API key on every line that logger emits, and logs method,
// path, status, and duration on completion.
func RequestLogging(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			reqLogger := base.Hook(apiKeyMaskHook{masked: MaskAPIKey(rawKey)}).With().
				Str("correlation_id", correlationID(r)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ctx := context.WithValue(r.Context(), loggerCtxKey, &reqLogger)
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(ctx))

			reqLogger.Info().
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggerFromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(loggerCtxKey).(*zerolog.Logger); ok {
		return l
	}
	return &zerolog.Logger{}
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// operationContext builds the eventstore.OperationContext the ledger
// core threads through every command, from the headers spec.md §6
// defines. It does not itself authorize the key; Authenticate does that
// upstream in the middleware chain.
func operationContext(r *http.Request) eventstore.OperationContext {
	return eventstore.OperationContext{
		APIKeyID:      apiKeyFromContext(r.Context()),
		RequestUserID: r.Header.Get("X-Request-User-Id"),
		CorrelationID: correlationID(r),
		ClientIP:      clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// Authenticate enforces the X-API-Key header, per spec.md §6. A missing
// or unrecognized key is rejected with 401 invalid_api_key before any
// handler runs; the presented key itself rides in the request context
// for handlers that re-check admin permissions.
func Authenticate(auth *APIKeyAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, codeInvalidAPIKey, "missing X-API-Key header")
				return
			}
			if _, ok := auth.Authorize(key); !ok {
				writeError(w, http.StatusUnauthorized, codeInvalidAPIKey, "unrecognized API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), key)))
		})
	}
}
