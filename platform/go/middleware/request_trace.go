package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformlogging "github.com/guiomkt/angubackend-sub001/platform/go/logging"
	"github.com/guiomkt/angubackend-sub001/platform/go/requesttrace"
)

// CallerServiceHeader names the internal service issuing the request
// (the surface is service-to-service; there is no end-user auth here).
const CallerServiceHeader = "X-Caller-Service"

// RequestTrace populates the context with request-scoped AuditInfo so services
// and repositories can stamp audit fields, and enriches the request logger
// with the caller identity.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

		var audit requesttrace.AuditInfo
		if caller := strings.TrimSpace(r.Header.Get(CallerServiceHeader)); caller != "" {
			audit = requesttrace.Service(caller, requestID)
		} else {
			audit = requesttrace.Anonymous(requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger := platformlogging.FromRequest(r, nil); logger != nil {
			fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
			if audit.Caller != nil {
				fields = append(fields, zap.String("caller_service", *audit.Caller))
			}
			ctx = platformlogging.WithLogger(ctx, logger.With(fields...))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
