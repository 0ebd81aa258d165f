package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/service"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const subjectKey contextKey = "subject"

// BearerAuthMiddleware guards the analysis API with HS256 bearer tokens. The
// token subject identifies the dashboard or job requesting reports; it is
// stored in the context and tagged on the request span.
func BearerAuthMiddleware(auth *service.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("path", r.URL.Path),
			)

			token, err := bearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var claims *service.Claims
				if claims, err = auth.Validate(token); err == nil {
					trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("auth.subject", claims.Subject))
					ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			handleServiceError(w, err, log)
		})
	}
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", &domain.ErrUnauthorized{Message: "missing bearer token"}
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", &domain.ErrUnauthorized{Message: "invalid authorization header"}
	}
	return strings.TrimSpace(token), nil
}

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}
