package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// HTTPMiddleware enforces JWT/API key auth on an HTTP handler, attaching the
// resolved user to the request context for downstream handlers (the
// websocket upgrade handler in particular) to read via UserFromContext.
func HTTPMiddleware(service *Service, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if service == nil || !service.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if token := extractBearer(r); token != "" {
			user, err := service.ValidateJWT(token)
			if err != nil {
				if logger != nil {
					logger.Warn("jwt validation failed", "error", err)
				}
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
			return
		}

		if apiKey := extractAPIKey(r); apiKey != "" {
			user, err := service.ValidateAPIKey(apiKey)
			if err != nil {
				if logger != nil {
					logger.Warn("api key validation failed", "error", err)
				}
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
			return
		}

		http.Error(w, "missing credentials", http.StatusUnauthorized)
	})
}

func extractBearer(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	value := r.Header.Get("Authorization")
	if lower := strings.ToLower(value); strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, key := range []string{"X-API-Key", "Api-Key"} {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
