package auth

import (
	"log/slog"
	"net/http"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/transport"
)

// Middleware creates HTTP middleware from a Chain. It runs authentication
// and injects the resulting identity into the request context. Rejections
// use the standard API error envelope so clients see the same error shape
// as the completion endpoints.
func Middleware(chain *Chain, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := chain.Authenticate(r.Context(), r)

			if result.Decision == No {
				logger.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				transport.WriteAPIError(w, api.NewAuthenticationError("missing or invalid API key"))
				return
			}

			if result.Decision != Yes || result.Identity == nil {
				transport.WriteAPIError(w, api.NewAuthenticationError("missing or invalid API key"))
				return
			}

			if result.Identity.Subject == "" {
				logger.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			logger.Debug("authentication succeeded",
				"subject", result.Identity.Subject,
				"path", r.URL.Path,
			)

			ctx := SetIdentity(r.Context(), result.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
