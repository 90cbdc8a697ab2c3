package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/cache"
	"github.com/mkallner/gemlink/pkg/observability"
	"github.com/mkallner/gemlink/pkg/transport"
	"github.com/mkallner/gemlink/pkg/upstream"
)

// PromptTester runs a one-shot buffered prompt against the upstream.
// Implemented by the gateway.
type PromptTester interface {
	TestPrompt(ctx context.Context, model, prompt string) (string, error)
}

// Handlers serves the dashboard and debug endpoints.
type Handlers struct {
	password string
	sessions *SessionManager
	settings *Settings
	manager  *upstream.Manager
	store    cache.TokenStore
	tester   PromptTester
	logs     *observability.LogBuffer
	logger   *slog.Logger
}

// HandlersConfig wires the handler dependencies.
type HandlersConfig struct {
	Password string
	Sessions *SessionManager
	Settings *Settings
	Manager  *upstream.Manager
	Store    cache.TokenStore
	Tester   PromptTester
	Logs     *observability.LogBuffer
	Logger   *slog.Logger
}

// NewHandlers creates the dashboard handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		password: cfg.Password,
		sessions: cfg.Sessions,
		settings: cfg.Settings,
		manager:  cfg.Manager,
		store:    cfg.Store,
		tester:   cfg.Tester,
		logs:     cfg.Logs,
		logger:   cfg.Logger,
	}
}

// Register mounts the dashboard routes. Everything except login requires a
// valid session.
func (h *Handlers) Register(mount func(pattern string, handler http.Handler)) {
	mount("POST /dashboard/login", http.HandlerFunc(h.handleLogin))

	protect := h.sessions.Middleware
	mount("GET /dashboard/settings", protect(http.HandlerFunc(h.handleGetSettings)))
	mount("PUT /dashboard/settings", protect(http.HandlerFunc(h.handlePutSettings)))
	mount("GET /debug/cache", protect(http.HandlerFunc(h.handleDebugCache)))
	mount("POST /token-test", protect(http.HandlerFunc(h.handleTokenTest)))
	mount("POST /test", protect(http.HandlerFunc(h.handleTest)))
	if h.logs != nil {
		mount("GET /debug/logs", protect(h.logs.Handler()))
	}
}

// handleLogin exchanges the dashboard password for a session token, returned
// both as a cookie and in the response body.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		h.logger.Warn("dashboard login rejected", "remote_addr", r.RemoteAddr)
		transport.WriteAPIError(w, api.NewAuthenticationError("invalid password"))
		return
	}

	token, err := h.sessions.Issue()
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("issuing session: "+err.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, map[string]string{"token": token})
}

// handleGetSettings returns all current settings.
func (h *Handlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.settings.All())
}

// handlePutSettings merges the submitted values and returns the result.
// Empty values delete keys.
func (h *Handlers) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}

	if err := h.settings.Set(values); err != nil {
		transport.WriteAPIError(w, api.NewServerError("persisting settings: "+err.Error()))
		return
	}

	h.logger.Info("dashboard settings updated", "keys", len(values))
	writeJSON(w, h.settings.All())
}

// cacheDebugResponse is the GET /debug/cache body. All token material is
// redacted to a short preview.
type cacheDebugResponse struct {
	Token upstream.TokenInfo `json:"token"`
	Cache struct {
		Present      bool   `json:"present"`
		TokenPreview string `json:"token_preview,omitempty"`
		ExpiryDate   int64  `json:"expiry_date,omitempty"`
		CachedAt     int64  `json:"cached_at,omitempty"`
	} `json:"cache"`
}

// handleDebugCache reports the in-memory token state and the shared cache
// entry, redacted.
func (h *Handlers) handleDebugCache(w http.ResponseWriter, r *http.Request) {
	resp := cacheDebugResponse{Token: h.manager.Info()}

	data, err := h.store.Get(r.Context(), h.manager.CacheKey())
	switch {
	case errors.Is(err, cache.ErrNotFound):
		// Leave present false.
	case err != nil:
		h.logger.Warn("reading cached token for debug failed", "error", err)
	default:
		var cached upstream.CachedToken
		if err := json.Unmarshal(data, &cached); err == nil {
			resp.Cache.Present = true
			resp.Cache.TokenPreview = upstream.RedactToken(cached.AccessToken)
			resp.Cache.ExpiryDate = cached.ExpiryDate
			resp.Cache.CachedAt = cached.CachedAt
		}
	}

	writeJSON(w, resp)
}

// handleTokenTest forces token resolution and reports the resulting state.
func (h *Handlers) handleTokenTest(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if _, err := h.manager.Token(r.Context()); err != nil {
		out["ok"] = false
		out["error"] = err.Error()
	} else {
		out["ok"] = true
	}
	out["token"] = h.manager.Info()
	writeJSON(w, out)
}

// handleTest sends a one-shot prompt upstream and returns the generated text.
func (h *Handlers) handleTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}
	if req.Prompt == "" {
		req.Prompt = "Reply with the single word: pong"
	}

	text, err := h.tester.TestPrompt(r.Context(), req.Model, req.Prompt)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			transport.WriteAPIError(w, apiErr)
		} else {
			transport.WriteAPIError(w, api.NewServerError(err.Error()))
		}
		return
	}

	writeJSON(w, map[string]string{"text": text})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
