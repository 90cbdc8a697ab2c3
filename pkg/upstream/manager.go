package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/cache"
	"github.com/mkallner/gemlink/pkg/observability"
)

// expiryBuffer is the safety margin subtracted from token expiry: a token
// within this window of expiring is treated as already expired.
const expiryBuffer = 300 * time.Second

// DefaultCacheKey is the shared-cache entry holding the current token.
const DefaultCacheKey = "gemlink:oauth_token"

// State describes the token lifecycle position for debug output.
type State string

const (
	StateNoToken    State = "no_token"
	StateValid      State = "valid"
	StateExpiring   State = "expiring"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Credential Credential
	Store      cache.TokenStore
	Logger     *slog.Logger
	TokenURL   string       // default: DefaultTokenURL
	CacheKey   string       // default: DefaultCacheKey
	HTTPClient *http.Client // default: 30s timeout client
	Now        func() time.Time
}

// Manager owns the upstream bearer token lifecycle. It keeps one current
// token per process, shares refreshed tokens through the TokenStore, and
// serializes concurrent refreshes so the token endpoint sees at most one
// in-flight refresh per process.
type Manager struct {
	store    cache.TokenStore
	logger   *slog.Logger
	tokenURL string
	cacheKey string
	client   *http.Client
	now      func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	cred       Credential
	token      string
	expiry     int64 // Unix ms, 0 when no token held
	refreshing bool
	failed     bool
}

// NewManager creates a Manager from the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.CacheKey == "" {
		cfg.CacheKey = DefaultCacheKey
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:    cfg.Store,
		logger:   cfg.Logger,
		tokenURL: cfg.TokenURL,
		cacheKey: cfg.CacheKey,
		client:   cfg.HTTPClient,
		now:      cfg.Now,
		cred:     cfg.Credential,
	}
}

// Token returns a bearer token valid for at least the buffer window.
//
// Resolution order: the in-memory token, then the shared cache, then the
// static credential's own access token, then a refresh against the token
// endpoint. Only the refresh path performs network I/O, and concurrent
// callers share a single refresh.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && m.validBeyondBuffer(m.expiry) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	// The resolved token is shared by every waiter on the group, so the
	// slow path must not die with whichever caller happened to start it.
	// The HTTP client's own timeout still bounds the refresh call.
	resolveCtx := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do("token", func() (any, error) {
		return m.resolveToken(resolveCtx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// resolveToken runs the slow path: cache, static credential, refresh.
// Called inside the singleflight group.
func (m *Manager) resolveToken(ctx context.Context) (string, error) {
	// Another caller may have resolved it while we waited on the group.
	m.mu.Lock()
	if m.token != "" && m.validBeyondBuffer(m.expiry) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	cred := m.cred
	m.mu.Unlock()

	// Shared cache: adopt a token refreshed by another process.
	if data, err := m.store.Get(ctx, m.cacheKey); err == nil {
		var cached CachedToken
		if err := json.Unmarshal(data, &cached); err != nil {
			m.logger.Warn("discarding unparseable cached token", "error", err)
		} else if m.validBeyondBuffer(cached.ExpiryDate) {
			m.adopt(cached.AccessToken, cached.ExpiryDate)
			m.logger.Debug("adopted token from shared cache",
				"expires", msTime(cached.ExpiryDate).Format(time.RFC3339))
			return cached.AccessToken, nil
		}
	}

	// Static credential still valid beyond the buffer.
	if cred.AccessToken != "" && m.validBeyondBuffer(cred.ExpiryDate) {
		m.adopt(cred.AccessToken, cred.ExpiryDate)
		m.writeCache(ctx, cred.AccessToken, cred.ExpiryDate)
		return cred.AccessToken, nil
	}

	// Refresh.
	return m.refresh(ctx, cred)
}

// refresh exchanges the credential's refresh token for a new access token.
func (m *Manager) refresh(ctx context.Context, cred Credential) (string, error) {
	if cred.RefreshToken == "" {
		m.setFailed()
		return "", api.NewAuthenticationError("no refresh token configured")
	}

	m.mu.Lock()
	m.refreshing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	m.logger.Info("refreshing upstream access token")

	form := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		m.setFailed()
		return "", api.NewAuthenticationError("building refresh request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.setFailed()
		observability.TokenRefreshTotal.WithLabelValues("error").Inc()
		return "", api.NewAuthenticationError("token refresh failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body may echo credential material; log the status only.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		m.setFailed()
		observability.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		m.logger.Error("token refresh rejected", "status", resp.StatusCode)
		return "", api.NewAuthenticationError(
			fmt.Sprintf("token refresh rejected by upstream (status %d)", resp.StatusCode))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		m.setFailed()
		return "", api.NewAuthenticationError("parsing refresh response: " + err.Error())
	}
	if result.AccessToken == "" {
		m.setFailed()
		return "", api.NewAuthenticationError("refresh response contained no access token")
	}

	expiry := m.now().UnixMilli() + result.ExpiresIn*1000
	m.adopt(result.AccessToken, expiry)
	m.writeCache(ctx, result.AccessToken, expiry)
	observability.TokenRefreshTotal.WithLabelValues("ok").Inc()

	m.logger.Info("upstream access token refreshed",
		"expires", msTime(expiry).Format(time.RFC3339))

	return result.AccessToken, nil
}

// Invalidate clears the in-memory token and deletes the shared cache entry.
// It does not trigger a refresh; the next Token call does.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.token = ""
	m.expiry = 0
	m.mu.Unlock()

	if err := m.store.Delete(ctx, m.cacheKey); err != nil {
		m.logger.Warn("deleting cached token failed", "error", err)
	}
	m.logger.Debug("upstream token invalidated")
}

// adopt installs a token as the current in-memory token.
func (m *Manager) adopt(token string, expiry int64) {
	m.mu.Lock()
	m.token = token
	m.expiry = expiry
	m.failed = false
	m.mu.Unlock()
}

func (m *Manager) setFailed() {
	m.mu.Lock()
	m.failed = true
	m.mu.Unlock()
}

// writeCache stores the token in the shared cache with a TTL that expires
// before the token itself. The write runs in the background; its outcome
// never affects the calling request.
func (m *Manager) writeCache(ctx context.Context, token string, expiry int64) {
	ttlSeconds := (expiry-m.now().UnixMilli())/1000 - int64(expiryBuffer/time.Second)
	if ttlSeconds <= 0 {
		return
	}

	entry := CachedToken{
		AccessToken: token,
		ExpiryDate:  expiry,
		CachedAt:    m.now().UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Warn("marshaling cached token failed", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		if err := m.store.SetWithTTL(writeCtx, m.cacheKey, data, time.Duration(ttlSeconds)*time.Second); err != nil {
			m.logger.Warn("writing cached token failed", "error", err)
		}
	}()
}

// validBeyondBuffer reports whether an expiry (Unix ms) is further out
// than the buffer window.
func (m *Manager) validBeyondBuffer(expiry int64) bool {
	return expiry-m.now().UnixMilli() > expiryBuffer.Milliseconds()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.refreshing:
		return StateRefreshing
	case m.failed:
		return StateFailed
	case m.token == "":
		return StateNoToken
	case m.validBeyondBuffer(m.expiry):
		return StateValid
	default:
		return StateExpiring
	}
}

// TokenInfo is redacted token metadata for debug endpoints.
type TokenInfo struct {
	State        State     `json:"state"`
	TokenPreview string    `json:"token_preview,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Info returns redacted metadata about the in-memory token.
func (m *Manager) Info() TokenInfo {
	state := m.State()

	m.mu.Lock()
	defer m.mu.Unlock()

	info := TokenInfo{State: state}
	if m.token != "" {
		info.TokenPreview = RedactToken(m.token)
		info.ExpiresAt = msTime(m.expiry)
	}
	return info
}

// CacheKey returns the shared-cache entry name used by this manager.
func (m *Manager) CacheKey() string {
	return m.cacheKey
}

// msTime converts Unix milliseconds to a time.Time.
func msTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
