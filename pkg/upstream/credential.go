// Package upstream implements the Code Assist API client: OAuth token
// lifecycle management backed by a shared cache, project discovery, and
// the streaming generation call.
package upstream

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// OAuth client registration used by the Gemini CLI. These are public
// installed-application credentials, not secrets in the operational sense;
// the refresh token they unlock is the actual secret.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"

	// DefaultTokenURL is the Google OAuth2 token endpoint used for refresh.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Credential is the long-lived operator-provided secret, in the shape of
// the Gemini CLI's oauth_creds.json. ExpiryDate is Unix milliseconds.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// CachedToken is the entry serialized into the shared token cache.
// ExpiryDate and CachedAt are Unix milliseconds. ExpiryDate always comes
// from the credential or refresh response it was derived from.
type CachedToken struct {
	AccessToken string `json:"access_token"`
	ExpiryDate  int64  `json:"expiry_date"`
	CachedAt    int64  `json:"cached_at"`
}

// ParseCredential parses oauth_creds.json content.
func ParseCredential(data []byte) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("parsing credential JSON: %w", err)
	}
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("credential is missing refresh_token")
	}
	return cred, nil
}

// LoadCredential loads a credential from inline JSON or a file path.
// Inline JSON takes precedence when both are set.
func LoadCredential(inlineJSON, file string) (Credential, error) {
	if inlineJSON != "" {
		return ParseCredential([]byte(inlineJSON))
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return Credential{}, fmt.Errorf("reading credential file: %w", err)
	}
	return ParseCredential(data)
}

// RedactToken returns a short non-reversible preview of a token for
// debug output. The full token never appears in logs or responses.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}
