package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/invoicely/gatekeeper/pkg/httputil"
)

const (
	// SessionCookieName is the browser session cookie
	SessionCookieName = "gk_session"
	// TokenPrefix identifies gatekeeper session tokens
	TokenPrefix = "gks_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// GenerateToken creates a session token and the hash to store for it.
// Format: gks_<base64url(32 random bytes)>
func GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA-256 hash used as the session lookup key
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenFromRequest reads the session cookie, falling back to a Bearer header.
// It returns "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return httputil.BearerToken(r)
}
