// internal/security/security.go
package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pizzapalace/internal/logger"
)

// DefaultCSRFTokenTTL is how long an issued token stays valid.
const DefaultCSRFTokenTTL = time.Hour

// TokenStore issues single-use CSRF tokens.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultCSRFTokenTTL
	}
	return &TokenStore{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a fresh token.
func (s *TokenStore) Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.ttl)
	s.mu.Unlock()

	return token, nil
}

// Validate checks and consumes a token.
func (s *TokenStore) Validate(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return !s.now().After(expiry)
}

// CleanExpired drops expired tokens and reports how many were removed.
func (s *TokenStore) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// CleanExpiredTokens runs CleanExpired every interval until ctx is done.
func (s *TokenStore) CleanExpiredTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CleanExpired(); n > 0 {
				logger.LogDebug("CSRF token cleanup removed %d expired tokens", n)
			}
		}
	}
}

// AddCORSHeaders adds CORS headers and answers preflight requests.
func AddCORSHeaders(allowedOrigin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID, X-CSRF-Token")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Session-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
