package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pizzapalace/internal/logger"
	"pizzapalace/internal/security"
)

// Request context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	SessionIDKey contextKey = "session_id"
)

const (
	SessionCookieName = "pp_session"
	SessionHeader     = "X-Session-ID"
	CSRFHeader        = "X-CSRF-Token"

	sessionCookieMaxAge = 24 * time.Hour
	maxRequestBodyBytes = 1 << 20
)

// Standard API error response
type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id"`
}

// Standard API success response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id"`
}

// APIMiddleware is the chain every API endpoint runs behind.
func APIMiddleware(next http.Handler) http.Handler {
	return RequestID(
		Logging(
			ErrorHandling(
				Session(next),
			),
		),
	)
}

// RequestID middleware adds a unique request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging middleware logs all API requests with consistent format
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		logger.LogDebug("API request started [%s] %s %s from %s", requestID, r.Method, r.URL.Path, logger.GetClientIP(r))

		// Create a response writer that captures status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.LogInfo("API request completed [%s] %s %s -> %d in %dms",
			requestID, r.Method, r.URL.Path, rw.statusCode, duration.Milliseconds())
	})
}

// ErrorHandling middleware provides panic recovery and consistent error responses
func ErrorHandling(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.LogError("Panic in API handler [%s] %s %s: %v",
					GetRequestID(r.Context()), r.Method, r.URL.Path, err)
				WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
					"An internal error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Session resolves the shopper's session from the X-Session-ID header or the
// session cookie, issuing a new id when neither carries a valid one.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(SessionHeader)
		if sessionID == "" {
			if c, err := r.Cookie(SessionCookieName); err == nil {
				sessionID = c.Value
			}
		}
		if _, err := uuid.Parse(sessionID); err != nil {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(sessionCookieMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			logger.LogDebug("Issued new session %s", sessionID)
		}
		w.Header().Set(SessionHeader, sessionID)

		ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCSRF rejects requests without a valid single-use CSRF token.
func RequireCSRF(tokens *security.TokenStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokens.Validate(r.Header.Get(CSRFHeader)) {
			logger.LogWarn("Rejected request with invalid CSRF token [%s] from %s",
				GetRequestID(r.Context()), logger.GetClientIP(r))
			WriteAPIError(w, r, http.StatusForbidden, "invalid_csrf_token",
				"Missing or expired CSRF token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the session id set by Session.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WriteAPIError writes a standardized error response
func WriteAPIError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	response := APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.LogError("Failed to encode error response: %v", err)
	}
}

// WriteAPISuccess writes a standardized success response
func WriteAPISuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteAPISuccessStatus(w, r, http.StatusOK, data)
}

func WriteAPISuccessStatus(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.LogError("Failed to encode response: %v", err)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ParseJSONRequest parses JSON request body into the provided struct
func ParseJSONRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return fmt.Errorf("content-type must be application/json")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields() // Strict parsing
	return decoder.Decode(v)
}
