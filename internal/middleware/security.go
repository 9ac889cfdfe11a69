package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/security"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// SecurityMiddlewareConfig holds configuration for security middleware
type SecurityMiddlewareConfig struct {
	Auth           *security.Config           `yaml:"auth"`
	RateLimit      *security.RateLimitConfig  `yaml:"rate_limit"`
	Validation     *security.ValidationConfig `yaml:"validation"`
	AllowedOrigins []string                   `yaml:"allowed_origins"`
}

// SecurityMiddleware combines all security middleware components
type SecurityMiddleware struct {
	authProvider   *security.DefaultAuthProvider
	rateLimiter    security.RateLimiter
	validator      *security.RequestValidator
	allowedOrigins []string
	logger         *logrus.Logger
}

// NewSecurityMiddleware creates a new security middleware stack
func NewSecurityMiddleware(config *SecurityMiddlewareConfig, logger *logrus.Logger) (*SecurityMiddleware, error) {
	s := &SecurityMiddleware{
		allowedOrigins: config.AllowedOrigins,
		logger:         logger,
	}

	if config.Auth != nil {
		s.authProvider = security.NewDefaultAuthProvider(config.Auth, logger)
	}

	if config.RateLimit != nil && config.RateLimit.Enabled {
		s.rateLimiter = security.NewInMemoryRateLimiter(config.RateLimit, logger)
	}

	if config.Validation != nil {
		validator, err := security.NewRequestValidator(config.Validation, logger)
		if err != nil {
			return nil, err
		}
		s.validator = validator
	}

	return s, nil
}

// Handler creates the complete security middleware chain. Requests pass
// through request ID, headers, CORS, validation, auth and rate limiting,
// in that order.
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		// rate limiting runs after auth so limits are per user
		if s.rateLimiter != nil {
			handler = security.RateLimitMiddleware(s.rateLimiter, security.DefaultKeyExtractor)(handler)
		}
		if s.authProvider != nil {
			handler = s.authProvider.AuthMiddleware()(handler)
		}
		if s.validator != nil {
			handler = s.validator.ValidationMiddleware()(handler)
		}
		if len(s.allowedOrigins) > 0 {
			handler = CORSMiddleware(s.allowedOrigins)(handler)
		}
		handler = securityHeadersMiddleware(handler)
		handler = RequestIDMiddleware(handler)

		return handler
	}
}

// TokenHandler serves JWT issuing, or nil when authentication is off
func (s *SecurityMiddleware) TokenHandler() http.Handler {
	if s.authProvider == nil {
		return nil
	}
	return s.authProvider.TokenHandler()
}

// securityHeadersMiddleware adds security headers to responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Server", "llm-task-router")
		h.Set("X-API-Version", "1")

		next.ServeHTTP(w, r)
	})
}

// RequestIDMiddleware keeps a caller-supplied X-Request-ID or assigns a new
// one, echoing it on the response and storing it on the context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by RequestIDMiddleware, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// CORSMiddleware answers preflight requests and sets CORS headers for
// allowed origins
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop releases background resources held by the middleware
func (s *SecurityMiddleware) Stop() {
	if rateLimiter, ok := s.rateLimiter.(*security.InMemoryRateLimiter); ok {
		rateLimiter.Stop()
	}
}

// GetStats reports which components are active
func (s *SecurityMiddleware) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"authentication_enabled": s.authProvider != nil,
		"rate_limiter_enabled":   s.rateLimiter != nil,
		"validation_enabled":     s.validator != nil,
		"cors_enabled":           len(s.allowedOrigins) > 0,
	}
}
