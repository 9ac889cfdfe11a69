package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Issuer is the JWT issuer this service signs and accepts
const Issuer = "llm-task-router"

type contextKey string

const (
	authInfoKey contextKey = "auth_info"
	clientIPKey contextKey = "client_ip"
)

// AuthInfo describes an authenticated caller
type AuthInfo struct {
	UserID      string            `json:"user_id"`
	APIKey      string            `json:"-"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// JWTClaims are the claims carried by tokens this service issues
type JWTClaims struct {
	UserID      string            `json:"user_id"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	APIKeys     []string      `yaml:"api_keys" toml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry" toml:"jwt_expiry"`
	RequireAuth bool          `yaml:"require_auth" toml:"require_auth"`

	// PublicPaths are served without authentication
	PublicPaths []string `yaml:"public_paths" toml:"public_paths"`
}

// DefaultAuthProvider authenticates callers by static API key or HS256 JWT
type DefaultAuthProvider struct {
	config *Config
	logger *logrus.Logger
}

// NewDefaultAuthProvider creates a new authentication provider
func NewDefaultAuthProvider(config *Config, logger *logrus.Logger) *DefaultAuthProvider {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.PublicPaths == nil {
		config.PublicPaths = []string{"/health", "/metrics", "/docs"}
	}

	return &DefaultAuthProvider{
		config: config,
		logger: logger,
	}
}

// Authenticate accepts either an API key or a JWT
func (a *DefaultAuthProvider) Authenticate(ctx context.Context, token string) (*AuthInfo, error) {
	if authInfo, err := a.ValidateAPIKey(ctx, token); err == nil {
		return authInfo, nil
	}

	if a.config.JWTSecret != "" {
		if claims, err := a.ValidateJWT(token); err == nil {
			info := &AuthInfo{
				UserID:      claims.UserID,
				Permissions: claims.Permissions,
				Metadata:    claims.Metadata,
			}
			if claims.ExpiresAt != nil {
				info.ExpiresAt = &claims.ExpiresAt.Time
			}
			if info.Metadata == nil {
				info.Metadata = map[string]string{}
			}
			info.Metadata["auth_type"] = "jwt"
			return info, nil
		}
	}

	return nil, errors.New("invalid authentication token")
}

// ValidateAPIKey checks apiKey against the configured keys in constant time
func (a *DefaultAuthProvider) ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	for i, validKey := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return &AuthInfo{
				UserID:      generateUserID(apiKey),
				APIKey:      apiKey,
				Permissions: []string{"route:execute"},
				Metadata: map[string]string{
					"key_index": strconv.Itoa(i),
					"auth_type": "api_key",
				},
			}, nil
		}
	}

	a.logger.WithFields(logrus.Fields{
		"api_key_prefix": maskAPIKey(apiKey),
		"remote_ip":      clientIPFromContext(ctx),
	}).Debug("API key not recognised")

	return nil, errors.New("invalid API key")
}

// GenerateJWT issues a token for userID. A "permissions" claim must be a
// []string; other string claims land in the token metadata.
func (a *DefaultAuthProvider) GenerateJWT(userID string, claims map[string]interface{}) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.New("JWT secret is not configured")
	}

	now := time.Now()
	jwtClaims := &JWTClaims{
		UserID:   userID,
		Metadata: make(map[string]string),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	for key, value := range claims {
		switch key {
		case "permissions":
			if perms, ok := value.([]string); ok {
				jwtClaims.Permissions = perms
			}
		default:
			if strVal, ok := value.(string); ok {
				jwtClaims.Metadata[key] = strVal
			}
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// TokenResponse is the body returned by TokenHandler
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenHandler exchanges the caller's API key for a JWT carrying the same
// permissions. It must sit behind AuthMiddleware. Callers that presented a
// JWT cannot mint a fresh one.
func (a *DefaultAuthProvider) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.config.JWTSecret == "" {
			writeJSONError(w, http.StatusNotFound, "not_found_error", "Token issuing is disabled")
			return
		}

		info, ok := GetAuthInfo(r.Context())
		if !ok || info.APIKey == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication_error", "An API key is required to obtain a token")
			return
		}

		expiresAt := time.Now().Add(a.config.JWTExpiry).UTC()
		token, err := a.GenerateJWT(info.UserID, map[string]interface{}{
			"permissions": info.Permissions,
			"key_index":   info.Metadata["key_index"],
		})
		if err != nil {
			a.logger.WithError(err).WithField("user_id", info.UserID).Error("Failed to issue token")
			writeJSONError(w, http.StatusInternalServerError, "api_error", "Failed to issue token")
			return
		}

		a.logger.WithField("user_id", info.UserID).Info("Issued JWT")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(TokenResponse{
			Token:     token,
			TokenType: "Bearer",
			ExpiresAt: expiresAt,
		})
	}
}

// ValidateJWT parses and verifies a token issued by GenerateJWT
func (a *DefaultAuthProvider) ValidateJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid JWT token")
}

// AuthMiddleware rejects unauthenticated requests with 401 and stores the
// caller's AuthInfo on the request context
func (a *DefaultAuthProvider) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.config.RequireAuth || a.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "authentication_error", "Missing authentication token")
				return
			}

			clientIP := getClientIPFromRequest(r)
			ctx := context.WithValue(r.Context(), clientIPKey, clientIP)
			authInfo, err := a.Authenticate(ctx, token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"error":      err.Error(),
					"path":       r.URL.Path,
					"method":     r.Method,
					"remote_ip":  clientIP,
					"user_agent": r.UserAgent(),
				}).Warn("Authentication failed")

				writeJSONError(w, http.StatusUnauthorized, "authentication_error", "Invalid authentication token")
				return
			}

			a.logger.WithFields(logrus.Fields{
				"user_id":   authInfo.UserID,
				"auth_type": authInfo.Metadata["auth_type"],
				"path":      r.URL.Path,
			}).Debug("Authentication successful")

			next.ServeHTTP(w, r.WithContext(WithAuthInfo(ctx, authInfo)))
		})
	}
}

func (a *DefaultAuthProvider) isPublic(path string) bool {
	for _, prefix := range a.config.PublicPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// WithAuthInfo returns a copy of ctx carrying info
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

// GetAuthInfo extracts authentication info from request context
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	authInfo, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return authInfo, ok
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}
	return r.Header.Get("API-Key")
}

func generateUserID(apiKey string) string {
	if len(apiKey) >= 8 {
		return "user_" + apiKey[:8]
	}
	return "user_" + apiKey
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func clientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

func getClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return strings.Trim(ip, "[]")
}

// ClientIP returns the caller address, honouring proxy headers
func ClientIP(r *http.Request) string {
	return getClientIPFromRequest(r)
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string, details ...string) {
	writeErrorBody(w, status, errType, message, 0, details)
}

func writeErrorBody(w http.ResponseWriter, status int, errType, message string, retryAfter int, details []string) {
	body := types.NewErrorResponse(status, errType, message)
	body.Error.Details = details
	body.Error.RetryAfter = retryAfter

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
