package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationConfig holds transport-level request checks
type ValidationConfig struct {
	MaxRequestSize int64    `yaml:"max_request_size" toml:"max_request_size"`
	AllowedMethods []string `yaml:"allowed_methods" toml:"allowed_methods"`
	ContentTypes   []string `yaml:"allowed_content_types" toml:"allowed_content_types"`
	IPAllowlist    []string `yaml:"ip_allowlist" toml:"ip_allowlist"`
	IPBlocklist    []string `yaml:"ip_blocklist" toml:"ip_blocklist"`
}

// RequestValidator rejects requests by method, size, content type and
// client address before any body is decoded
type RequestValidator struct {
	config    *ValidationConfig
	logger    *logrus.Logger
	allowNets []*net.IPNet
	blockNets []*net.IPNet
}

// ValidationResult contains the result of request validation
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// NewRequestValidator creates a validator; IP lists accept addresses and CIDRs
func NewRequestValidator(config *ValidationConfig, logger *logrus.Logger) (*RequestValidator, error) {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = 1 << 20
	}

	allow, err := parseNets(config.IPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip_allowlist: %w", err)
	}
	block, err := parseNets(config.IPBlocklist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip_blocklist: %w", err)
	}

	return &RequestValidator{
		config:    config,
		logger:    logger,
		allowNets: allow,
		blockNets: block,
	}, nil
}

// ValidateRequest checks r without reading its body
func (v *RequestValidator) ValidateRequest(r *http.Request) *ValidationResult {
	result := &ValidationResult{Valid: true, Status: http.StatusOK}
	fail := func(status int, format string, args ...interface{}) {
		result.Valid = false
		if result.Status == http.StatusOK {
			result.Status = status
		}
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	clientIP := getClientIPFromRequest(r)
	if !v.isAllowedIP(clientIP) {
		fail(http.StatusForbidden, "IP %s not allowed", clientIP)
	}

	if !containsFold(v.config.AllowedMethods, r.Method) {
		fail(http.StatusMethodNotAllowed, "Method %s not allowed", r.Method)
	}

	if r.ContentLength > v.config.MaxRequestSize {
		fail(http.StatusRequestEntityTooLarge, "Request size %d exceeds maximum %d", r.ContentLength, v.config.MaxRequestSize)
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		contentType := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
		if !containsFold(v.config.ContentTypes, contentType) {
			fail(http.StatusUnsupportedMediaType, "Content-Type %q not allowed", contentType)
		}
	}

	if !result.Valid {
		v.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"client_ip": clientIP,
			"errors":    result.Errors,
		}).Warn("Request validation failed")
	}
	return result
}

// ValidationMiddleware rejects invalid requests and caps the body size
func (v *RequestValidator) ValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := v.ValidateRequest(r)
			if !result.Valid {
				writeJSONError(w, result.Status, "validation_error", "Request validation failed", result.Errors...)
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, v.config.MaxRequestSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (v *RequestValidator) isAllowedIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return len(v.allowNets) == 0
	}
	for _, n := range v.blockNets {
		if n.Contains(parsed) {
			return false
		}
	}
	if len(v.allowNets) == 0 {
		return true
	}
	for _, n := range v.allowNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func parseNets(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("%q is not an IP address", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// containsFold reports whether list is empty or holds s, ignoring case
func containsFold(list []string, s string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
