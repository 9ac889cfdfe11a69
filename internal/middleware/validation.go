package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// ValidationConfig configures OpenAPI request validation
type ValidationConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// ValidationMiddleware checks request bodies and parameters against the
// service's OpenAPI document
type ValidationMiddleware struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// NewValidationMiddleware builds the middleware over doc
func NewValidationMiddleware(config *ValidationConfig, doc *openapi3.T, logger *logrus.Logger) (*ValidationMiddleware, error) {
	vm := &ValidationMiddleware{
		logger:  logger,
		enabled: config != nil && config.Enabled,
	}
	if !vm.enabled {
		logger.Info("API validation middleware disabled")
		return vm, nil
	}
	if doc == nil {
		return nil, errors.New("OpenAPI document is required when validation is enabled")
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI router: %w", err)
	}
	vm.router = router

	logger.Info("API validation middleware enabled")
	return vm, nil
}

// Middleware returns the HTTP middleware function
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Request validation failed")

			writeValidationError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateRequest checks r against its documented operation. Routes the
// document does not describe, such as /health and /metrics, pass through.
func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}
	// ValidateRequest restores the body after reading it
	return openapi3filter.ValidateRequest(r.Context(), input)
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := types.NewErrorResponse(http.StatusBadRequest, "validation_error", describeValidationError(err))

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) && reqErr.Parameter != nil {
		resp.Error.Fields = map[string]string{reqErr.Parameter.Name: reqErr.Reason}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resp)
}

// describeValidationError turns a kin-openapi error into a short message
func describeValidationError(err error) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		if field == "" {
			return "Invalid request body: " + schemaErr.Reason
		}
		return fmt.Sprintf("Invalid field %s: %s", field, schemaErr.Reason)
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("Invalid parameter %s: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.RequestBody != nil {
			if reqErr.Reason != "" {
				return "Invalid request body: " + reqErr.Reason
			}
			return "Invalid request body"
		}
	}
	return err.Error()
}
