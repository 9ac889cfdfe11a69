package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// ErrCredentialsNotFound is matched by every NotFoundError
var ErrCredentialsNotFound = errors.New("routing service credentials not found")

// Config names the places credentials are looked up
type Config struct {
	LocalFile string `yaml:"local_file" toml:"local_file"`
	URLEnv    string `yaml:"url_env" toml:"url_env"`
	KeyEnv    string `yaml:"key_env" toml:"key_env"`
	HomeFile  string `yaml:"home_file" toml:"home_file"`
}

func (c Config) withDefaults() Config {
	if c.LocalFile == "" {
		c.LocalFile = "secrets.json"
	}
	if c.URLEnv == "" {
		c.URLEnv = "DEIMOS_API_URL"
	}
	if c.KeyEnv == "" {
		c.KeyEnv = "DEIMOS_API_KEY"
	}
	if c.HomeFile == "" {
		c.HomeFile = "~/.deimos/secrets.json"
	}
	return c
}

// Attempt is the outcome of probing one source
type Attempt struct {
	Source string
	Err    error
}

// NotFoundError lists every source that was tried and why it failed
type NotFoundError struct {
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%v)", a.Source, a.Err))
	}
	return fmt.Sprintf("%s; tried: %s", ErrCredentialsNotFound.Error(), strings.Join(parts, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrCredentialsNotFound
}

// Resolver produces credentials for the routing service
type Resolver interface {
	Resolve(ctx context.Context) (types.Credentials, error)
}

// ChainResolver tries its sources in order; the first success wins
type ChainResolver struct {
	sources []Source
	logger  *logrus.Logger
}

// NewChainResolver creates a resolver over the given sources
func NewChainResolver(sources []Source, logger *logrus.Logger) *ChainResolver {
	return &ChainResolver{sources: sources, logger: logger}
}

// Resolve returns the first complete credentials found
func (r *ChainResolver) Resolve(ctx context.Context) (types.Credentials, error) {
	attempts := make([]Attempt, 0, len(r.sources))

	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return types.Credentials{}, err
		}

		creds, err := src.Load()
		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"source":  src.Name(),
				"api_url": creds.APIURL,
			}).Debug("Routing credentials resolved")
			return creds, nil
		}

		r.logger.WithFields(logrus.Fields{
			"source": src.Name(),
			"error":  err.Error(),
		}).Debug("Credential source unavailable")
		attempts = append(attempts, Attempt{Source: src.Name(), Err: err})
	}

	return types.Credentials{}, &NotFoundError{Attempts: attempts}
}

// CachingResolver remembers the first successful resolution for the life
// of the process. Failures are not cached. Concurrent callers share one
// in-flight resolution.
type CachingResolver struct {
	inner Resolver
	group singleflight.Group

	mu     sync.RWMutex
	cached *types.Credentials
}

// NewCachingResolver wraps inner with a process-wide cache
func NewCachingResolver(inner Resolver) *CachingResolver {
	return &CachingResolver{inner: inner}
}

// Resolve returns cached credentials or resolves them once
func (c *CachingResolver) Resolve(ctx context.Context) (types.Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		creds := *c.cached
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("credentials", func() (interface{}, error) {
		c.mu.RLock()
		if c.cached != nil {
			creds := *c.cached
			c.mu.RUnlock()
			return creds, nil
		}
		c.mu.RUnlock()

		creds, err := c.inner.Resolve(ctx)
		if err != nil {
			return types.Credentials{}, err
		}

		c.mu.Lock()
		c.cached = &creds
		c.mu.Unlock()
		return creds, nil
	})
	if err != nil {
		return types.Credentials{}, err
	}
	return v.(types.Credentials), nil
}

// Reset drops the cached credentials so the next call resolves again
func (c *CachingResolver) Reset() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// NewDefaultResolver builds the standard cached resolver
func NewDefaultResolver(cfg Config, logger *logrus.Logger) *CachingResolver {
	return NewCachingResolver(NewChainResolver(DefaultSources(cfg), logger))
}

// StaticResolver always returns the same credentials
type StaticResolver types.Credentials

func (s StaticResolver) Resolve(ctx context.Context) (types.Credentials, error) {
	return types.Credentials(s), nil
}
