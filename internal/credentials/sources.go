package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Source is one place credentials may be found
type Source interface {
	// Name identifies the source in logs and in NotFoundError
	Name() string
	// Load returns complete credentials or an error explaining why not
	Load() (types.Credentials, error)
}

// FileSource reads a JSON secrets file with api_url and api_key fields
type FileSource struct {
	Path string
}

// NewFileSource creates a file source. A leading "~/" is expanded to the
// user's home directory.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: expandHome(path)}
}

func (s *FileSource) Name() string {
	return "file:" + s.Path
}

func (s *FileSource) Load() (types.Credentials, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Credentials{}, fmt.Errorf("%s does not exist", s.Path)
		}
		return types.Credentials{}, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}

	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to parse %s: %w", s.Path, err)
	}
	creds.APIURL = strings.TrimSpace(creds.APIURL)
	creds.APIKey = strings.TrimSpace(creds.APIKey)

	if !creds.Complete() {
		return types.Credentials{}, fmt.Errorf("%s must contain both api_url and api_key", s.Path)
	}
	return creds, nil
}

// EnvSource reads credentials from two environment variables; both are required
type EnvSource struct {
	URLVar string
	KeyVar string

	// lookup is os.LookupEnv outside of tests
	lookup func(string) (string, bool)
}

// NewEnvSource creates an environment source
func NewEnvSource(urlVar, keyVar string) *EnvSource {
	return &EnvSource{URLVar: urlVar, KeyVar: keyVar, lookup: os.LookupEnv}
}

func (s *EnvSource) Name() string {
	return "env:" + s.URLVar + "+" + s.KeyVar
}

func (s *EnvSource) Load() (types.Credentials, error) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	url, _ := lookup(s.URLVar)
	key, _ := lookup(s.KeyVar)
	creds := types.Credentials{APIURL: strings.TrimSpace(url), APIKey: strings.TrimSpace(key)}

	var missing []string
	if creds.APIURL == "" {
		missing = append(missing, s.URLVar)
	}
	if creds.APIKey == "" {
		missing = append(missing, s.KeyVar)
	}
	if len(missing) > 0 {
		return types.Credentials{}, fmt.Errorf("environment variable(s) not set: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

// DefaultSources returns the standard lookup order: working directory file,
// environment variables, then the file under the home directory.
func DefaultSources(cfg Config) []Source {
	cfg = cfg.withDefaults()
	return []Source{
		NewFileSource(cfg.LocalFile),
		NewEnvSource(cfg.URLEnv, cfg.KeyEnv),
		NewFileSource(cfg.HomeFile),
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
