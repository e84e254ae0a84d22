// Package settings holds the client configuration. The file is the
// persisted state; TEXBRIDGE_* environment variables override it for the
// current process only.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/texbridge/internal/selector"
)

// ErrInvalid marks settings that fail Validate
var ErrInvalid = errors.New("invalid settings")

// Engines are the LaTeX engines a compile server may be asked for
var Engines = []string{"pdflatex", "xelatex", "lualatex"}

// Settings is one coherent configuration value. Get returns copies, so a
// compile holds the settings it started with.
type Settings struct {
	LocalURL     string `yaml:"localUrl"`
	CloudURL     string `yaml:"cloudUrl,omitempty"`
	UseCloud     bool   `yaml:"useCloud"`
	AutoFallback bool   `yaml:"autoFallback"`
	AuthToken    string `yaml:"authToken,omitempty"`
	Engine       string `yaml:"engine"`

	// AccountURL enables the entitlement check before compiling
	AccountURL string `yaml:"accountUrl,omitempty"`

	// HostURL and HostCookie enable archive download from the host platform
	HostURL    string `yaml:"hostUrl,omitempty"`
	HostCookie string `yaml:"hostCookie,omitempty"`

	// HashStore selects the hash record backend: file or sqlite
	HashStore string `yaml:"hashStore,omitempty"`
}

// Defaults returns the settings used when nothing is configured
func Defaults() Settings {
	return Settings{
		LocalURL:     "http://127.0.0.1:8765",
		AutoFallback: true,
		Engine:       "pdflatex",
		HashStore:    "file",
	}
}

// Policy returns the server selection policy
func (s Settings) Policy() selector.Policy {
	return selector.Policy{
		LocalURL:     s.LocalURL,
		CloudURL:     s.CloudURL,
		AuthToken:    s.AuthToken,
		UseCloud:     s.UseCloud,
		AutoFallback: s.AutoFallback,
	}
}

// Validate checks that the settings can drive a compile
func (s Settings) Validate() error {
	var errs []error
	if err := checkURL("localUrl", s.LocalURL, true); err != nil {
		errs = append(errs, err)
	}
	for name, value := range map[string]string{"cloudUrl": s.CloudURL, "accountUrl": s.AccountURL, "hostUrl": s.HostURL} {
		if err := checkURL(name, value, false); err != nil {
			errs = append(errs, err)
		}
	}
	if !knownEngine(s.Engine) {
		errs = append(errs, fmt.Errorf("engine %q is not one of %s", s.Engine, strings.Join(Engines, ", ")))
	}
	switch s.HashStore {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("hashStore %q must be file or sqlite", s.HashStore))
	}
	return errors.Join(errs...)
}

func checkURL(name, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https url", name)
	}
	return nil
}

func knownEngine(engine string) bool {
	for _, e := range Engines {
		if e == engine {
			return true
		}
	}
	return false
}

// DefaultPath is settings.yaml under the user config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "texbridge", "settings.yaml"), nil
}

// Store loads and persists settings
type Store struct {
	path   string
	lookup func(string) (string, bool)

	mu   sync.RWMutex
	file Settings
}

// New returns a Store at path holding Defaults without reading the file
func New(path string) *Store {
	return &Store{path: path, lookup: os.LookupEnv, file: Defaults()}
}

// Open loads settings from path, starting from Defaults when the file does
// not exist yet. A file that fails Validate is rejected with ErrInvalid.
func Open(path string) (*Store, error) {
	s := New(path)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &s.file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := s.file.Validate(); err != nil {
			return nil, fmt.Errorf("%w in %s: %w", ErrInvalid, path, err)
		}
	}
	return s, nil
}

// Path returns the settings file location
func (s *Store) Path() string {
	return s.path
}

// Get returns the effective settings: file values with environment
// overrides applied.
func (s *Store) Get() Settings {
	s.mu.RLock()
	out := s.file
	s.mu.RUnlock()

	s.applyEnv(&out)
	return out
}

// Update applies fn to the persisted settings, validates and saves them
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.file
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.file = next
	return nil
}

// Set updates one setting by its file key
func (s *Store) Set(key, value string) error {
	var probe Settings
	str, flag := field(&probe, key)
	if str == nil && flag == nil {
		return fmt.Errorf("unknown setting %q", key)
	}

	var b bool
	if flag != nil {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		b = parsed
	}

	return s.Update(func(c *Settings) {
		str, flag := field(c, key)
		if str != nil {
			*str = value
			return
		}
		*flag = b
	})
}

// field returns the string or bool field behind a file key
func field(c *Settings, key string) (*string, *bool) {
	switch key {
	case "localUrl":
		return &c.LocalURL, nil
	case "cloudUrl":
		return &c.CloudURL, nil
	case "authToken":
		return &c.AuthToken, nil
	case "engine":
		return &c.Engine, nil
	case "accountUrl":
		return &c.AccountURL, nil
	case "hostUrl":
		return &c.HostURL, nil
	case "hostCookie":
		return &c.HostCookie, nil
	case "hashStore":
		return &c.HashStore, nil
	case "useCloud":
		return nil, &c.UseCloud
	case "autoFallback":
		return nil, &c.AutoFallback
	}
	return nil, nil
}

// Reset restores and saves the defaults
func (s *Store) Reset() error {
	return s.Update(func(c *Settings) { *c = Defaults() })
}

func (s *Store) write(v Settings) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	// The file may hold a token.
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *Store) applyEnv(c *Settings) {
	str := map[string]*string{
		"TEXBRIDGE_LOCAL_URL":   &c.LocalURL,
		"TEXBRIDGE_CLOUD_URL":   &c.CloudURL,
		"TEXBRIDGE_AUTH_TOKEN":  &c.AuthToken,
		"TEXBRIDGE_ENGINE":      &c.Engine,
		"TEXBRIDGE_ACCOUNT_URL": &c.AccountURL,
		"TEXBRIDGE_HOST_URL":    &c.HostURL,
		"TEXBRIDGE_HOST_COOKIE": &c.HostCookie,
		"TEXBRIDGE_HASH_STORE":  &c.HashStore,
	}
	for name, dst := range str {
		if v, ok := s.lookup(name); ok && v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"TEXBRIDGE_USE_CLOUD":     &c.UseCloud,
		"TEXBRIDGE_AUTO_FALLBACK": &c.AutoFallback,
	}
	for name, dst := range flags {
		if v, ok := s.lookup(name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
}
