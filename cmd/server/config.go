package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shehryarbajwa/texbridge/internal/compile"
	"github.com/shehryarbajwa/texbridge/internal/engine"
)

// config is the server's environment
type config struct {
	Port            string
	Engine          string
	BibTeX          string
	CompileTimeout  time.Duration
	AuthToken       string
	MaxRequestSize  int64
	CacheDir        string
	IsCloud         bool
	Backend         string
	TexImage        string
	RequestsPerHour int
	RateBurst       int
	AccountsFile    string
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		Port:         envOr(getenv, "PORT", "8765"),
		Engine:       envOr(getenv, "LATEX_ENGINE", compile.DefaultEngine),
		BibTeX:       envOr(getenv, "BIBTEX_CMD", compile.DefaultBibTeX),
		AuthToken:    getenv("AUTH_TOKEN"),
		CacheDir:     envOr(getenv, "CACHE_DIR", filepath.Join(os.TempDir(), "texbridge-cache")),
		IsCloud:      getenv("RAILWAY_ENVIRONMENT") != "" || getenv("RENDER") != "",
		Backend:      envOr(getenv, "ENGINE_BACKEND", "exec"),
		TexImage:     envOr(getenv, "TEX_IMAGE", engine.DefaultImage),
		AccountsFile: getenv("ACCOUNTS_FILE"),
	}

	timeout, err := envInt(getenv, "COMPILE_TIMEOUT", 300)
	if err != nil {
		return cfg, err
	}
	cfg.CompileTimeout = time.Duration(timeout) * time.Second

	maxMB, err := envInt(getenv, "MAX_REQUEST_SIZE", 50)
	if err != nil {
		return cfg, err
	}
	cfg.MaxRequestSize = int64(maxMB) << 20

	if cfg.RequestsPerHour, err = envInt(getenv, "RATE_LIMIT_PER_HOUR", 100); err != nil {
		return cfg, err
	}
	if cfg.RateBurst, err = envInt(getenv, "RATE_LIMIT_BURST", 10); err != nil {
		return cfg, err
	}

	if !engine.IsSupported(cfg.Engine) {
		return cfg, fmt.Errorf("LATEX_ENGINE %q is not one of %v", cfg.Engine, engine.Supported)
	}
	if cfg.Backend != "exec" && cfg.Backend != "docker" {
		return cfg, fmt.Errorf("ENGINE_BACKEND must be exec or docker, got %q", cfg.Backend)
	}
	return cfg, nil
}

// authToken is enforced only in cloud deployments
func (c config) authToken() string {
	if c.IsCloud {
		return c.AuthToken
	}
	return ""
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
