package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/shehryarbajwa/texbridge/internal/agent"
	"github.com/shehryarbajwa/texbridge/internal/delta"
	"github.com/shehryarbajwa/texbridge/internal/dispatch"
	"github.com/shehryarbajwa/texbridge/internal/extract"
	"github.com/shehryarbajwa/texbridge/internal/hashstore"
	"github.com/shehryarbajwa/texbridge/internal/health"
	"github.com/shehryarbajwa/texbridge/internal/selector"
	"github.com/shehryarbajwa/texbridge/internal/settings"
	"github.com/shehryarbajwa/texbridge/internal/transport"
)

// app holds what the client commands share. close releases the hash store
// and channel.
type app struct {
	settings  *settings.Store
	store     hashstore.Store
	dir       string
	projectID string
	closers   []func() error
}

func settingsPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return settings.DefaultPath()
}

func openSettings() (*settings.Store, error) {
	path, err := settingsPath()
	if err != nil {
		return nil, err
	}
	return settings.Open(path)
}

func newApp() (*app, error) {
	st, err := openSettings()
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(flagDir)
	if err != nil {
		return nil, err
	}
	a := &app{settings: st, dir: dir, projectID: projectIDFor(flagProject, dir)}

	store, closeStore, err := openHashStore(st.Get().HashStore)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// projectIDFor returns the explicit id or one derived from the directory
func projectIDFor(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	sum := sha256.Sum256([]byte(dir))
	return "dir-" + hex.EncodeToString(sum[:])[:12]
}

func stateDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "texbridge"), nil
}

func openHashStore(kind string) (hashstore.Store, func() error, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case "sqlite":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
		s, err := hashstore.OpenSQLite(filepath.Join(dir, "hashes.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "file", "":
		s, err := hashstore.NewFileStore(filepath.Join(dir, "hashes"))
		return s, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown hash store %q, want file or sqlite", kind)
	}
}

// channelURL turns an agent base URL into its websocket channel endpoint
func channelURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid agent URL: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid agent URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid agent URL %q", raw)
	}
	if !strings.HasSuffix(u.Path, "/v1/channel") {
		u.Path += "/v1/channel"
	}
	return u.String(), nil
}

// dispatcher wires the client pipeline. exclude lists root-relative paths
// the tree walk skips, such as the PDF the command writes.
func (a *app) dispatcher(ctx context.Context, exclude []string) (*dispatch.Dispatcher, error) {
	cfg := a.settings.Get()

	var channel transport.Channel
	if flagAgent != "" {
		wsURL, err := channelURL(flagAgent)
		if err != nil {
			return nil, err
		}
		ws, err := transport.DialWS(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to reach agent: %w", err)
		}
		a.closers = append(a.closers, ws.Close)
		channel = ws
	} else {
		channel = transport.NewLocalChannel(transport.NewReceiver(agent.New()), 0)
	}

	d := &dispatch.Dispatcher{
		Sync:     delta.NewSynchronizer(a.store),
		Selector: selector.New(health.NewMonitor(health.DefaultTimeout)),
		Sender:   transport.NewSender(channel),
		Config: func() dispatch.Config {
			s := a.settings.Get()
			return dispatch.Config{Policy: s.Policy(), Engine: s.Engine}
		},
		OnNotice: func(msg string) { fmt.Println("ℹ️ ", msg) },
	}
	if cfg.HostURL != "" {
		d.Archive = extract.NewArchiveExtractor(extract.NewHTTPSource(cfg.HostURL, cfg.HostCookie))
	} else {
		d.Tree = extract.NewTreeExtractor(extract.DirTree{Root: a.dir, Exclude: exclude})
	}
	return d, nil
}

// outputPath resolves --out against the project directory and returns it
// with its root-relative form, empty when it lies outside the project.
func outputPath(dir, out, mainFile string) (string, string) {
	if out == "" {
		base := "output"
		if mainFile != "" {
			base = strings.TrimSuffix(filepath.Base(mainFile), filepath.Ext(mainFile))
		}
		out = base + ".pdf"
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}
	rel, err := filepath.Rel(dir, out)
	if err != nil || !filepath.IsLocal(rel) {
		return out, ""
	}
	return out, filepath.ToSlash(rel)
}

func excludeList(rel string) []string {
	if rel == "" {
		return nil
	}
	return []string{rel}
}
