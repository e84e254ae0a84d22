// Package selector picks the compile server for each request, preferring
// the local server and falling back to the cloud one when allowed.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shehryarbajwa/texbridge/internal/health"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

var (
	// ErrNoServer is wrapped by every unavailability error
	ErrNoServer = errors.New("no server available")

	ErrCloudOffline = fmt.Errorf("%w: cloud server is offline", ErrNoServer)
	ErrLocalOffline = fmt.Errorf("%w: local server is offline and fallback is disabled", ErrNoServer)
	ErrAllOffline   = fmt.Errorf("%w: local and cloud servers are offline", ErrNoServer)
)

// Policy is the part of the settings that drives selection
type Policy struct {
	LocalURL     string
	CloudURL     string
	AuthToken    string
	UseCloud     bool
	AutoFallback bool
}

// Selection is the server chosen for one request. Fallback is set whenever
// cloud was chosen because local was down; Notify only on the first such
// selection after local was last seen healthy.
type Selection struct {
	Server   models.ServerDescriptor
	Fallback bool
	Notify   bool
}

// Selector evaluates Policy fresh on every call
type Selector struct {
	prober health.Prober

	mu         sync.Mutex
	inFallback bool
	OnFallback func(models.ServerDescriptor)
}

func New(prober health.Prober) *Selector {
	return &Selector{prober: prober}
}

func (s *Selector) probe(ctx context.Context, mode models.ServerMode, url, token string) models.ServerDescriptor {
	if mode == models.ModeLocal {
		token = ""
	}
	res := s.prober.Probe(ctx, url, token)
	return models.ServerDescriptor{
		URL:          url,
		Mode:         mode,
		Online:       res.Online,
		Capabilities: res.Capabilities,
		AuthToken:    token,
	}
}

// Select chooses a server for one compile request
func (s *Selector) Select(ctx context.Context, p Policy) (Selection, error) {
	if p.UseCloud && p.CloudURL != "" {
		cloud := s.probe(ctx, models.ModeCloud, p.CloudURL, p.AuthToken)
		s.setFallback(false)
		if !cloud.Online {
			return Selection{}, ErrCloudOffline
		}
		return Selection{Server: cloud}, nil
	}

	local := s.probe(ctx, models.ModeLocal, p.LocalURL, "")
	if local.Online {
		s.setFallback(false)
		return Selection{Server: local}, nil
	}

	if !p.AutoFallback || p.CloudURL == "" {
		return Selection{}, ErrLocalOffline
	}

	cloud := s.probe(ctx, models.ModeCloud, p.CloudURL, p.AuthToken)
	if !cloud.Online {
		return Selection{}, ErrAllOffline
	}

	sel := Selection{Server: cloud, Fallback: true, Notify: s.setFallback(true)}
	if sel.Notify && s.OnFallback != nil {
		s.OnFallback(cloud)
	}
	return sel, nil
}

// setFallback records the fallback state and reports whether this call
// entered it.
func (s *Selector) setFallback(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entered := active && !s.inFallback
	s.inFallback = active
	return entered
}
