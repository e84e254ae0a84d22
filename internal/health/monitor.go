// Package health probes compile servers for liveness and supported engines.
package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// DefaultTimeout bounds a single probe
const DefaultTimeout = 3 * time.Second

// Result is what one probe learned about a server
type Result struct {
	Online       bool
	Capabilities []string
}

// Prober checks one server. Implementations never fail: any error or
// timeout is reported as offline.
type Prober interface {
	Probe(ctx context.Context, baseURL, authToken string) Result
}

// Monitor probes GET /status over HTTP
type Monitor struct {
	client  *http.Client
	timeout time.Duration
}

func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (m *Monitor) Probe(ctx context.Context, baseURL, authToken string) Result {
	if baseURL == "" {
		return Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return Result{}
	}
	req.Header.Set("Accept", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}
	}

	var status models.StatusResponse
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}
	}
	if err := json.Unmarshal(data, &status); err != nil {
		// A 200 from /status is enough to call the server alive.
		return Result{Online: true}
	}
	return Result{Online: true, Capabilities: status.Engines}
}
