package selector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shehryarbajwa/texbridge/internal/health"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

type fakeProber struct {
	mu     sync.Mutex
	online map[string]bool
	tokens map[string]string
	calls  []string
}

func (f *fakeProber) Probe(ctx context.Context, url, token string) health.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.tokens == nil {
		f.tokens = map[string]string{}
	}
	f.tokens[url] = token
	return health.Result{Online: f.online[url], Capabilities: []string{"pdflatex"}}
}

func (f *fakeProber) probed(url string) bool {
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

const (
	localURL = "http://127.0.0.1:8765"
	cloudURL = "https://cloud.example.com"
)

func TestLocalOnlineSelected(t *testing.T) {
	prober := &fakeProber{online: map[string]bool{localURL: true, cloudURL: true}}
	sel, err := New(prober).Select(context.Background(), Policy{LocalURL: localURL, CloudURL: cloudURL, AutoFallback: true, AuthToken: "tok"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Server.Mode != models.ModeLocal || sel.Fallback {
		t.Errorf("selection = %+v, want local without fallback", sel)
	}
	if prober.probed(cloudURL) {
		t.Error("cloud probed although local was online")
	}
	if prober.tokens[localURL] != "" {
		t.Error("auth token sent to local server")
	}
}

func TestFallbackNotifiesOnce(t *testing.T) {
	prober := &fakeProber{online: map[string]bool{localURL: false, cloudURL: true}}
	s := New(prober)
	notices := 0
	s.OnFallback = func(models.ServerDescriptor) { notices++ }
	policy := Policy{LocalURL: localURL, CloudURL: cloudURL, AutoFallback: true, AuthToken: "tok"}

	first, err := s.Select(context.Background(), policy)
	if err != nil {
		t.Fatalf("first Select: %v", err)
	}
	second, err := s.Select(context.Background(), policy)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}

	for i, sel := range []Selection{first, second} {
		if sel.Server.Mode != models.ModeCloud || !sel.Fallback {
			t.Errorf("selection %d = %+v, want cloud fallback", i, sel)
		}
	}
	if !first.Notify || second.Notify {
		t.Errorf("notify flags = %v, %v; want true, false", first.Notify, second.Notify)
	}
	if notices != 1 {
		t.Errorf("fallback notices = %d, want 1", notices)
	}
	if first.Server.AuthToken != "tok" {
		t.Error("cloud selection lost its auth token")
	}

	// Local comes back, then goes down again: a new notice is due.
	prober.online[localURL] = true
	if sel, _ := s.Select(context.Background(), policy); sel.Server.Mode != models.ModeLocal {
		t.Fatalf("expected local once it is back, got %+v", sel)
	}
	prober.online[localURL] = false
	if third, _ := s.Select(context.Background(), policy); !third.Notify {
		t.Error("expected a new notice after local recovered and failed again")
	}
	if notices != 2 {
		t.Errorf("fallback notices = %d, want 2", notices)
	}
}

func TestForcedCloudOfflineNeverProbesLocal(t *testing.T) {
	prober := &fakeProber{online: map[string]bool{localURL: true, cloudURL: false}}
	_, err := New(prober).Select(context.Background(), Policy{LocalURL: localURL, CloudURL: cloudURL, UseCloud: true, AutoFallback: true})
	if !errors.Is(err, ErrCloudOffline) || !errors.Is(err, ErrNoServer) {
		t.Fatalf("err = %v, want ErrCloudOffline", err)
	}
	if prober.probed(localURL) {
		t.Error("local was probed in forced cloud mode")
	}
}

func TestForcedCloudOnline(t *testing.T) {
	prober := &fakeProber{online: map[string]bool{cloudURL: true}}
	sel, err := New(prober).Select(context.Background(), Policy{LocalURL: localURL, CloudURL: cloudURL, UseCloud: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Server.Mode != models.ModeCloud || sel.Fallback {
		t.Errorf("selection = %+v, want cloud without fallback flag", sel)
	}
}

func TestUnavailabilityErrors(t *testing.T) {
	cases := []struct {
		name   string
		online map[string]bool
		policy Policy
		want   error
	}{
		{"fallback disabled", map[string]bool{cloudURL: true}, Policy{LocalURL: localURL, CloudURL: cloudURL}, ErrLocalOffline},
		{"no cloud configured", nil, Policy{LocalURL: localURL, AutoFallback: true}, ErrLocalOffline},
		{"both offline", nil, Policy{LocalURL: localURL, CloudURL: cloudURL, AutoFallback: true}, ErrAllOffline},
		{"use cloud without url", nil, Policy{LocalURL: localURL, UseCloud: true, AutoFallback: true}, ErrLocalOffline},
	}
	for _, tc := range cases {
		_, err := New(&fakeProber{online: tc.online}).Select(context.Background(), tc.policy)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}
