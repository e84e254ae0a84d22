package accounts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const seed = `accounts:
  - email: free@example.com
    token: tok-free
    plan: free
    dailyLimit: 2
  - email: credits@example.com
    token: tok-credits
    plan: credits
    credits: 1
  - email: pro@example.com
    token: tok-pro
    plan: unlimited
`

func loadSeed(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestLoad(t *testing.T) {
	s := loadSeed(t)
	if s.Len() != 3 {
		t.Errorf("Len = %d", s.Len())
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("accounts:\n  - email: x@example.com\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("account without token accepted")
	}
}

func TestDailyQuota(t *testing.T) {
	s := loadSeed(t)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for want := 1; want >= 0; want-- {
		remaining, err := s.Authorize("tok-free")
		if err != nil || remaining != want {
			t.Fatalf("Authorize = %d, %v; want %d", remaining, err, want)
		}
	}
	if _, err := s.Authorize("tok-free"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}

	user, _ := s.Lookup("tok-free")
	if user.Subscription.Authorized() {
		t.Error("exhausted subscription still authorized")
	}

	clock = clock.Add(24 * time.Hour)
	user, _ = s.Lookup("tok-free")
	if got := *user.Subscription.DailyRemaining; got != 2 {
		t.Errorf("remaining after rollover = %d", got)
	}
}

func TestCredits(t *testing.T) {
	s := loadSeed(t)
	if remaining, err := s.Authorize("tok-credits"); err != nil || remaining != 0 {
		t.Fatalf("Authorize = %d, %v", remaining, err)
	}
	if _, err := s.Authorize("tok-credits"); !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	user, _ := s.Lookup("tok-credits")
	if user.Subscription.Credits == nil || *user.Subscription.Credits != 0 {
		t.Errorf("subscription = %+v", user.Subscription)
	}
}

func TestUnlimitedAndUnknown(t *testing.T) {
	s := loadSeed(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Authorize("tok-pro"); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	user, err := s.Lookup("tok-pro")
	if err != nil || !user.Subscription.Authorized() || user.Email != "pro@example.com" {
		t.Errorf("Lookup = %+v, %v", user, err)
	}

	if _, err := s.Lookup("nope"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("Lookup err = %v", err)
	}
	if _, err := s.Lookup(""); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("Lookup empty token err = %v", err)
	}
}
