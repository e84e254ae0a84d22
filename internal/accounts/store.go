// Package accounts is an in-memory entitlement backend seeded from YAML.
// It backs GET /user/me and POST /compile/authorize on the compile server.
package accounts

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrExhausted      = errors.New("compile quota exhausted")
)

// Plans
const (
	PlanFree      = "free"
	PlanCredits   = "credits"
	PlanUnlimited = "unlimited"
)

// Account is one seeded user
type Account struct {
	Email      string `yaml:"email"`
	Token      string `yaml:"token"`
	Plan       string `yaml:"plan"`
	DailyLimit int    `yaml:"dailyLimit"`
	Credits    int    `yaml:"credits"`

	used int
	day  string
}

type seedFile struct {
	Accounts []Account `yaml:"accounts"`
}

// Store holds accounts by bearer token
type Store struct {
	mu       sync.Mutex
	accounts map[string]*Account
	now      func() time.Time
}

func NewStore(accounts []Account) *Store {
	s := &Store{accounts: make(map[string]*Account), now: time.Now}
	for i := range accounts {
		a := accounts[i]
		if a.Plan == "" {
			a.Plan = PlanFree
		}
		s.accounts[a.Token] = &a
	}
	return s
}

// Load reads a seed file of the form {accounts: [{email, token, plan, ...}]}
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	for _, a := range seed.Accounts {
		if a.Token == "" {
			return nil, fmt.Errorf("account %q has no token", a.Email)
		}
	}
	return NewStore(seed.Accounts), nil
}

// Len returns the number of accounts
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// Lookup returns the user view for a token
func (s *Store) Lookup(token string) (models.UserResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[token]
	if !ok || token == "" {
		return models.UserResponse{}, ErrUnknownAccount
	}
	s.rollover(a)
	return models.UserResponse{Email: a.Email, Subscription: s.subscription(a)}, nil
}

// Authorize consumes one compile from the account and returns what is left.
// Unlimited plans report -1 remaining.
func (s *Store) Authorize(token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[token]
	if !ok || token == "" {
		return 0, ErrUnknownAccount
	}
	s.rollover(a)

	switch a.Plan {
	case PlanUnlimited:
		return -1, nil
	case PlanCredits:
		if a.Credits <= 0 {
			return 0, ErrExhausted
		}
		a.Credits--
		return a.Credits, nil
	default:
		if a.used >= a.DailyLimit {
			return 0, ErrExhausted
		}
		a.used++
		return a.DailyLimit - a.used, nil
	}
}

// rollover resets the daily counter when the UTC day changes
func (s *Store) rollover(a *Account) {
	today := s.now().UTC().Format("2006-01-02")
	if a.day != today {
		a.day = today
		a.used = 0
	}
}

func (s *Store) subscription(a *Account) models.Subscription {
	sub := models.Subscription{Plan: a.Plan}
	switch a.Plan {
	case PlanUnlimited:
	case PlanCredits:
		credits := a.Credits
		sub.Credits = &credits
	default:
		remaining := a.DailyLimit - a.used
		sub.DailyLimit = a.DailyLimit
		sub.DailyRemaining = &remaining
	}
	return sub
}
