package models

// Subscription describes a user's compile entitlement
type Subscription struct {
	Plan           string `json:"plan" yaml:"plan"`
	DailyLimit     int    `json:"dailyLimit,omitempty" yaml:"dailyLimit"`
	DailyRemaining *int   `json:"dailyRemaining,omitempty" yaml:"dailyRemaining"`
	Credits        *int   `json:"credits,omitempty" yaml:"credits"`
}

// Authorized reports whether the subscription still allows compiling.
// Exhausted daily quota or credits deny; an unmetered plan allows.
func (s Subscription) Authorized() bool {
	if s.DailyRemaining != nil && *s.DailyRemaining <= 0 {
		return false
	}
	if s.Credits != nil && *s.Credits <= 0 {
		return false
	}
	return true
}

// UserResponse is the body of GET /user/me
type UserResponse struct {
	Email        string       `json:"email"`
	Subscription Subscription `json:"subscription"`
}

// AuthorizeResponse is the body of POST /compile/authorize
type AuthorizeResponse struct {
	Authorized bool `json:"authorized"`
	Remaining  int  `json:"remaining"`
}
