package domain

import "time"

// Credential is an upstream API token with its validity window.
// Credentials are replaced, never mutated: an old credential stays usable
// for in-flight calls until its expiry.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Source    string
}

// Valid reports whether the credential exists and has not expired at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// Remaining returns the validity left at now. Negative when expired.
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}
