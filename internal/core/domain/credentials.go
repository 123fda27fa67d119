package domain

import "time"

// Token is a bearer credential for one user and provider.
type Token struct {
	// AccessToken is the bearer token.
	AccessToken string

	// ExpiresAt is when the token expires. Zero means it does not expire.
	ExpiresAt time.Time
}

// Valid reports whether the token can be used for at least the given margin.
func (t *Token) Valid(margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(margin).Before(t.ExpiresAt)
}
