package cache

import (
	"encoding/json"
	"time"
)

// Entry represents a cached completion response.
type Entry struct {
	// Response is the raw provider response body.
	Response json.RawMessage `json:"response"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the response was stored.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry that expires after ttl.
func NewEntry(response json.RawMessage, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Response: response,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
