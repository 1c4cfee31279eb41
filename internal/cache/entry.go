package cache

import (
	"time"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// NeverExpire disables expiration.
const NeverExpire time.Duration = 0

// Entry is one cached response.
type Entry struct {
	// Key is the DOI the response was fetched for, as given by the caller.
	Key string
	// Value is the full response as received.
	Value domain.Response
	// LastAccess is the time of the last successful fetch, not of the last read.
	LastAccess time.Time
}

// expired reports whether the entry is older than expiry at now.
func (e Entry) expired(expiry time.Duration, now time.Time) bool {
	if expiry <= NeverExpire {
		return false
	}
	return now.After(e.LastAccess.Add(expiry))
}

func (e Entry) clone() Entry {
	return Entry{
		Key:        e.Key,
		Value:      *e.Value.Clone(),
		LastAccess: e.LastAccess,
	}
}
