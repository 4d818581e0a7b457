package cache

import "time"

// entry is one key in the memory backend: a string value or a list.
//
// Zero value of ExpiresAt means "no expiration".
type entry struct {
	Value     string
	List      []string
	IsList    bool
	ExpiresAt time.Time
}

// IsExpired checks whether the entry is expired at the given time.
func (e entry) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}
