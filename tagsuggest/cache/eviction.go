package cache

import "time"

// Policy bounds the cache in time and count. Both rules run against the same
// pre-sweep snapshot in a single pass.
type Policy struct {
	ExpiryWindow time.Duration // max record age; 0 disables expiry
	MaxEntries   int           // capacity bound; 0 disables trimming
}

// Victims computes the keys to delete from one oldest-first snapshot:
// every record whose age exceeds the expiry window, plus however many of the
// oldest records it takes to get back under MaxEntries. The two criteria are
// a union, not a priority order; each key is reported at most once.
func (p Policy) Victims(metas []Meta, now time.Time) []string {
	overflow := 0
	if p.MaxEntries > 0 && len(metas) > p.MaxEntries {
		overflow = len(metas) - p.MaxEntries
	}
	cutoff := now.Add(-p.ExpiryWindow).UnixMilli()

	seen := make(map[string]struct{}, overflow)
	var victims []string
	for i, m := range metas {
		expired := p.ExpiryWindow > 0 && m.Timestamp < cutoff
		if !expired && i >= overflow {
			continue
		}
		if _, dup := seen[m.Key]; dup {
			continue
		}
		seen[m.Key] = struct{}{}
		victims = append(victims, m.Key)
	}
	return victims
}
