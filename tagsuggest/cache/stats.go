package cache

import "time"

// Stats summarizes the cache for observability. Computed by a full scan,
// acceptable while MaxEntries stays in the low thousands.
type Stats struct {
	Entries        int
	TotalSizeKB    float64
	OldestEntryAge time.Duration
}

// OldestEntryAgeDays is a display helper for the stats output.
func (s Stats) OldestEntryAgeDays() float64 {
	return s.OldestEntryAge.Hours() / 24
}
