package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagparse"
)

// Record is one cached tag list for a single source URL. Records are replaced
// wholesale on rewrite, never partially updated.
type Record struct {
	Key       string
	Tags      []tagparse.Tag
	Timestamp int64 // unix milliseconds at write time
	SizeBytes int64 // serialized size of Tags; reporting only, never used for eviction
}

// Meta is the sweep's view of a record: just enough to order and evict.
type Meta struct {
	Key       string
	Timestamp int64
	SizeBytes int64
}

func newRecord(key string, tags []tagparse.Tag, now time.Time) (*Record, error) {
	raw, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	return &Record{
		Key:       key,
		Tags:      tags,
		Timestamp: now.UnixMilli(),
		SizeBytes: int64(len(raw)),
	}, nil
}

func encodeTags(tags []tagparse.Tag) (string, error) {
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]tagparse.Tag, error) {
	var tags []tagparse.Tag
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
