package cache

import "fmt"

// keyPrefix namespaces cache keys inside the shared database file.
const keyPrefix = "tagcache_"

// DeriveKey maps a media URL to a short, storage-safe cache key. The hash is
// a 32-bit rolling hash folded to its absolute value; collisions are
// tolerated, the cache is advisory. Deterministic for any input, including
// the empty string.
func DeriveKey(url string) string {
	var h int32
	for _, b := range []byte(url) {
		h = h<<5 - h + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return fmt.Sprintf("%s%d", keyPrefix, v)
}
