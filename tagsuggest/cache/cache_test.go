package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/config"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagparse"
)

const taggedResponse = `
<table><tbody>
  <tr><td><a href="/tags/long_hair">long  hair</a></td><td>92%</td></tr>
  <tr><td><a href="/tags/blue_eyes">blue eyes</a></td><td>87%</td></tr>
  <tr><td><a href="/tags/smile">smile</a></td><td>54%</td></tr>
</tbody></table>`

func createTestCache(t *testing.T, cfg config.CacheConfig) *TagCache {
	t.Helper()
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 2
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 5000
	}
	c := New(createTestDB(t), cfg, zerolog.Nop())
	t.Cleanup(c.Wait)
	return c
}

func TestCacheFreshRecordSurvives(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: 7 * 24 * time.Hour})
	ctx := context.Background()
	url := "https://booru.example/posts/1/file.png"

	c.Set(ctx, url, taggedResponse)
	c.Wait()

	tags := c.Get(ctx, url)
	require.NotNil(t, tags)
	assert.Equal(t, []tagparse.Tag{
		{Name: "long_hair", Confidence: "92%"},
		{Name: "blue_eyes", Confidence: "87%"},
		{Name: "smile", Confidence: "54%"},
	}, tags, "tags must come back unchanged, in relevance order")
}

func TestCacheMissReturnsNil(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})

	assert.Nil(t, c.Get(context.Background(), "https://booru.example/posts/404/file.png"))
}

func TestCacheExpiredRecordRemovedOnGet(t *testing.T) {
	window := time.Hour
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: window})
	ctx := context.Background()
	url := "https://booru.example/posts/2/file.png"
	key := DeriveKey(url)

	// Backdate a record just past the expiry window.
	require.NoError(t, c.store.Init(ctx))
	rec, err := newRecord(key, sampleTags(), time.Now().Add(-(window + time.Millisecond)))
	require.NoError(t, err)
	require.NoError(t, c.store.Put(ctx, rec))

	assert.Nil(t, c.Get(ctx, url), "expired record must read as a miss")

	// And the read must have removed it.
	_, err = c.store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheRecordAtExpiryBoundarySurvives(t *testing.T) {
	window := time.Hour
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: window})
	ctx := context.Background()
	url := "https://booru.example/posts/8/file.png"

	// Pin the clock so the read happens at exactly record age == window.
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.store.Init(ctx))
	rec, err := newRecord(DeriveKey(url), sampleTags(), now.Add(-window))
	require.NoError(t, err)
	require.NoError(t, c.store.Put(ctx, rec))

	// The read path uses the same boundary as the sweep: exactly at the
	// window is not yet expired.
	assert.NotNil(t, c.Get(ctx, url))
	assert.Empty(t, c.policy.Victims([]Meta{{Key: rec.Key, Timestamp: rec.Timestamp}}, now))
}

func TestCacheDegradesToMissOnBrokenStorage(t *testing.T) {
	database := createTestDB(t)
	c := New(database, config.CacheConfig{
		ExpiryWindow:  time.Hour,
		MaxEntries:    100,
		SchemaVersion: 2,
	}, zerolog.Nop())
	t.Cleanup(c.Wait)

	// Close the handle before first use so initialization cannot succeed.
	require.NoError(t, database.Close())

	ctx := context.Background()
	url := "https://booru.example/posts/9/file.png"

	assert.Nil(t, c.Get(ctx, url))
	c.Set(ctx, url, taggedResponse)
	c.Wait()
	c.Delete(ctx, url)
	c.Clear(ctx)
	c.Sweep(ctx)

	st := c.Stats(ctx)
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.TotalSizeKB)
	assert.Zero(t, st.OldestEntryAge)

	// The failed initialization is sticky: later calls share the same
	// outcome instead of retrying the open.
	assert.ErrorIs(t, c.store.Init(ctx), ErrUnavailable)
	assert.Nil(t, c.Get(ctx, url))
}

func TestCacheSetWithNoTagsIsNoOp(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})
	ctx := context.Background()
	url := "https://booru.example/posts/3/file.png"

	c.Set(ctx, url, "<div>no rows at all</div>")
	c.Wait()

	assert.Nil(t, c.Get(ctx, url))
	_, err := c.store.Get(ctx, DeriveKey(url))
	assert.ErrorIs(t, err, ErrNotFound, "a zero-tag set must not persist a record")
}

func TestCacheSetReplacesWithNewTimestamp(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})
	ctx := context.Background()
	url := "https://booru.example/posts/4/file.png"
	key := DeriveKey(url)

	c.Set(ctx, url, taggedResponse)
	c.Wait()
	first, err := c.store.Get(ctx, key)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	c.Set(ctx, url, taggedResponse)
	c.Wait()

	second, err := c.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp, "set always stamps now")
}

func TestCacheDelete(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})
	ctx := context.Background()
	url := "https://booru.example/posts/5/file.png"

	c.Set(ctx, url, taggedResponse)
	c.Wait()
	require.NotNil(t, c.Get(ctx, url))

	c.Delete(ctx, url)
	assert.Nil(t, c.Get(ctx, url))

	// Idempotent: deleting again must not blow up.
	c.Delete(ctx, url)
}

func TestCacheClear(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})
	ctx := context.Background()

	for _, url := range []string{
		"https://booru.example/posts/6/a.png",
		"https://booru.example/posts/7/b.png",
	} {
		c.Set(ctx, url, taggedResponse)
	}
	c.Wait()

	c.Clear(ctx)
	st := c.Stats(ctx)
	assert.Zero(t, st.Entries)
}

func TestCacheSweepCapacityEviction(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: 7 * 24 * time.Hour, MaxEntries: 2})
	ctx := context.Background()
	require.NoError(t, c.store.Init(ctx))

	// A (t=0), B (t=10), C (t=20) relative to a fixed base: after the sweep,
	// A is gone, B and C remain.
	base := time.Now().Add(-time.Minute)
	urls := []string{
		"https://booru.example/posts/10/a.png",
		"https://booru.example/posts/11/b.png",
		"https://booru.example/posts/12/c.png",
	}
	for i, url := range urls {
		rec, err := newRecord(DeriveKey(url), sampleTags(), base.Add(time.Duration(i*10)*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, c.store.Put(ctx, rec))
	}

	c.Sweep(ctx)

	assert.Nil(t, c.Get(ctx, urls[0]), "oldest record must be evicted")
	assert.NotNil(t, c.Get(ctx, urls[1]))
	assert.NotNil(t, c.Get(ctx, urls[2]))
}

func TestCacheSetTriggersBackgroundSweep(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: 7 * 24 * time.Hour, MaxEntries: 2})
	ctx := context.Background()

	for _, url := range []string{
		"https://booru.example/posts/20/a.png",
		"https://booru.example/posts/21/b.png",
		"https://booru.example/posts/22/c.png",
	} {
		c.Set(ctx, url, taggedResponse)
		c.Wait()
	}

	st := c.Stats(ctx)
	assert.Equal(t, 2, st.Entries, "the post-write sweep must restore the capacity bound")
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	window := time.Hour
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: window, MaxEntries: 100})
	ctx := context.Background()
	require.NoError(t, c.store.Init(ctx))

	stale, err := newRecord("tagcache_stale", sampleTags(), time.Now().Add(-2*window))
	require.NoError(t, err)
	require.NoError(t, c.store.Put(ctx, stale))

	fresh, err := newRecord("tagcache_fresh", sampleTags(), time.Now())
	require.NoError(t, err)
	require.NoError(t, c.store.Put(ctx, fresh))

	c.Sweep(ctx)

	_, err = c.store.Get(ctx, "tagcache_stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.store.Get(ctx, "tagcache_fresh")
	assert.NoError(t, err)
}

func TestCacheStats(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: 7 * 24 * time.Hour})
	ctx := context.Background()
	require.NoError(t, c.store.Init(ctx))

	oldestAge := 48 * time.Hour
	now := time.Now()

	var wantBytes int64
	fixtures := []struct {
		key string
		age time.Duration
	}{
		{"tagcache_old", oldestAge},
		{"tagcache_mid", time.Hour},
		{"tagcache_new", 0},
	}
	for _, f := range fixtures {
		rec, err := newRecord(f.key, sampleTags(), now.Add(-f.age))
		require.NoError(t, err)
		require.NoError(t, c.store.Put(ctx, rec))
		wantBytes += rec.SizeBytes
	}

	st := c.Stats(ctx)
	assert.Equal(t, 3, st.Entries)
	assert.InDelta(t, float64(wantBytes)/1024, st.TotalSizeKB, 0.01)
	assert.InDelta(t, oldestAge.Hours()/24, st.OldestEntryAgeDays(), 0.01)
}

func TestCacheStatsEmpty(t *testing.T) {
	c := createTestCache(t, config.CacheConfig{ExpiryWindow: time.Hour})

	st := c.Stats(context.Background())
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.TotalSizeKB)
	assert.Zero(t, st.OldestEntryAge)
}
