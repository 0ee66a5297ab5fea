// Package cache implements the persistent tag cache: a key-addressed,
// size-bounded, time-expiring store for compressed tagger responses, built
// on an embedded libsql database.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/config"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagparse"
)

// TagCache is the public cache surface. Every method degrades storage faults
// to its safe default (miss, no-op, zero stats) and logs them; a broken cache
// must never break the caller, it only makes things slower.
type TagCache struct {
	store  *Store
	policy Policy
	log    zerolog.Logger
	now    func() time.Time
	bg     conc.WaitGroup
}

// New wires a TagCache over an already-open database handle.
func New(database *sql.DB, cfg config.CacheConfig, logger zerolog.Logger) *TagCache {
	return &TagCache{
		store: NewStore(database, cfg.SchemaVersion, logger),
		policy: Policy{
			ExpiryWindow: cfg.ExpiryWindow,
			MaxEntries:   cfg.MaxEntries,
		},
		log: logger.With().Str("component", "cache").Logger(),
		now: time.Now,
	}
}

// Get returns the cached tags for url, or nil on a miss. A record past the
// expiry window is treated as absent and removed on the way out.
func (c *TagCache) Get(ctx context.Context, url string) []tagparse.Tag {
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, treating get as miss")
		return nil
	}

	key := DeriveKey(url)
	rec, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		return nil
	}

	if c.expired(rec.Timestamp) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to drop expired record")
		}
		return nil
	}
	return rec.Tags
}

// expired reports whether a record written at ts is past the expiry window.
// Same boundary as Policy.Victims: a record aged exactly the window survives.
func (c *TagCache) expired(ts int64) bool {
	return c.policy.ExpiryWindow > 0 && ts < c.now().Add(-c.policy.ExpiryWindow).UnixMilli()
}

// Set compresses rawHTML and stores the result under url's key with the
// current timestamp. A response yielding no tags is a no-op, not a stored
// record. Set returns once the record is durably written; the eviction sweep
// runs in the background.
func (c *TagCache) Set(ctx context.Context, url, rawHTML string) {
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, skipping write")
		return
	}

	tags, err := tagparse.Compress(rawHTML)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("tagger response did not parse, nothing to cache")
		return
	}
	if len(tags) == 0 {
		c.log.Debug().Str("url", url).Msg("no tags extracted, skipping cache write")
		return
	}

	rec, err := newRecord(DeriveKey(url), tags, c.now())
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("failed to build cache record")
		return
	}
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.Warn().Err(err).Str("key", rec.Key).Msg("cache write failed")
		return
	}

	// Fire-and-forget: the write above is already visible, the sweep only
	// restores the capacity bound.
	c.bg.Go(func() {
		c.Sweep(context.Background())
	})
}

// Delete removes the record for url if present. Idempotent.
func (c *TagCache) Delete(ctx context.Context, url string) {
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, skipping delete")
		return
	}
	key := DeriveKey(url)
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

// Clear removes all cached records.
func (c *TagCache) Clear(ctx context.Context) {
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, skipping clear")
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache clear failed")
	}
}

// Sweep applies the eviction rules to the whole record set: expired records
// anywhere in the set, plus oldest-first trimming when over capacity. Both
// rules are evaluated against one snapshot. Deletion failures are logged and
// skipped; the sweep never errors out visibly.
func (c *TagCache) Sweep(ctx context.Context) {
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, skipping sweep")
		return
	}

	cur, err := c.store.OldestFirst(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("sweep scan failed")
		return
	}

	var metas []Meta
	for cur.Next() {
		rec := cur.Record()
		metas = append(metas, Meta{Key: rec.Key, Timestamp: rec.Timestamp, SizeBytes: rec.SizeBytes})
	}
	scanErr := cur.Err()
	cur.Close()
	if scanErr != nil {
		c.log.Warn().Err(scanErr).Msg("sweep scan failed, skipping this pass")
		return
	}

	victims := c.policy.Victims(metas, c.now())
	for _, key := range victims {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("sweep delete failed, skipping")
		}
	}
	if len(victims) > 0 {
		c.log.Debug().Int("evicted", len(victims)).Int("scanned", len(metas)).Msg("sweep complete")
	}
}

// Stats reports entry count, total payload size, and the age of the oldest
// record, computed by a full scan.
func (c *TagCache) Stats(ctx context.Context) Stats {
	var st Stats
	if err := c.store.Init(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache unavailable, returning empty stats")
		return st
	}

	cur, err := c.store.OldestFirst(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("stats scan failed")
		return st
	}
	defer cur.Close()

	var totalBytes int64
	var oldest int64
	for cur.Next() {
		rec := cur.Record()
		if st.Entries == 0 {
			oldest = rec.Timestamp
		}
		st.Entries++
		totalBytes += rec.SizeBytes
	}
	if err := cur.Err(); err != nil {
		c.log.Warn().Err(err).Msg("stats scan incomplete")
	}

	st.TotalSizeKB = float64(totalBytes) / 1024
	if st.Entries > 0 {
		st.OldestEntryAge = time.Duration(c.now().UnixMilli()-oldest) * time.Millisecond
	}
	return st
}

// Wait blocks until all background sweeps have finished. Intended for
// shutdown and tests.
func (c *TagCache) Wait() {
	c.bg.Wait()
}
