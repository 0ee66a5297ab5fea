// Package suggest implements the tag suggestion flow: consult the cache,
// on a miss fetch the media, submit it to the tagger, compress the response,
// and cache the result.
package suggest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/rs/zerolog"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/cache"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagger"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagparse"
)

// ErrMediaNotFound reports a media URL that resolved but holds no content.
var ErrMediaNotFound = errors.New("suggest: media not found")

// maxMediaBytes caps how much media is buffered before upload.
const maxMediaBytes = 64 << 20

// Service composes the cache, the media fetch, and the tagger client.
type Service struct {
	cache  *cache.TagCache
	tagger *tagger.Client
	hc     *http.Client
	log    zerolog.Logger
}

// NewService wires a suggestion service. A nil httpClient gets the default
// client for media downloads.
func NewService(tagCache *cache.TagCache, taggerClient *tagger.Client, httpClient *http.Client, logger zerolog.Logger) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		cache:  tagCache,
		tagger: taggerClient,
		hc:     httpClient,
		log:    logger.With().Str("component", "suggest").Logger(),
	}
}

// Suggest returns tag suggestions for the media at mediaURL. Cache hits skip
// the network entirely; misses fetch the media, run it through the tagger,
// and cache the compressed result for next time.
func (s *Service) Suggest(ctx context.Context, mediaURL string) ([]tagparse.Tag, error) {
	if tags := s.cache.Get(ctx, mediaURL); tags != nil {
		s.log.Debug().Str("url", mediaURL).Int("tags", len(tags)).Msg("cache hit")
		return tags, nil
	}

	blob, filename, err := s.fetchMedia(ctx, mediaURL)
	if err != nil {
		return nil, err
	}

	raw, err := s.tagger.TagMedia(ctx, filename, bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}

	tags, err := tagparse.Compress(raw)
	if err != nil {
		return nil, err
	}

	// Empty results are returned but not cached, so a transiently bad
	// response does not pin "no tags" for a week.
	s.cache.Set(ctx, mediaURL, raw)

	s.log.Debug().Str("url", mediaURL).Int("tags", len(tags)).Msg("tagged from remote service")
	return tags, nil
}

func (s *Service) fetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("%w: %s", ErrMediaNotFound, mediaURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d for %s", resp.StatusCode, mediaURL)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if len(blob) == 0 {
		return nil, "", fmt.Errorf("%w: empty body from %s", ErrMediaNotFound, mediaURL)
	}

	return blob, mediaFilename(mediaURL), nil
}

// mediaFilename extracts a filename for the multipart upload from the URL
// path, falling back to a fixed name when the path carries none.
func mediaFilename(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "media"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "media"
	}
	return name
}
