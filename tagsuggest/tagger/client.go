// Package tagger is the HTTP client for the remote auto-tagging service.
// Its whole contract is: send the media blob, get raw HTML text back.
package tagger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/config"
)

// Client submits media to the tagger endpoint and returns its HTML response.
type Client struct {
	endpoint  string
	threshold float64
	limit     int
	hc        *http.Client
	log       zerolog.Logger
}

// NewClient creates a tagger client. A nil httpClient gets a default client
// with the configured timeout.
func NewClient(cfg config.TaggerConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		threshold: cfg.Threshold,
		limit:     cfg.Limit,
		hc:        httpClient,
		log:       logger.With().Str("component", "tagger").Logger(),
	}
}

// TagMedia posts the media blob as a multipart form and returns the raw HTML
// body. The response is opaque here; tagparse.Compress turns it into records.
func (c *Client) TagMedia(ctx context.Context, filename string, media io.Reader) (string, error) {
	reqID := uuid.NewString()
	start := time.Now()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return "", fmt.Errorf("copy media into request: %w", err)
	}
	if err := w.WriteField("format", "html"); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := w.WriteField("threshold", strconv.FormatFloat(c.threshold, 'f', -1, 64)); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := w.WriteField("limit", strconv.Itoa(c.limit)); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build tagger request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("tagger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tagger returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tagger response: %w", err)
	}

	c.log.Debug().
		Str("request_id", reqID).
		Str("filename", filename).
		Int("response_bytes", len(raw)).
		Dur("duration", time.Since(start)).
		Msg("tagger request complete")

	return string(raw), nil
}
