// Package tagparse compresses raw HTML responses from the auto-tagging
// service into minimal structured tag records.
package tagparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tag is one suggested tag together with the confidence text reported by the
// tagging service. Confidence is kept verbatim; it is a display label, not a
// parsed number.
type Tag struct {
	Name       string `json:"name"`
	Confidence string `json:"confidence"`
}

// ErrParse reports a tagger response that could not be parsed as HTML.
var ErrParse = errors.New("tagparse: response is not parseable HTML")

// Compress reduces a raw HTML tagger response to its tag rows, discarding all
// markup. Each table row containing both a tag-name link and a separate
// confidence cell yields one Tag; rows missing either are skipped silently.
// An unparseable response yields a nil slice and a wrapped ErrParse.
func Compress(rawHTML string) ([]Tag, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	rows := doc.Find("tbody tr")
	if rows.Length() == 0 {
		rows = doc.Find("table tr")
	}

	var tags []Tag
	rows.Each(func(_ int, row *goquery.Selection) {
		link := row.Find("td a").First()
		if link.Length() == 0 {
			return
		}

		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		// The confidence cell must be distinct from the one holding the link.
		confidence := cells.Last()
		if confidence.Find("a").Length() > 0 {
			return
		}

		name := NormalizeName(link.Text())
		if name == "" {
			return
		}

		tags = append(tags, Tag{Name: name, Confidence: confidence.Text()})
	})

	return tags, nil
}

// NormalizeName trims a raw tag name and collapses internal whitespace runs
// to single underscores, the booru tag separator.
func NormalizeName(raw string) string {
	return strings.Join(strings.Fields(raw), "_")
}
