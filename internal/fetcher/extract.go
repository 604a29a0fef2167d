package fetcher

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// Extractor pulls main content out of a decoded HTML page.
type Extractor interface {
	Extract(html string) (string, error)
}

// MarkdownExtractor converts HTML to markdown-flavoured plain text,
// dropping markup and boilerplate tags along the way.
type MarkdownExtractor struct {
	conv *converter.Converter
}

// NewMarkdownExtractor builds the default extraction strategy.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Extract implements Extractor.
func (e *MarkdownExtractor) Extract(html string) (string, error) {
	result, err := e.conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// stripTags is the last-resort extraction fallback: raw text with the
// markup removed.
func stripTags(html string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(html, " "))
}
