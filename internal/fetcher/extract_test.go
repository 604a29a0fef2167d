package fetcher

import (
	"net/http"
	"strings"
	"testing"
)

func TestMarkdownExtractor(t *testing.T) {
	t.Parallel()

	extractor := NewMarkdownExtractor()
	got, err := extractor.Extract("<html><body><h1>Titre</h1><p>Un paragraphe.</p></body></html>")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if !strings.Contains(got, "Titre") || !strings.Contains(got, "Un paragraphe.") {
		t.Fatalf("Extract() = %q, want title and paragraph text", got)
	}
	if strings.Contains(got, "<p>") {
		t.Fatalf("Extract() left markup in place: %q", got)
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	got := stripTags("<div><p>Hello</p> <span>world</span></div>")
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("stripTags() = %q, lost text content", got)
	}
	if strings.ContainsAny(got, "<>") {
		t.Fatalf("stripTags() left markup: %q", got)
	}
}

func TestDetectLicence(t *testing.T) {
	t.Parallel()

	t.Run("header wins", func(t *testing.T) {
		t.Parallel()
		headers := http.Header{}
		headers.Set("License", "CC-BY-4.0")
		if got := DetectLicence(headers, "mit license text"); got != "CC-BY-4.0" {
			t.Fatalf("DetectLicence() = %q, want header value", got)
		}
	})

	t.Run("body phrases", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			content string
			want    string
		}{
			{"Released under the MIT License.", "MIT License"},
			{"Licensed under the Apache License, Version 2.0", "Apache License"},
			{"This work is Creative Commons licensed", "Creative Commons"},
			{"Distributed under the GPL", "GNU General Public License"},
			{"All rights reserved", ""},
		}
		for _, tc := range cases {
			if got := DetectLicence(http.Header{}, tc.content); got != tc.want {
				t.Fatalf("DetectLicence(%q) = %q, want %q", tc.content, got, tc.want)
			}
		}
	})
}
