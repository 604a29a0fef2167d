package fetcher

import (
	"net/http"
	"strings"
)

var licenceHeaders = []string{"License", "X-License", "Content-License"}

// Known licence phrases matched case-insensitively against page text.
var licencePhrases = []struct {
	needle string
	name   string
}{
	{"mit license", "MIT License"},
	{"apache license", "Apache License"},
	{"creative commons", "Creative Commons"},
	{"gpl", "GNU General Public License"},
}

// DetectLicence infers a licence first from response headers, then by
// substring match against the extracted text. Empty when unknown.
func DetectLicence(headers http.Header, content string) string {
	for _, key := range licenceHeaders {
		if value := strings.TrimSpace(headers.Get(key)); value != "" {
			return value
		}
	}
	lowered := strings.ToLower(content)
	for _, phrase := range licencePhrases {
		if strings.Contains(lowered, phrase.needle) {
			return phrase.name
		}
	}
	return ""
}
