package discovery

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// parseSitemap extracts every <loc> value from a sitemap or sitemap
// index document, namespace ignored. Malformed XML yields nothing.
func parseSitemap(raw []byte) []string {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var urls []string
	var inLoc bool
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			inLoc = t.Name.Local == "loc"
		case xml.EndElement:
			inLoc = false
		case xml.CharData:
			if !inLoc {
				continue
			}
			if candidate := strings.TrimSpace(string(t)); candidate != "" {
				urls = append(urls, candidate)
			}
		}
	}
	return urls
}
