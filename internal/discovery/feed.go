package discovery

import (
	"encoding/xml"
	"strings"
	"time"
)

type feedEntry struct {
	url         string
	title       string
	summary     string
	publishedAt time.Time
}

type rssDocument struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomDocument struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

// parseFeed decodes an RSS or Atom payload into flat entries. A
// zero publishedAt marks an undated entry.
func parseFeed(raw []byte) []feedEntry {
	var rss rssDocument
	if err := xml.Unmarshal(raw, &rss); err == nil && len(rss.Items) > 0 {
		entries := make([]feedEntry, 0, len(rss.Items))
		for _, item := range rss.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" {
				continue
			}
			entries = append(entries, feedEntry{
				url:         link,
				title:       strings.TrimSpace(item.Title),
				summary:     strings.TrimSpace(item.Description),
				publishedAt: parseFeedTime(item.PubDate),
			})
		}
		return entries
	}

	var atom atomDocument
	if err := xml.Unmarshal(raw, &atom); err != nil {
		return nil
	}
	entries := make([]feedEntry, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		link := atomEntryLink(entry.Links)
		if link == "" {
			continue
		}
		published := entry.Published
		if strings.TrimSpace(published) == "" {
			published = entry.Updated
		}
		entries = append(entries, feedEntry{
			url:         link,
			title:       strings.TrimSpace(entry.Title),
			summary:     strings.TrimSpace(entry.Summary),
			publishedAt: parseFeedTime(published),
		})
	}
	return entries
}

func atomEntryLink(links []atomLink) string {
	for _, link := range links {
		if href := strings.TrimSpace(link.Href); href != "" {
			return href
		}
	}
	for _, link := range links {
		if text := strings.TrimSpace(link.Text); text != "" {
			return text
		}
	}
	return ""
}

var feedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// parseFeedTime accepts the ISO-8601 and RFC-822 shapes feeds use in
// the wild. Naive timestamps are assumed UTC; unparseable input maps
// to the zero time.
func parseFeedTime(value string) time.Time {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}
	}
	for _, layout := range feedTimeLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
