// Package verify enforces cross-source corroboration before ingestion.
package verify

import (
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Candidate pairs a fetched document with the digest of its extracted
// text.
type Candidate struct {
	Doc    watcher.RawDocument
	Digest string
}

// MultiSourceVerifier keeps only documents whose digest was observed on
// at least minSources distinct hostnames.
type MultiSourceVerifier struct {
	minSources int
}

// NewMultiSourceVerifier clamps minSources to the floor of 2: a single
// source can never corroborate itself.
func NewMultiSourceVerifier(minSources int) *MultiSourceVerifier {
	if minSources < 2 {
		minSources = 2
	}
	return &MultiSourceVerifier{minSources: minSources}
}

// MinSources returns the effective corroboration floor.
func (v *MultiSourceVerifier) MinSources() int {
	return v.minSources
}

// Filter groups candidates by digest and keeps the groups backed by
// enough distinct hostnames. Input order is preserved within and across
// groups.
func (v *MultiSourceVerifier) Filter(candidates []Candidate) []Candidate {
	grouped := make(map[string][]Candidate)
	var order []string
	for _, candidate := range candidates {
		if _, ok := grouped[candidate.Digest]; !ok {
			order = append(order, candidate.Digest)
		}
		grouped[candidate.Digest] = append(grouped[candidate.Digest], candidate)
	}

	var validated []Candidate
	for _, digest := range order {
		items := grouped[digest]
		domains := make(map[string]struct{}, len(items))
		for _, item := range items {
			domains[watcher.DomainFromURL(item.Doc.URL)] = struct{}{}
		}
		if len(domains) < v.minSources {
			continue
		}
		validated = append(validated, items...)
	}
	return validated
}
