// Package ingest validates, normalizes and persists corroborated
// documents into the vector store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// ValidationError reports a batch rejected by ingestion rules. The
// whole batch fails as a unit so the caller can roll back.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func newValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

// Pipeline chunks incoming documents, de-duplicates by content digest
// and writes scored chunks to the vector store in a single batch.
type Pipeline struct {
	store           watcher.VectorStore
	chunkSize       int
	minSources      int
	allowedLicences map[string]struct{}
	logger          *zap.Logger
}

// NewPipeline validates its knobs up front. The corroboration floor of
// 2 and a positive chunk size are hard requirements.
func NewPipeline(store watcher.VectorStore, chunkSize, minSources int, allowedLicences []string, logger *zap.Logger) (*Pipeline, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1, got %d", chunkSize)
	}
	if minSources < 2 {
		return nil, fmt.Errorf("min sources must be at least 2, got %d", minSources)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	licences := make(map[string]struct{}, len(allowedLicences))
	for _, licence := range allowedLicences {
		licences[licence] = struct{}{}
	}
	return &Pipeline{
		store:           store,
		chunkSize:       chunkSize,
		minSources:      minSources,
		allowedLicences: licences,
		logger:          logger,
	}, nil
}

// MinSources returns the corroboration floor.
func (p *Pipeline) MinSources() int {
	return p.minSources
}

// AllowedLicence reports whether licence may be ingested.
func (p *Pipeline) AllowedLicence(licence string) bool {
	_, ok := p.allowedLicences[licence]
	return ok
}

// Store exposes the underlying vector store for transactional guards.
func (p *Pipeline) Store() watcher.VectorStore {
	return p.store
}

type chunkCandidate struct {
	text        string
	url         string
	title       string
	licence     string
	publishedAt time.Time
	language    string
	digest      string
}

// Ingest writes unique corroborated chunks to the store and returns how
// many were persisted. seen carries digests already ingested in earlier
// runs; it is updated in place. A *ValidationError means the batch was
// rejected and nothing was written.
func (p *Pipeline) Ingest(ctx context.Context, documents []watcher.RawDocument, seen map[string]struct{}) (int, error) {
	if len(documents) == 0 {
		return 0, newValidationError("aucun document fourni pour ingestion")
	}

	candidates := p.prepareCandidates(documents)
	if len(candidates) == 0 {
		return 0, newValidationError("aucun extrait valide après normalisation")
	}

	grouped := make(map[string][]chunkCandidate)
	var order []string
	for _, candidate := range candidates {
		if !p.AllowedLicence(candidate.licence) {
			continue
		}
		if _, ok := grouped[candidate.digest]; !ok {
			order = append(order, candidate.digest)
		}
		grouped[candidate.digest] = append(grouped[candidate.digest], candidate)
	}

	if seen == nil {
		seen = make(map[string]struct{})
	}

	var texts []string
	var metas []map[string]any
	for _, digest := range order {
		items := grouped[digest]
		sources := make(map[string]struct{}, len(items))
		for _, item := range items {
			sources[item.url] = struct{}{}
		}
		if len(sources) < p.minSources {
			continue
		}
		if _, dup := seen[digest]; dup {
			continue
		}
		representative := selectRepresentative(items)
		meta := map[string]any{
			"url":     representative.url,
			"title":   representative.title,
			"licence": representative.licence,
			"hash":    digest,
			"score":   confidence(len(sources), p.minSources),
		}
		if !representative.publishedAt.IsZero() {
			meta["date"] = representative.publishedAt.UTC().Format(time.RFC3339)
		}
		texts = append(texts, representative.text)
		metas = append(metas, meta)
		seen[digest] = struct{}{}
	}

	if len(texts) == 0 {
		return 0, newValidationError("aucune source corroborée avec une licence compatible")
	}

	if err := p.store.Add(ctx, texts, metas); err != nil {
		return 0, fmt.Errorf("vector store write: %w", err)
	}
	metrics.ObserveChunksIngested(len(texts))
	p.logger.Info("chunks ingested", zap.Int("count", len(texts)))
	return len(texts), nil
}

func (p *Pipeline) prepareCandidates(documents []watcher.RawDocument) []chunkCandidate {
	var candidates []chunkCandidate
	for _, document := range documents {
		normalized := normalizeText(document.Text)
		if normalized == "" {
			continue
		}
		language := detectLanguage(normalized)
		for _, chunk := range chunkText(normalized, p.chunkSize) {
			sum := sha256.Sum256([]byte(chunk))
			candidates = append(candidates, chunkCandidate{
				text:        chunk,
				url:         document.URL,
				title:       document.Title,
				licence:     document.Licence,
				publishedAt: document.PublishedAt,
				language:    language,
				digest:      hex.EncodeToString(sum[:]),
			})
		}
	}
	return candidates
}

// selectRepresentative picks the earliest dated candidate, undated
// last, ties broken by URL.
func selectRepresentative(items []chunkCandidate) chunkCandidate {
	best := items[0]
	for _, item := range items[1:] {
		if earlier(item, best) {
			best = item
		}
	}
	return best
}

func earlier(a, b chunkCandidate) bool {
	at, bt := a.publishedAt, b.publishedAt
	switch {
	case at.IsZero() && !bt.IsZero():
		return false
	case !at.IsZero() && bt.IsZero():
		return true
	case !at.Equal(bt):
		return at.Before(bt)
	}
	return a.url < b.url
}

// confidence maps the number of corroborating sources to a score:
// 0.6 at the floor, +0.1 per extra source, capped at 1.0.
func confidence(sources, minSources int) float64 {
	score := 0.6 + float64(sources-minSources)*0.1
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*100) / 100
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return whitespacePattern.ReplaceAllString(text, " ")
}

// chunkText splits on single spaces into fixed word windows, keeping
// the trailing partial chunk.
func chunkText(text string, chunkSize int) []string {
	words := strings.Split(text, " ")
	if len(words) == 0 {
		return nil
	}
	step := chunkSize
	if step < 1 {
		step = 1
	}
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + step
		if end > len(words) {
			end = len(words)
		}
		segment := strings.TrimSpace(strings.Join(words[start:end], " "))
		if segment != "" {
			chunks = append(chunks, segment)
		}
	}
	return chunks
}

var (
	frenchMarkers  = []string{" le ", " la ", " les ", " une ", " des ", " et "}
	englishMarkers = []string{" the ", " and ", " of ", " to ", " with "}
)

// detectLanguage is a cheap marker-word heuristic. Kept as metadata
// input for future per-language routing.
func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	lowered := strings.ToLower(text)
	var fr, en int
	for _, marker := range frenchMarkers {
		if strings.Contains(lowered, marker) {
			fr++
		}
	}
	for _, marker := range englishMarkers {
		if strings.Contains(lowered, marker) {
			en++
		}
	}
	switch {
	case fr > en:
		return "fr"
	case en > fr:
		return "en"
	}
	return "unknown"
}
