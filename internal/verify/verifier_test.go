package verify

import (
	"testing"

	"github.com/veilleur-project/veilleur/internal/watcher"
)

func candidate(url, digest string) Candidate {
	return Candidate{Doc: watcher.RawDocument{URL: url}, Digest: digest}
}

func TestNewMultiSourceVerifierClampsFloor(t *testing.T) {
	t.Parallel()

	for _, n := range []int{-1, 0, 1, 2} {
		if got := NewMultiSourceVerifier(n).MinSources(); got != 2 {
			t.Fatalf("MinSources() with %d = %d, want floor of 2", n, got)
		}
	}
	if got := NewMultiSourceVerifier(3).MinSources(); got != 3 {
		t.Fatalf("MinSources() = %d, want 3", got)
	}
}

func TestFilterRequiresDistinctHostnames(t *testing.T) {
	t.Parallel()

	verifier := NewMultiSourceVerifier(2)
	got := verifier.Filter([]Candidate{
		candidate("https://a.example/doc", "d1"),
		candidate("https://b.example/mirror", "d1"),
		candidate("https://lonely.example/only", "d2"),
	})
	if len(got) != 2 {
		t.Fatalf("Filter() kept %d candidates, want the corroborated pair", len(got))
	}
	for _, c := range got {
		if c.Digest != "d1" {
			t.Fatalf("uncorroborated digest survived: %+v", c)
		}
	}
}

func TestFilterRejectsSameHostDuplicates(t *testing.T) {
	t.Parallel()

	verifier := NewMultiSourceVerifier(2)
	got := verifier.Filter([]Candidate{
		candidate("https://a.example/one", "d1"),
		candidate("https://a.example/two", "d1"),
	})
	if len(got) != 0 {
		t.Fatalf("two URLs on the same host must not corroborate, got %v", got)
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	t.Parallel()

	verifier := NewMultiSourceVerifier(2)
	got := verifier.Filter([]Candidate{
		candidate("https://a.example/x", "late"),
		candidate("https://a.example/y", "early"),
		candidate("https://b.example/y", "early"),
		candidate("https://b.example/x", "late"),
	})
	if len(got) != 4 {
		t.Fatalf("Filter() kept %d candidates, want all 4", len(got))
	}
	wantURLs := []string{
		"https://a.example/x",
		"https://b.example/x",
		"https://a.example/y",
		"https://b.example/y",
	}
	for i, c := range got {
		if c.Doc.URL != wantURLs[i] {
			t.Fatalf("Filter()[%d] = %s, want %s (first-seen digest order)", i, c.Doc.URL, wantURLs[i])
		}
	}
}

func TestFilterHigherFloor(t *testing.T) {
	t.Parallel()

	verifier := NewMultiSourceVerifier(3)
	pair := []Candidate{
		candidate("https://a.example/doc", "d1"),
		candidate("https://b.example/doc", "d1"),
	}
	if got := verifier.Filter(pair); len(got) != 0 {
		t.Fatalf("two hosts must not satisfy a floor of 3, got %v", got)
	}
	trio := append(pair, candidate("https://c.example/doc", "d1"))
	if got := verifier.Filter(trio); len(got) != 3 {
		t.Fatalf("three hosts must satisfy a floor of 3, got %v", got)
	}
}
