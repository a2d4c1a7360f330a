package match

import "testing"

func TestTokenSetRatioOrderInsensitive(t *testing.T) {
	if got := TokenSetRatio("smith john", "john smith"); got != 100 {
		t.Fatalf("reordered tokens should score 100, got %d", got)
	}
	if got := TokenSetRatio("john smith", "john smith"); got != 100 {
		t.Fatalf("identical strings should score 100, got %d", got)
	}
}

func TestTokenSetRatioEmptyInputs(t *testing.T) {
	if got := TokenSetRatio("", "john smith"); got != 0 {
		t.Fatalf("empty left side should score 0, got %d", got)
	}
	if got := TokenSetRatio("john", ""); got != 0 {
		t.Fatalf("empty right side should score 0, got %d", got)
	}
}

func TestTokenSetRatioPartialOverlap(t *testing.T) {
	near := TokenSetRatio("jon smith", "john smith")
	far := TokenSetRatio("jon smith", "maria garcia")
	if near <= far {
		t.Fatalf("near match (%d) must outscore unrelated candidate (%d)", near, far)
	}
	if near < DefaultThreshold {
		t.Fatalf("typo-level variation should clear the default threshold: got %d", near)
	}
	if far >= DefaultThreshold {
		t.Fatalf("unrelated names must stay below threshold: got %d", far)
	}
}

func TestFuzzyFindResolvesTypos(t *testing.T) {
	candidates := map[string]string{
		"john smith":   "U2",
		"maria garcia": "U3",
	}
	got, ok := FuzzyFind("Jon Smith", candidates, DefaultThreshold)
	if !ok || got != "U2" {
		t.Fatalf("FuzzyFind = (%q, %v), want (U2, true)", got, ok)
	}
}

func TestFuzzyFindThresholdBoundary(t *testing.T) {
	// Derive the exact score first, then probe both sides of the cutoff.
	score := TokenSetRatio(Normalize("Jon Smith"), "john smith")
	candidates := map[string]string{"john smith": "U2"}

	if _, ok := FuzzyFind("Jon Smith", candidates, score); !ok {
		t.Fatalf("candidate scoring exactly at threshold (%d) must be accepted", score)
	}
	if _, ok := FuzzyFind("Jon Smith", candidates, score+1); ok {
		t.Fatalf("candidate scoring one below threshold (%d) must be rejected", score+1)
	}
}

func TestFuzzyFindUnrelatedNeverResolves(t *testing.T) {
	candidates := map[string]string{"maria garcia": "U3"}
	for _, threshold := range []int{50, 70, DefaultThreshold, 100} {
		if _, ok := FuzzyFind("Jon Smith", candidates, threshold); ok {
			t.Fatalf("unrelated candidate resolved at threshold %d", threshold)
		}
	}
}

func TestFuzzyFindEmptyInputs(t *testing.T) {
	if _, ok := FuzzyFind("", map[string]string{"a": "x"}, DefaultThreshold); ok {
		t.Fatalf("empty raw input must not resolve")
	}
	if _, ok := FuzzyFind("Alice", map[string]string{}, DefaultThreshold); ok {
		t.Fatalf("empty candidate map must not resolve")
	}
	// Input made of stopwords only normalizes to "" and must not resolve.
	if _, ok := FuzzyFind("Online Grupo", map[string]string{"a": "x"}, DefaultThreshold); ok {
		t.Fatalf("stopword-only input must not resolve")
	}
}

func TestFuzzyFindDeterministicTieBreak(t *testing.T) {
	// Both candidates score identically against the query; the
	// lexicographically smaller key must win every time.
	candidates := map[string]string{
		"alice smith": "first",
		"smith alice": "second",
	}
	for i := 0; i < 50; i++ {
		got, ok := FuzzyFind("Alice Smith", candidates, DefaultThreshold)
		if !ok || got != "first" {
			t.Fatalf("tie-break not deterministic: got (%q, %v)", got, ok)
		}
	}
}
