package search

import (
	"math"
	"testing"

	"github.com/kailas-cloud/repodex/internal/domain/search/result"
)

func res(id string, score float64, source result.Source) result.Result {
	return result.New(id, score, source, "content of "+id, result.Citation{
		Path:      id + ".go",
		StartLine: 1,
		EndLine:   10,
		Commit:    "deadbeef",
	})
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestFuseRRF_Formula(t *testing.T) {
	lexical := []result.Result{
		res("a", 3.2, result.Lexical),
		res("b", 2.1, result.Lexical),
	}
	vector := []result.Result{
		res("b", 0.95, result.Vector),
		res("c", 0.90, result.Vector),
	}

	fused := fuseRRF(lexical, vector, 60, DefaultWeights(), 10)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}

	// b appears in both lists: 1/(60+2) + 1/(60+1)
	wantB := 1.0/62 + 1.0/61
	if fused[0].DocID() != "b" || !almostEqual(fused[0].Score(), wantB) {
		t.Errorf("expected b first with %f, got %s %f", wantB, fused[0].DocID(), fused[0].Score())
	}

	// a: 1/(60+1), c: 1/(60+2); a outranks c
	if fused[1].DocID() != "a" || !almostEqual(fused[1].Score(), 1.0/61) {
		t.Errorf("expected a second with %f, got %s %f", 1.0/61, fused[1].DocID(), fused[1].Score())
	}
	if fused[2].DocID() != "c" || !almostEqual(fused[2].Score(), 1.0/62) {
		t.Errorf("expected c third with %f, got %s %f", 1.0/62, fused[2].DocID(), fused[2].Score())
	}

	for _, r := range fused {
		if r.Source() != result.Fused {
			t.Errorf("expected fused source for %s, got %s", r.DocID(), r.Source())
		}
	}
}

func TestFuseRRF_WeightsBiasBranches(t *testing.T) {
	lexical := []result.Result{res("lex", 5.0, result.Lexical)}
	vector := []result.Result{res("vec", 0.99, result.Vector)}

	// Same rank in each list; the weight decides the order
	fused := fuseRRF(lexical, vector, 60, Weights{Lexical: 1.2, Vector: 1.0}, 10)
	if fused[0].DocID() != "lex" {
		t.Errorf("expected lexical bias to win, got %s", fused[0].DocID())
	}

	fused = fuseRRF(lexical, vector, 60, Weights{Lexical: 0.3, Vector: 0.7}, 10)
	if fused[0].DocID() != "vec" {
		t.Errorf("expected vector bias to win, got %s", fused[0].DocID())
	}
}

func TestFuseRRF_TieBreakPrefersLexicalRank(t *testing.T) {
	// x and y swap ranks across the lists, so fused scores are identical
	lexical := []result.Result{
		res("x", 2.0, result.Lexical),
		res("y", 1.0, result.Lexical),
	}
	vector := []result.Result{
		res("y", 0.9, result.Vector),
		res("x", 0.8, result.Vector),
	}

	fused := fuseRRF(lexical, vector, 60, DefaultWeights(), 10)
	if !almostEqual(fused[0].Score(), fused[1].Score()) {
		t.Fatalf("expected a tie, got %f vs %f", fused[0].Score(), fused[1].Score())
	}
	if fused[0].DocID() != "x" {
		t.Errorf("expected the better lexical rank to break the tie, got %s", fused[0].DocID())
	}
}

func TestFuseRRF_TieBreakLexicalPresenceWins(t *testing.T) {
	// Equal contributions at rank 1 of each list; the hit the lexical
	// branch actually ranked comes first.
	lexical := []result.Result{res("b", 1.0, result.Lexical)}
	vector := []result.Result{res("a", 1.0, result.Vector)}

	fused := fuseRRF(lexical, vector, 60, DefaultWeights(), 10)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if !almostEqual(fused[0].Score(), fused[1].Score()) {
		t.Fatalf("expected a tie, got %f vs %f", fused[0].Score(), fused[1].Score())
	}
	if fused[0].DocID() != "b" {
		t.Errorf("expected the lexically ranked hit first, got %s", fused[0].DocID())
	}
}

func TestFuseRRF_TruncatesToTopN(t *testing.T) {
	var lexical []result.Result
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		lexical = append(lexical, res(id, 1.0, result.Lexical))
	}

	fused := fuseRRF(lexical, nil, 60, DefaultWeights(), 2)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if fused[0].DocID() != "a" || fused[1].DocID() != "b" {
		t.Errorf("expected top lexical ranks preserved, got %s, %s", fused[0].DocID(), fused[1].DocID())
	}
}

func TestFuseRRF_Deterministic(t *testing.T) {
	lexical := []result.Result{
		res("a", 1.0, result.Lexical), res("b", 0.9, result.Lexical), res("c", 0.8, result.Lexical),
	}
	vector := []result.Result{
		res("c", 1.0, result.Vector), res("d", 0.9, result.Vector), res("a", 0.8, result.Vector),
	}

	first := fuseRRF(lexical, vector, 60, DefaultWeights(), 10)
	for i := 0; i < 20; i++ {
		again := fuseRRF(lexical, vector, 60, DefaultWeights(), 10)
		if len(again) != len(first) {
			t.Fatalf("length changed between runs")
		}
		for k := range first {
			if first[k].DocID() != again[k].DocID() {
				t.Fatalf("ordering changed between runs at %d: %s vs %s", k, first[k].DocID(), again[k].DocID())
			}
		}
	}
}
