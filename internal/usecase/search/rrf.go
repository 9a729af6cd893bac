package search

import (
	"sort"

	"github.com/kailas-cloud/repodex/internal/domain/search/result"
)

// DefaultKConst is the Reciprocal Rank Fusion constant (standard value from
// Cormack et al. 2009). It dampens rank differences at the tail.
const DefaultKConst = 60

// Weights bias fusion toward exact-match (lexical) or semantic (vector) recall.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights treat both branches equally.
func DefaultWeights() Weights {
	return Weights{Lexical: 1.0, Vector: 1.0}
}

// fuseRRF merges lexical and vector rankings via Reciprocal Rank Fusion.
// score(d) = sum of weight_i/(kConst + rank_i(d)) over lists containing d,
// with 1-indexed ranks. Ties break toward the better raw lexical rank, then
// toward the lower doc ID, so the final ordering is reproducible.
func fuseRRF(lexical, vector []result.Result, kConst int, w Weights, topN int) []result.Result {
	type scored struct {
		res     result.Result
		score   float64
		lexRank int // 1-indexed; 0 when absent from the lexical list
	}

	merged := make(map[string]*scored, len(lexical)+len(vector))

	for i, r := range lexical {
		rank := i + 1
		merged[r.DocID()] = &scored{
			res:     r,
			score:   w.Lexical / float64(kConst+rank),
			lexRank: rank,
		}
	}

	for i, r := range vector {
		rank := i + 1
		contribution := w.Vector / float64(kConst+rank)
		if existing, ok := merged[r.DocID()]; ok {
			existing.score += contribution
		} else {
			merged[r.DocID()] = &scored{res: r, score: contribution}
		}
	}

	fused := make([]*scored, 0, len(merged))
	for _, s := range merged {
		fused = append(fused, s)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		// Prefer the hit the lexical branch ranked higher; absent counts last
		ar, br := a.lexRank, b.lexRank
		if ar == 0 {
			ar = len(lexical) + 1
		}
		if br == 0 {
			br = len(lexical) + 1
		}
		if ar != br {
			return ar < br
		}
		return a.res.DocID() < b.res.DocID()
	})

	if len(fused) > topN {
		fused = fused[:topN]
	}

	results := make([]result.Result, len(fused))
	for i, s := range fused {
		results[i] = s.res.WithFusedScore(s.score)
	}
	return results
}
