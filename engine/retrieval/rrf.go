package retrieval

import "sort"

// DefaultRRFK is the default damping constant in Reciprocal Rank Fusion,
// per §4.10: RRF(d) = Σ 1/(k + rank_i(d)), k = 60.
const DefaultRRFK = 60

// RRF fuses any number of ranked id lists into one, scoring each id by
// Σ 1/(k + rank + 1) across every ranking it appears in (rank is
// zero-based), exactly per original_source/crates/content-base/src/
// query/rank.rs's rrf function. An id absent from a ranking contributes
// nothing for that ranking. Ties are broken by the order an id was first
// seen across the supplied rankings, left to right.
func RRF(k int, rankings ...[]string) []string {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	firstSeen := make(map[string]int)
	seq := 0
	for _, ranking := range rankings {
		for rank, id := range ranking {
			if _, ok := firstSeen[id]; !ok {
				firstSeen[id] = seq
				seq++
			}
			scores[id] += 1.0 / (float64(k) + float64(rank) + 1.0)
		}
	}

	fused := make([]string, 0, len(scores))
	for id := range scores {
		fused = append(fused, id)
	}
	sort.Slice(fused, func(i, j int) bool {
		si, sj := scores[fused[i]], scores[fused[j]]
		if si != sj {
			return si > sj
		}
		return firstSeen[fused[i]] < firstSeen[fused[j]]
	})
	return fused
}

// RRFScores exposes the per-id fused score underlying RRF's ordering, for
// callers (like the retrieval pipeline) that need the score itself and
// not just the ranking.
func RRFScores(k int, rankings ...[]string) map[string]float64 {
	if k <= 0 {
		k = DefaultRRFK
	}
	scores := make(map[string]float64)
	for _, ranking := range rankings {
		for rank, id := range ranking {
			scores[id] += 1.0 / (float64(k) + float64(rank) + 1.0)
		}
	}
	return scores
}
