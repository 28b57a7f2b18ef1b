package recall

import "sort"

// rankList is one candidate-generator's ordered output: index 0 is its best
// match. rrfFuse combines any number of these into a single score per id.
type rankList []int64

// rrfFuse implements Reciprocal Rank Fusion: score(id) = sum over lists
// containing id of 1/(k+rank+1). Items absent from a list simply don't
// contribute from it — RRF needs no score normalization across
// heterogeneous sources (cosine distance vs bm25 vs edge count), which is
// why it is the default over the weighted sum.
func rrfFuse(k int, lists ...rankList) map[int64]float64 {
	if k <= 0 {
		k = 60
	}
	scores := make(map[int64]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(k+rank+1)
		}
	}
	return scores
}

// sortedByScore returns ids sorted by descending score, ties broken by id
// ascending for determinism.
func sortedByScore(scores map[int64]float64) []int64 {
	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
