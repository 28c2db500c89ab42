package retrieval

import "sort"

const (
	rrfK = 60

	// The first two lists carry the original query's BM25 and vector
	// results and count double.
	primaryLists = 2
)

// Tuning carries the fusion weights and pipeline caps. The zero value
// is not usable; start from DefaultTuning.
type Tuning struct {
	// RerankDocLimit bounds how many fused candidates reach reranking;
	// RerankChunksPerDoc bounds chunks per candidate.
	RerankDocLimit     int
	RerankChunksPerDoc int

	// PrimaryWeight multiplies the first two input lists during fusion.
	// Top-ranked documents get additive bonuses by best input rank.
	PrimaryWeight float64
	RankBonusTop  float64
	RankBonusHigh float64
}

// DefaultTuning returns the tuned defaults.
func DefaultTuning() Tuning {
	return Tuning{
		RerankDocLimit:     40,
		RerankChunksPerDoc: 3,
		PrimaryWeight:      2.0,
		RankBonusTop:       0.05,
		RankBonusHigh:      0.02,
	}
}

// normalize fills unset fields from the defaults.
func (t Tuning) normalize() Tuning {
	def := DefaultTuning()
	if t.RerankDocLimit <= 0 {
		t.RerankDocLimit = def.RerankDocLimit
	}
	if t.RerankChunksPerDoc <= 0 {
		t.RerankChunksPerDoc = def.RerankChunksPerDoc
	}
	if t.PrimaryWeight <= 0 {
		t.PrimaryWeight = def.PrimaryWeight
	}
	return t
}

// fused is one document after reciprocal-rank fusion. Rank is the
// 1-based position in the fused ordering.
type fused struct {
	Key      string
	Score    float64
	BestRank int
	Rank     int
}

// fuse combines ranked key lists with RRF (k=60). Lists 0 and 1 carry
// the tuning's primary weight, the rest 1.0. Documents that ranked
// near the top of any input list get a small additive bonus. Ties
// break by first appearance across the input lists, keeping fusion
// deterministic.
func fuse(lists [][]string, t Tuning) []fused {
	scores := make(map[string]float64)
	best := make(map[string]int)
	order := make(map[string]int)
	next := 0

	for li, list := range lists {
		weight := 1.0
		if li < primaryLists {
			weight = t.PrimaryWeight
		}
		for rank, key := range list {
			scores[key] += weight / float64(rrfK+rank+1)
			if r, ok := best[key]; !ok || rank < r {
				best[key] = rank
			}
			if _, ok := order[key]; !ok {
				order[key] = next
				next++
			}
		}
	}

	for key, rank := range best {
		switch {
		case rank == 0:
			scores[key] += t.RankBonusTop
		case rank <= 2:
			scores[key] += t.RankBonusHigh
		}
	}

	out := make([]fused, 0, len(scores))
	for key, score := range scores {
		out = append(out, fused{Key: key, Score: score, BestRank: best[key]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return order[out[i].Key] < order[out[j].Key]
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// blendWeight picks how much the RRF position outweighs the rerank
// score, by fused rank.
func blendWeight(rrfRank int) float64 {
	switch {
	case rrfRank <= 3:
		return 0.75
	case rrfRank <= 10:
		return 0.60
	default:
		return 0.40
	}
}

// blend combines the RRF position with a rerank score.
func blend(rrfRank int, rerankScore float64) float64 {
	w := blendWeight(rrfRank)
	return w*(1.0/float64(rrfRank)) + (1.0-w)*rerankScore
}
