package retrieval

import (
	"math"
	"testing"
)

func TestFuseWeightsPrimaryLists(t *testing.T) {
	// "a" leads the primary list, "b" leads a secondary one.
	lists := [][]string{
		{"a", "b"},
		{},
		{"b", "a"},
	}
	out := fuse(lists, DefaultTuning())
	if len(out) != 2 {
		t.Fatalf("expected 2 fused docs, got %d", len(out))
	}
	if out[0].Key != "a" {
		t.Fatalf("primary list must dominate: %+v", out)
	}

	// a: 2/61 (list0 rank0) + 1/62 (list2 rank1) + 0.05 bonus
	wantA := 2.0/61.0 + 1.0/62.0 + 0.05
	if math.Abs(out[0].Score-wantA) > 1e-12 {
		t.Fatalf("score a = %v, want %v", out[0].Score, wantA)
	}
	// b: 2/62 + 1/61 + 0.05 (rank 0 in list2)
	wantB := 2.0/62.0 + 1.0/61.0 + 0.05
	if math.Abs(out[1].Score-wantB) > 1e-12 {
		t.Fatalf("score b = %v, want %v", out[1].Score, wantB)
	}
}

func TestFuseRankBonuses(t *testing.T) {
	lists := [][]string{{"a", "b", "c", "d"}}
	out := fuse(lists, DefaultTuning())
	// Best ranks: a=0 (+0.05), b=1 and c=2 (+0.02), d=3 (none).
	byKey := make(map[string]fused)
	for _, f := range out {
		byKey[f.Key] = f
	}
	base := func(rank int) float64 { return 2.0 / float64(60+rank+1) }
	cases := []struct {
		key  string
		want float64
	}{
		{"a", base(0) + 0.05},
		{"b", base(1) + 0.02},
		{"c", base(2) + 0.02},
		{"d", base(3)},
	}
	for _, c := range cases {
		if math.Abs(byKey[c.key].Score-c.want) > 1e-12 {
			t.Errorf("%s score = %v, want %v", c.key, byKey[c.key].Score, c.want)
		}
	}
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	lists := [][]string{{"x"}, {"y"}}
	for i := 0; i < 10; i++ {
		out := fuse(lists, DefaultTuning())
		if out[0].Key != "x" || out[1].Key != "y" {
			t.Fatalf("tie break must follow first appearance: %+v", out)
		}
	}
}

func TestFuseCustomTuning(t *testing.T) {
	// Configured weights must reach fusion, not just the defaults.
	tn := DefaultTuning()
	tn.PrimaryWeight = 5.0
	tn.RankBonusTop = 0.1
	tn.RankBonusHigh = 0

	out := fuse([][]string{{"a", "b"}}, tn)
	wantA := 5.0/61.0 + 0.1
	wantB := 5.0 / 62.0
	if math.Abs(out[0].Score-wantA) > 1e-12 {
		t.Fatalf("score a = %v, want %v", out[0].Score, wantA)
	}
	if math.Abs(out[1].Score-wantB) > 1e-12 {
		t.Fatalf("score b = %v, want %v", out[1].Score, wantB)
	}
}

func TestTuningNormalize(t *testing.T) {
	tn := Tuning{RankBonusTop: 0.5}.normalize()
	def := DefaultTuning()
	if tn.RerankDocLimit != def.RerankDocLimit || tn.RerankChunksPerDoc != def.RerankChunksPerDoc {
		t.Fatalf("caps must default: %+v", tn)
	}
	if tn.PrimaryWeight != def.PrimaryWeight {
		t.Fatalf("weight must default: %+v", tn)
	}
	// Zero bonuses are a valid configuration and stay untouched.
	if tn.RankBonusTop != 0.5 || tn.RankBonusHigh != 0 {
		t.Fatalf("bonuses must pass through: %+v", tn)
	}
}

func TestFuseAssignsRanks(t *testing.T) {
	out := fuse([][]string{{"a", "b", "c"}}, DefaultTuning())
	for i, f := range out {
		if f.Rank != i+1 {
			t.Fatalf("rank must be 1-based position: %+v", out)
		}
	}
}

func TestBlendWeight(t *testing.T) {
	cases := []struct {
		rank int
		want float64
	}{
		{1, 0.75}, {3, 0.75}, {4, 0.60}, {10, 0.60}, {11, 0.40}, {40, 0.40},
	}
	for _, c := range cases {
		if got := blendWeight(c.rank); got != c.want {
			t.Errorf("blendWeight(%d) = %v, want %v", c.rank, got, c.want)
		}
	}
}

func TestBlend(t *testing.T) {
	// rank 1, rerank 0.8: 0.75*1 + 0.25*0.8
	if got, want := blend(1, 0.8), 0.95; math.Abs(got-want) > 1e-12 {
		t.Fatalf("blend = %v, want %v", got, want)
	}
	// rank 20, rerank 1.0: 0.40*(1/20) + 0.60*1.0
	if got, want := blend(20, 1.0), 0.62; math.Abs(got-want) > 1e-12 {
		t.Fatalf("blend = %v, want %v", got, want)
	}
}
