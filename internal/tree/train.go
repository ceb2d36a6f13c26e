package tree

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/miradorstack/leakscope/internal/models"
)

const gainEpsilon = 1e-12

// Gini returns the impurity of a binary node: 1 - p0^2 - p1^2. An empty node is pure.
func Gini(c0, c1 int) float64 {
	n := c0 + c1
	if n == 0 {
		return 0
	}
	p0 := float64(c0) / float64(n)
	p1 := float64(c1) / float64(n)
	return 1 - p0*p0 - p1*p1
}

type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
}

type builder struct {
	samples    []Sample
	width      int
	params     Params
	rootSize   int
	importance []float64
}

// Train grows a classification tree. Samples must share one width and carry labels 0 or 1.
// Input whose labels are all equal yields a single leaf.
func Train(samples []Sample, params Params) (*TrainedModel, error) {
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	if len(samples) == 0 || len(samples) < params.MinSamplesSplit {
		return nil, &InsufficientDataError{Samples: len(samples), Required: params.MinSamplesSplit}
	}
	width := len(samples[0].Features)
	for i, s := range samples {
		if len(s.Features) != width {
			return nil, &FeatureSchemaMismatchError{ExpectedWidth: width, GotWidth: len(s.Features)}
		}
		if s.Label != 0 && s.Label != 1 {
			return nil, fmt.Errorf("train: sample %d has label %d, want 0 or 1", i, s.Label)
		}
	}

	b := &builder{
		samples:    samples,
		width:      width,
		params:     params,
		rootSize:   len(samples),
		importance: make([]float64, width),
	}
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	root := b.grow(idx, 0)

	schema, names := schemaFor(width)
	return &TrainedModel{
		ID:           ulid.Make().String(),
		Root:         root,
		Importance:   rankImportance(b.importance, names),
		TrainedOn:    len(samples),
		Schema:       schema,
		FeatureNames: names,
		Width:        width,
		Params:       params,
		TrainedAt:    time.Now().UTC(),
	}, nil
}

func (b *builder) grow(idx []int, level int) Node {
	c0, c1 := b.counts(idx)
	atDepthLimit := b.params.MaxDepth > 0 && level >= b.params.MaxDepth
	if atDepthLimit || len(idx) < b.params.MinSamplesSplit || c0 == 0 || c1 == 0 {
		return newLeaf(c0, c1)
	}

	best, ok := b.bestSplit(idx, c0, c1)
	if !ok {
		return newLeaf(c0, c1)
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.samples[i].Features[best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importance[best.feature] += best.gain * float64(len(idx)) / float64(b.rootSize)

	return &Split{
		Feature:   best.feature,
		Threshold: best.threshold,
		Gain:      best.gain,
		Samples:   len(idx),
		Left:      b.grow(left, level+1),
		Right:     b.grow(right, level+1),
	}
}

// bestSplit scans every feature in index order and every midpoint in ascending order,
// replacing the best candidate only on a strictly larger gain. Ties therefore resolve to
// the lowest feature index, then the lowest threshold.
func (b *builder) bestSplit(idx []int, c0, c1 int) (splitCandidate, bool) {
	n := len(idx)
	parent := Gini(c0, c1)
	best := splitCandidate{feature: -1}
	sorted := make([]int, n)

	for f := 0; f < b.width; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.samples[sorted[i]].Features[f] < b.samples[sorted[j]].Features[f]
		})

		left := [2]int{}
		for pos := 0; pos < n-1; pos++ {
			left[b.samples[sorted[pos]].Label]++
			lo := b.samples[sorted[pos]].Features[f]
			hi := b.samples[sorted[pos+1]].Features[f]
			if lo == hi {
				continue
			}
			threshold := lo + (hi-lo)/2
			if threshold >= hi {
				threshold = lo
			}
			nl := pos + 1
			nr := n - nl
			weighted := float64(nl)/float64(n)*Gini(left[0], left[1]) +
				float64(nr)/float64(n)*Gini(c0-left[0], c1-left[1])
			gain := parent - weighted
			if gain > best.gain+gainEpsilon {
				best = splitCandidate{feature: f, threshold: threshold, gain: gain}
			}
		}
	}
	return best, best.feature >= 0
}

func (b *builder) counts(idx []int) (int, int) {
	var c [2]int
	for _, i := range idx {
		c[b.samples[i].Label]++
	}
	return c[0], c[1]
}

// newLeaf predicts the majority class; an even split goes to class 1.
func newLeaf(c0, c1 int) *Leaf {
	leaf := &Leaf{ClassCounts: [2]int{c0, c1}}
	n := c0 + c1
	if c1 >= c0 {
		leaf.Predicted = 1
		if n > 0 {
			leaf.Confidence = float64(c1) / float64(n)
		}
	} else {
		leaf.Confidence = float64(c0) / float64(n)
	}
	return leaf
}

func rankImportance(raw []float64, names []string) []FeatureImportance {
	total := 0.0
	for _, v := range raw {
		total += v
	}
	out := make([]FeatureImportance, len(raw))
	for i, v := range raw {
		share := 0.0
		if total > 0 {
			share = v / total
		}
		out[i] = FeatureImportance{Feature: i, Name: featureName(names, i), Importance: share}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// schemaFor stamps commit feature vectors with the current schema fingerprint. Other
// widths get an ad-hoc schema that PredictVector never accepts.
func schemaFor(width int) (string, []string) {
	if width == models.FeatureCount {
		return models.FeatureSchema, append([]string(nil), models.FeatureNames...)
	}
	names := make([]string, width)
	for i := range names {
		names[i] = fmt.Sprintf("feature_%d", i)
	}
	return fmt.Sprintf("adhoc-%d", width), names
}
