package tree

import (
	"fmt"
	"math"
	"math/rand"
)

// Metrics summarises classifier quality on held-out samples. Confusion is indexed
// [actual][predicted]. Ratios with a zero denominator are reported as 0.
type Metrics struct {
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	Confusion [2][2]int `json:"confusion"`
	Evaluated int       `json:"evaluated"`
}

// Evaluate predicts every sample and scores the result with class 1 as positive.
func Evaluate(model *TrainedModel, samples []Sample) (Metrics, error) {
	var m Metrics
	for i, s := range samples {
		if s.Label != 0 && s.Label != 1 {
			return Metrics{}, fmt.Errorf("evaluate: sample %d has label %d", i, s.Label)
		}
		pred, err := model.Predict(s.Features)
		if err != nil {
			return Metrics{}, fmt.Errorf("evaluate sample %d: %w", i, err)
		}
		m.Confusion[s.Label][pred.Label]++
	}
	m.Evaluated = len(samples)

	tn, fp := m.Confusion[0][0], m.Confusion[0][1]
	fn, tp := m.Confusion[1][0], m.Confusion[1][1]
	m.Accuracy = ratio(tp+tn, len(samples))
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// SplitTrainTest partitions samples per class so both halves keep the label balance.
// The same seed always yields the same partition. A ratio outside (0,1) keeps
// everything in the training half.
func SplitTrainTest(samples []Sample, testRatio float64, seed int64) (train, test []Sample) {
	if testRatio <= 0 || testRatio >= 1 {
		return append([]Sample(nil), samples...), nil
	}
	var byClass [2][]Sample
	for _, s := range samples {
		if s.Label == 0 || s.Label == 1 {
			byClass[s.Label] = append(byClass[s.Label], s)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	for _, group := range byClass {
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		cut := int(math.Round(float64(len(group)) * testRatio))
		if cut >= len(group) && len(group) > 0 {
			cut = len(group) - 1
		}
		test = append(test, group[:cut]...)
		train = append(train, group[cut:]...)
	}
	return train, test
}
