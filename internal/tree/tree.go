// Package tree implements a binary CART classifier with Gini impurity splitting.
package tree

import (
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/leakscope/internal/models"
)

// Sample is one labelled training example. Label is 0 (safe) or 1 (risky).
type Sample struct {
	Features []float64
	Label    int
}

// SampleFromVector converts a labelled feature vector. ok is false when the label is unknown.
func SampleFromVector(v models.FeatureVector) (Sample, bool) {
	if v.RiskLabel == nil {
		return Sample{}, false
	}
	return Sample{Features: v.Values(), Label: *v.RiskLabel}, true
}

// Node is either a *Leaf or a *Split.
type Node interface {
	isNode()
}

// Leaf is a terminal node.
type Leaf struct {
	ClassCounts [2]int
	Predicted   int
	Confidence  float64
}

// Split routes samples with Features[Feature] <= Threshold to Left, the rest to Right.
type Split struct {
	Feature   int
	Threshold float64
	Gain      float64
	Samples   int
	Left      Node
	Right     Node
}

func (*Leaf) isNode()  {}
func (*Split) isNode() {}

// Params controls tree growth.
type Params struct {
	MaxDepth        int `json:"max_depth" yaml:"maxDepth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"minSamplesSplit"`
}

// DefaultParams mirrors the production training configuration.
func DefaultParams() Params {
	return Params{MaxDepth: 10, MinSamplesSplit: 5}
}

// FeatureImportance is the normalised impurity reduction credited to one feature.
type FeatureImportance struct {
	Feature    int     `json:"feature"`
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Prediction is the outcome of routing one vector to a leaf.
type Prediction struct {
	Label      int     `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TrainedModel is immutable once Train returns. Replace it through ActiveModel.
type TrainedModel struct {
	ID           string
	Root         Node
	Importance   []FeatureImportance
	TrainedOn    int
	Metrics      Metrics
	Schema       string
	FeatureNames []string
	Width        int
	Params       Params
	TrainedAt    time.Time
}

// WithMetrics returns a copy of the model carrying the given evaluation metrics.
func (m *TrainedModel) WithMetrics(metrics Metrics) *TrainedModel {
	clone := *m
	clone.Metrics = metrics
	return &clone
}

// Predict walks the tree for one vector of values in feature order.
func (m *TrainedModel) Predict(values []float64) (Prediction, error) {
	if len(values) != m.Width {
		return Prediction{}, &FeatureSchemaMismatchError{
			ExpectedWidth:  m.Width,
			GotWidth:       len(values),
			ExpectedSchema: m.Schema,
			GotSchema:      m.Schema,
		}
	}
	node := m.Root
	for {
		switch n := node.(type) {
		case *Leaf:
			return Prediction{Label: n.Predicted, Confidence: n.Confidence}, nil
		case *Split:
			if values[n.Feature] <= n.Threshold {
				node = n.Left
			} else {
				node = n.Right
			}
		default:
			return Prediction{}, fmt.Errorf("predict: unexpected node %T", node)
		}
	}
}

// PredictVector checks the vector schema before predicting. A model trained under a
// different feature definition is refused instead of reinterpreted.
func (m *TrainedModel) PredictVector(v models.FeatureVector) (Prediction, error) {
	values := v.Values()
	if m.Schema != models.FeatureSchema || m.Width != len(values) {
		return Prediction{}, &FeatureSchemaMismatchError{
			ExpectedWidth:  m.Width,
			GotWidth:       len(values),
			ExpectedSchema: m.Schema,
			GotSchema:      models.FeatureSchema,
		}
	}
	return m.Predict(values)
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (m *TrainedModel) Depth() int {
	return depth(m.Root)
}

// Leaves returns the number of terminal nodes.
func (m *TrainedModel) Leaves() int {
	return leaves(m.Root)
}

func depth(node Node) int {
	s, ok := node.(*Split)
	if !ok {
		return 0
	}
	return 1 + max(depth(s.Left), depth(s.Right))
}

func leaves(node Node) int {
	s, ok := node.(*Split)
	if !ok {
		return 1
	}
	return leaves(s.Left) + leaves(s.Right)
}

// Rules renders the tree as indented text, one condition per line.
func (m *TrainedModel) Rules() string {
	var b strings.Builder
	writeRules(&b, m.Root, m.FeatureNames, 0)
	return b.String()
}

func writeRules(b *strings.Builder, node Node, names []string, level int) {
	indent := strings.Repeat("|   ", level)
	switch n := node.(type) {
	case *Leaf:
		fmt.Fprintf(b, "%s|--- class: %d (%.2f, n=%d)\n", indent, n.Predicted, n.Confidence, n.ClassCounts[0]+n.ClassCounts[1])
	case *Split:
		name := featureName(names, n.Feature)
		fmt.Fprintf(b, "%s|--- %s <= %.2f\n", indent, name, n.Threshold)
		writeRules(b, n.Left, names, level+1)
		fmt.Fprintf(b, "%s|--- %s >  %.2f\n", indent, name, n.Threshold)
		writeRules(b, n.Right, names, level+1)
	}
}

func featureName(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return fmt.Sprintf("feature_%d", idx)
}
