package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	kindLeaf  = "leaf"
	kindSplit = "split"
)

type nodeDoc struct {
	Kind        string   `json:"kind"`
	ClassCounts *[2]int  `json:"class_counts,omitempty"`
	Predicted   int      `json:"predicted,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Feature     int      `json:"feature,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	Gain        float64  `json:"gain,omitempty"`
	Samples     int      `json:"samples,omitempty"`
	Left        *nodeDoc `json:"left,omitempty"`
	Right       *nodeDoc `json:"right,omitempty"`
}

type modelDoc struct {
	ID           string              `json:"id"`
	Schema       string              `json:"schema"`
	FeatureNames []string            `json:"feature_names"`
	Width        int                 `json:"width"`
	Params       Params              `json:"params"`
	TrainedOn    int                 `json:"trained_on"`
	TrainedAt    time.Time           `json:"trained_at"`
	Metrics      Metrics             `json:"metrics"`
	Importance   []FeatureImportance `json:"importance"`
	Root         *nodeDoc            `json:"root"`
}

// Marshal encodes a model as JSON.
func Marshal(m *TrainedModel) ([]byte, error) {
	root, err := encodeNode(m.Root)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(modelDoc{
		ID:           m.ID,
		Schema:       m.Schema,
		FeatureNames: m.FeatureNames,
		Width:        m.Width,
		Params:       m.Params,
		TrainedOn:    m.TrainedOn,
		TrainedAt:    m.TrainedAt,
		Metrics:      m.Metrics,
		Importance:   m.Importance,
		Root:         root,
	}, "", "  ")
}

// Unmarshal decodes and validates a model produced by Marshal.
func Unmarshal(data []byte) (*TrainedModel, error) {
	var doc modelDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if doc.Width <= 0 {
		return nil, errors.New("decode model: missing width")
	}
	root, err := decodeNode(doc.Root, doc.Width)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return &TrainedModel{
		ID:           doc.ID,
		Root:         root,
		Importance:   doc.Importance,
		TrainedOn:    doc.TrainedOn,
		Metrics:      doc.Metrics,
		Schema:       doc.Schema,
		FeatureNames: doc.FeatureNames,
		Width:        doc.Width,
		Params:       doc.Params,
		TrainedAt:    doc.TrainedAt,
	}, nil
}

func encodeNode(node Node) (*nodeDoc, error) {
	switch n := node.(type) {
	case *Leaf:
		counts := n.ClassCounts
		return &nodeDoc{Kind: kindLeaf, ClassCounts: &counts, Predicted: n.Predicted, Confidence: n.Confidence}, nil
	case *Split:
		left, err := encodeNode(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeNode(n.Right)
		if err != nil {
			return nil, err
		}
		return &nodeDoc{
			Kind:      kindSplit,
			Feature:   n.Feature,
			Threshold: n.Threshold,
			Gain:      n.Gain,
			Samples:   n.Samples,
			Left:      left,
			Right:     right,
		}, nil
	default:
		return nil, fmt.Errorf("encode model: unexpected node %T", node)
	}
}

func decodeNode(doc *nodeDoc, width int) (Node, error) {
	if doc == nil {
		return nil, errors.New("missing node")
	}
	switch doc.Kind {
	case kindLeaf:
		if doc.ClassCounts == nil {
			return nil, errors.New("leaf without class counts")
		}
		if doc.Predicted != 0 && doc.Predicted != 1 {
			return nil, fmt.Errorf("leaf predicts class %d", doc.Predicted)
		}
		return &Leaf{ClassCounts: *doc.ClassCounts, Predicted: doc.Predicted, Confidence: doc.Confidence}, nil
	case kindSplit:
		if doc.Feature < 0 || doc.Feature >= width {
			return nil, fmt.Errorf("split on feature %d outside width %d", doc.Feature, width)
		}
		left, err := decodeNode(doc.Left, width)
		if err != nil {
			return nil, err
		}
		right, err := decodeNode(doc.Right, width)
		if err != nil {
			return nil, err
		}
		return &Split{
			Feature:   doc.Feature,
			Threshold: doc.Threshold,
			Gain:      doc.Gain,
			Samples:   doc.Samples,
			Left:      left,
			Right:     right,
		}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", doc.Kind)
	}
}

// SaveFile writes the model to path, replacing any previous artefact atomically.
func SaveFile(path string, m *TrainedModel) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish model file: %w", err)
	}
	return nil
}

// LoadFile reads a model written by SaveFile.
func LoadFile(path string) (*TrainedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Unmarshal(data)
}
