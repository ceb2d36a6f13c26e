package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/tree"
)

type memSamples struct {
	vectors []models.FeatureVector
	err     error
}

func (m *memSamples) LoadSamples(ctx context.Context) ([]models.FeatureVector, error) {
	return m.vectors, m.err
}

func labelledVectors() []models.FeatureVector {
	var out []models.FeatureVector
	for i := 0; i < 12; i++ {
		out = append(out, models.FeatureVector{
			CommitHour:         i,
			RegexDetectedCount: 1 + i%2,
			MaxRegexSeverity:   3,
			IsSensitiveFile:    true,
			RiskLabel:          models.Label(1),
		})
	}
	for i := 0; i < 8; i++ {
		out = append(out, models.FeatureVector{CommitHour: i, RiskLabel: models.Label(0)})
	}
	out = append(out, models.FeatureVector{CommitHour: 3}, models.FeatureVector{CommitHour: 4})
	return out
}

func TestTrainerPublishesModel(t *testing.T) {
	store := &memStore{}
	active := &tree.ActiveModel{}
	path := filepath.Join(t.TempDir(), "model.json")
	trainer := NewTrainer(nil, &memSamples{vectors: labelledVectors()}, store, active, TrainerConfig{
		Params:    tree.Params{MaxDepth: 10, MinSamplesSplit: 5},
		TestRatio: 0.3,
		Seed:      42,
		ModelPath: path,
	})

	report, err := trainer.Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if report.Unlabelled != 2 || report.TrainSamples != 14 || report.TestSamples != 6 {
		t.Fatalf("unexpected report counts %+v", report)
	}
	if active.Load() != report.Model {
		t.Fatalf("expected trained model to be published")
	}
	if report.Model.Metrics.Accuracy != 1 {
		t.Fatalf("expected perfect held-out accuracy, got %+v", report.Model.Metrics)
	}
	if len(store.audits) != 1 || store.audits[0].ModelID != report.Model.ID {
		t.Fatalf("expected one audit record for the model")
	}
	if store.audits[0].Importance[0].Name != "regex_detected_count" {
		t.Fatalf("unexpected top feature %+v", store.audits[0].Importance[0])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected model file: %v", err)
	}
	loaded, err := tree.LoadFile(path)
	if err != nil || loaded.ID != report.Model.ID {
		t.Fatalf("expected model file to round trip: %v", err)
	}
}

func TestTrainerInsufficientData(t *testing.T) {
	active := &tree.ActiveModel{}
	vectors := labelledVectors()[:2]
	trainer := NewTrainer(nil, &memSamples{vectors: vectors}, nil, active, TrainerConfig{
		Params: tree.Params{MaxDepth: 3, MinSamplesSplit: 5},
	})

	_, err := trainer.Train(context.Background())
	var insufficient *tree.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if active.Load() != nil {
		t.Fatalf("no model must be published")
	}
}

func TestTrainerAuditFailureKeepsPreviousModel(t *testing.T) {
	active := &tree.ActiveModel{}
	previous := &tree.TrainedModel{ID: "previous"}
	active.Store(previous)
	trainer := NewTrainer(nil, &memSamples{vectors: labelledVectors()}, &memStore{err: errors.New("db down")}, active, TrainerConfig{
		Params:    tree.DefaultParams(),
		TestRatio: 0.3,
		Seed:      7,
	})

	if _, err := trainer.Train(context.Background()); err == nil {
		t.Fatalf("expected audit error")
	}
	if active.Load() != previous {
		t.Fatalf("previous model must stay active")
	}
}

func TestTrainerSampleSourceError(t *testing.T) {
	trainer := NewTrainer(nil, &memSamples{err: errors.New("boom")}, nil, nil, TrainerConfig{Params: tree.DefaultParams()})
	if _, err := trainer.Train(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
