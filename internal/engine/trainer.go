package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/leakscope/internal/metrics"
	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/tree"
)

// SampleSource supplies labelled feature vectors for training.
type SampleSource interface {
	LoadSamples(ctx context.Context) ([]models.FeatureVector, error)
}

// TrainerConfig carries the training parameters.
type TrainerConfig struct {
	Params    tree.Params
	TestRatio float64
	Seed      int64
	// ModelPath, when set, receives the trained model as JSON before it is published.
	ModelPath string
}

// TrainReport describes one completed training run.
type TrainReport struct {
	Model        *tree.TrainedModel
	TrainSamples int
	TestSamples  int
	Unlabelled   int
	Audit        models.ModelAudit
}

// Trainer fits a model from stored samples and publishes it to the active model holder.
type Trainer struct {
	logger  *slog.Logger
	samples SampleSource
	store   ResultStore
	active  *tree.ActiveModel
	cfg     TrainerConfig
}

// NewTrainer constructs a Trainer. store may be nil to skip the audit record.
func NewTrainer(logger *slog.Logger, samples SampleSource, store ResultStore, active *tree.ActiveModel, cfg TrainerConfig) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if active == nil {
		active = &tree.ActiveModel{}
	}
	return &Trainer{logger: logger, samples: samples, store: store, active: active, cfg: cfg}
}

// Train runs to completion: load, split, fit, evaluate, persist, publish. The active model
// changes only after every earlier step succeeded.
func (t *Trainer) Train(ctx context.Context) (report TrainReport, err error) {
	defer func() {
		if err != nil {
			metrics.ObserveTraining(metrics.OutcomeError)
			return
		}
		metrics.ObserveTraining(metrics.OutcomeSuccess)
	}()

	if t.samples == nil {
		return TrainReport{}, fmt.Errorf("sample source not configured")
	}
	vectors, err := t.samples.LoadSamples(ctx)
	if err != nil {
		return TrainReport{}, fmt.Errorf("load samples: %w", err)
	}

	samples := make([]tree.Sample, 0, len(vectors))
	for _, v := range vectors {
		s, ok := tree.SampleFromVector(v)
		if !ok {
			report.Unlabelled++
			continue
		}
		samples = append(samples, s)
	}

	train, test := tree.SplitTrainTest(samples, t.cfg.TestRatio, t.cfg.Seed)
	model, err := tree.Train(train, t.cfg.Params)
	if err != nil {
		return TrainReport{}, fmt.Errorf("train: %w", err)
	}

	evalSet := test
	if len(evalSet) == 0 {
		t.logger.Warn("no held-out samples; metrics computed on the training set", slog.Int("samples", len(train)))
		evalSet = train
	}
	scores, err := tree.Evaluate(model, evalSet)
	if err != nil {
		return TrainReport{}, fmt.Errorf("evaluate: %w", err)
	}
	model = model.WithMetrics(scores)

	report.Model = model
	report.TrainSamples = len(train)
	report.TestSamples = len(test)
	report.Audit = AuditFor(model, len(train), len(test))

	if t.cfg.ModelPath != "" {
		if err := tree.SaveFile(t.cfg.ModelPath, model); err != nil {
			return TrainReport{}, fmt.Errorf("save model: %w", err)
		}
	}
	if t.store != nil {
		if err := t.store.SaveModelAudit(ctx, report.Audit); err != nil {
			return TrainReport{}, fmt.Errorf("persist model audit: %w", err)
		}
	}

	t.active.Store(model)
	metrics.SetModelActive(true)

	t.logger.Info("model trained",
		slog.String("model_id", model.ID),
		slog.Int("train_samples", len(train)),
		slog.Int("test_samples", len(test)),
		slog.Int("depth", model.Depth()),
		slog.Float64("accuracy", scores.Accuracy),
		slog.Float64("f1", scores.F1),
	)
	return report, nil
}

// AuditFor flattens a trained model into its audit history record.
func AuditFor(model *tree.TrainedModel, trainSamples, testSamples int) models.ModelAudit {
	weights := make([]models.FeatureWeight, 0, len(model.Importance))
	for _, fi := range model.Importance {
		weights = append(weights, models.FeatureWeight{Feature: fi.Feature, Name: fi.Name, Importance: fi.Importance})
	}
	return models.ModelAudit{
		ModelID:         model.ID,
		Schema:          model.Schema,
		TrainedAt:       model.TrainedAt,
		Samples:         trainSamples + testSamples,
		TrainSamples:    trainSamples,
		TestSamples:     testSamples,
		MaxDepth:        model.Params.MaxDepth,
		MinSamplesSplit: model.Params.MinSamplesSplit,
		Depth:           model.Depth(),
		Leaves:          model.Leaves(),
		Accuracy:        model.Metrics.Accuracy,
		Precision:       model.Metrics.Precision,
		Recall:          model.Metrics.Recall,
		F1:              model.Metrics.F1,
		Confusion:       model.Metrics.Confusion,
		Importance:      weights,
		Rules:           model.Rules(),
	}
}
