package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/leakscope/internal/extractors"
	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/patterns"
	"github.com/miradorstack/leakscope/internal/tree"
)

// CommitResult is the per-commit output of the pipeline.
type CommitResult struct {
	Assessment  models.RiskAssessment
	Credentials []models.DetectedCredential
	Features    models.FeatureVector
	// PredictionErr is set when the active model refused the vector. The assessment then
	// rests on matcher evidence alone.
	PredictionErr error
}

// Pipeline runs matcher, extractor, model and aggregator for one commit. It reads only
// immutable shared state and may be called from many goroutines.
type Pipeline struct {
	logger     *slog.Logger
	matcher    *patterns.Matcher
	extractor  *extractors.FeatureExtractor
	model      *tree.ActiveModel
	aggregator *RiskAggregator
}

// NewPipeline constructs a per-commit pipeline. model may be nil for matcher-only scoring.
func NewPipeline(
	logger *slog.Logger,
	matcher *patterns.Matcher,
	extractor *extractors.FeatureExtractor,
	model *tree.ActiveModel,
	aggregator *RiskAggregator,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if model == nil {
		model = &tree.ActiveModel{}
	}
	if aggregator == nil {
		aggregator = NewRiskAggregator(DefaultRiskPolicy())
	}
	return &Pipeline{
		logger:     logger,
		matcher:    matcher,
		extractor:  extractor,
		model:      model,
		aggregator: aggregator,
	}
}

// Aggregator exposes the aggregator for repository rollups.
func (p *Pipeline) Aggregator() *RiskAggregator {
	return p.aggregator
}

// Model exposes the active model holder.
func (p *Pipeline) Model() *tree.ActiveModel {
	return p.model
}

// Process scores one commit. A commit missing required fields returns a
// *models.MalformedCommitError and produces no result.
func (p *Pipeline) Process(change models.CommitChange) (CommitResult, error) {
	if p.matcher == nil || p.extractor == nil {
		return CommitResult{}, fmt.Errorf("pipeline not configured")
	}
	if err := change.Commit.Validate(); err != nil {
		return CommitResult{}, err
	}

	credentials := p.matcher.ScanCommit(change)
	features := p.extractor.Extract(change.Commit, credentials)

	result := CommitResult{Credentials: credentials, Features: features}

	var prediction *tree.Prediction
	pred, ok, err := p.model.PredictVector(features)
	switch {
	case err != nil:
		result.PredictionErr = err
		var mismatch *tree.FeatureSchemaMismatchError
		if errors.As(err, &mismatch) {
			p.logger.Warn("active model rejected feature vector; retraining required",
				slog.String("commit", change.Commit.SHA),
				slog.Any("error", err),
			)
		}
	case ok:
		prediction = &pred
	}

	result.Assessment = p.aggregator.Assess(change.Commit.SHA, credentials, prediction)
	return result, nil
}
