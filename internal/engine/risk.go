package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/patterns"
	"github.com/miradorstack/leakscope/internal/tree"
)

// RiskPolicy holds the blending weights and bucket thresholds used by RiskAggregator.
type RiskPolicy struct {
	RegexWeight float64 `yaml:"regexWeight"`
	ModelWeight float64 `yaml:"modelWeight"`
	MediumAt    float64 `yaml:"mediumAt"`
	HighAt      float64 `yaml:"highAt"`
	CriticalAt  float64 `yaml:"criticalAt"`

	// Repository thresholds on credentials per scanned commit.
	RepoMediumRatio   float64 `yaml:"repoMediumRatio"`
	RepoHighRatio     float64 `yaml:"repoHighRatio"`
	RepoCriticalRatio float64 `yaml:"repoCriticalRatio"`
}

// DefaultRiskPolicy returns the default weights and thresholds.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		RegexWeight:       0.4,
		ModelWeight:       1.0,
		MediumAt:          0.25,
		HighAt:            0.5,
		CriticalAt:        0.75,
		RepoMediumRatio:   0.01,
		RepoHighRatio:     0.05,
		RepoCriticalRatio: 0.1,
	}
}

// Validate checks that weights are in [0,1] and thresholds ascend.
func (p RiskPolicy) Validate() error {
	for name, w := range map[string]float64{"regexWeight": p.RegexWeight, "modelWeight": p.ModelWeight} {
		if w < 0 || w > 1 {
			return fmt.Errorf("risk policy: %s must be within [0,1], got %g", name, w)
		}
	}
	if !(0 < p.MediumAt && p.MediumAt < p.HighAt && p.HighAt < p.CriticalAt && p.CriticalAt <= 1) {
		return fmt.Errorf("risk policy: thresholds must satisfy 0 < medium < high < critical <= 1")
	}
	if !(0 <= p.RepoMediumRatio && p.RepoMediumRatio < p.RepoHighRatio && p.RepoHighRatio < p.RepoCriticalRatio) {
		return fmt.Errorf("risk policy: repository ratios must ascend")
	}
	return nil
}

// RiskAggregator turns matcher and model evidence into assessments. It has no state
// beyond its policy, so any assessment can be recomputed from its inputs.
type RiskAggregator struct {
	policy RiskPolicy
}

// NewRiskAggregator constructs an aggregator with the given policy.
func NewRiskAggregator(policy RiskPolicy) *RiskAggregator {
	return &RiskAggregator{policy: policy}
}

// Policy returns the active policy.
func (a *RiskAggregator) Policy() RiskPolicy {
	return a.policy
}

// Assess scores one commit. prediction is nil when no model is active; scoring then uses
// matcher evidence alone.
func (a *RiskAggregator) Assess(sha string, matches []models.DetectedCredential, prediction *tree.Prediction) models.RiskAssessment {
	severity := models.MaxSeverity(matches)
	out := models.RiskAssessment{
		CommitSHA:          sha,
		MatcherSeverityMax: severity,
	}

	regexEvidence := a.policy.RegexWeight * (float64(severity) / float64(models.SeverityCritical))
	modelEvidence := 0.0
	if prediction != nil {
		out.HasPrediction = true
		out.PredictedLabel = prediction.Label
		out.PredictedConfidence = prediction.Confidence
		modelEvidence = a.policy.ModelWeight * prediction.Confidence * float64(prediction.Label)
	}

	out.RiskScore = clamp01(math.Max(regexEvidence, modelEvidence))
	out.RiskLevel = a.Level(out.RiskScore)
	return out
}

// Level buckets a score.
func (a *RiskAggregator) Level(score float64) models.RiskLevel {
	switch {
	case score < a.policy.MediumAt:
		return models.RiskLow
	case score < a.policy.HighAt:
		return models.RiskMedium
	case score < a.policy.CriticalAt:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// RepositoryLevel rates a repository by its credentials-per-commit ratio.
func (a *RiskAggregator) RepositoryLevel(credentials, commits int) models.RiskLevel {
	if commits <= 0 || credentials <= 0 {
		return models.RiskLow
	}
	ratio := float64(credentials) / float64(commits)
	switch {
	case ratio > a.policy.RepoCriticalRatio:
		return models.RiskCritical
	case ratio > a.policy.RepoHighRatio:
		return models.RiskHigh
	case ratio > a.policy.RepoMediumRatio:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Summarize rolls a completed scan into a repository summary. It must only run after every
// commit result is in.
func (a *RiskAggregator) Summarize(req models.ScanRequest, result *models.ScanResult, seen int, startedAt, finishedAt time.Time) models.RepositorySummary {
	stats := patterns.Summarize(result.Credentials)
	summary := models.RepositorySummary{
		Owner:            req.Owner,
		Name:             req.Name,
		Branch:           req.Branch,
		CommitsSeen:      seen,
		CommitsScanned:   len(result.Assessments),
		CommitsSkipped:   len(result.Skipped),
		CommitsFailed:    len(result.Failed),
		TotalCredentials: stats.Total,
		BySeverity:       stats.BySeverity,
		ByKind:           stats.ByKind,
		UniqueFiles:      stats.UniqueFiles,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
	}

	level := a.RepositoryLevel(stats.Total, summary.CommitsScanned)
	total := 0.0
	for _, assessment := range result.Assessments {
		total += assessment.RiskScore
		summary.MaxRiskScore = math.Max(summary.MaxRiskScore, assessment.RiskScore)
		if assessment.RiskLevel.Rank() > models.RiskLow.Rank() {
			summary.RiskyCommits++
		}
		if assessment.RiskLevel.Rank() > level.Rank() {
			level = assessment.RiskLevel
		}
	}
	if summary.CommitsScanned > 0 {
		summary.AvgRiskScore = total / float64(summary.CommitsScanned)
	}
	summary.RiskLevel = level
	return summary
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
