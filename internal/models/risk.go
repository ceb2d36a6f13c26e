package models

import (
	"strings"
	"time"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders levels for comparisons; unknown levels rank below LOW.
func (l RiskLevel) Rank() int {
	switch RiskLevel(strings.ToUpper(string(l))) {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// RiskAssessment combines matcher and model evidence for one commit. It is derived data.
type RiskAssessment struct {
	CommitSHA           string    `json:"commit_sha"`
	MatcherSeverityMax  Severity  `json:"matcher_severity_max"`
	HasPrediction       bool      `json:"has_prediction"`
	PredictedLabel      int       `json:"predicted_label"`
	PredictedConfidence float64   `json:"predicted_confidence"`
	RiskScore           float64   `json:"risk_score"`
	RiskLevel           RiskLevel `json:"risk_level"`
}

// RepositorySummary is the rollup pushed to persistence after each scan.
type RepositorySummary struct {
	ScanID           string         `json:"scan_id"`
	Owner            string         `json:"owner"`
	Name             string         `json:"name"`
	Branch           string         `json:"branch"`
	CommitsSeen      int            `json:"commits_seen"`
	CommitsScanned   int            `json:"commits_scanned"`
	CommitsSkipped   int            `json:"commits_skipped"`
	CommitsFailed    int            `json:"commits_failed"`
	CommitsCancelled int            `json:"commits_cancelled,omitempty"`
	TotalCredentials int            `json:"total_credentials"`
	RiskyCommits     int            `json:"risky_commits"`
	MaxRiskScore     float64        `json:"max_risk_score"`
	AvgRiskScore     float64        `json:"avg_risk_score"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	BySeverity       map[string]int `json:"by_severity"`
	ByKind           map[string]int `json:"by_kind"`
	UniqueFiles      int            `json:"unique_files"`
	ModelID          string         `json:"model_id,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// CommitIssue records why a commit was skipped or failed during a scan.
type CommitIssue struct {
	CommitSHA string `json:"commit_sha"`
	Reason    string `json:"reason"`
}

// ScanResult is everything a scan hands to persistence.
type ScanResult struct {
	Summary     RepositorySummary    `json:"summary"`
	Assessments []RiskAssessment     `json:"assessments"`
	Credentials []DetectedCredential `json:"credentials"`
	Features    []FeatureVector      `json:"features"`
	Skipped     []CommitIssue        `json:"skipped,omitempty"`
	Failed      []CommitIssue        `json:"failed,omitempty"`
}

// FeatureWeight pairs a feature name with its normalised importance.
type FeatureWeight struct {
	Feature    int     `json:"feature"`
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// ModelAudit is the history record written after every training run.
type ModelAudit struct {
	ModelID         string          `json:"model_id"`
	Schema          string          `json:"schema"`
	TrainedAt       time.Time       `json:"trained_at"`
	Samples         int             `json:"samples"`
	TrainSamples    int             `json:"train_samples"`
	TestSamples     int             `json:"test_samples"`
	MaxDepth        int             `json:"max_depth"`
	MinSamplesSplit int             `json:"min_samples_split"`
	Depth           int             `json:"depth"`
	Leaves          int             `json:"leaves"`
	Accuracy        float64         `json:"accuracy"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1              float64         `json:"f1"`
	Confusion       [2][2]int       `json:"confusion"`
	Importance      []FeatureWeight `json:"importance"`
	Rules           string          `json:"rules"`
}
