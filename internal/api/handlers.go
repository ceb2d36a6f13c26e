package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/tree"
	"github.com/miradorstack/leakscope/internal/utils"
)

// ScanReply is the ScanRepository response.
type ScanReply struct {
	Summary     models.RepositorySummary    `json:"summary"`
	Assessments []models.RiskAssessment     `json:"assessments"`
	Credentials []models.DetectedCredential `json:"credentials"`
	Skipped     []models.CommitIssue        `json:"skipped,omitempty"`
	Failed      []models.CommitIssue        `json:"failed,omitempty"`
}

// AssessReply is the AssessCommit response.
type AssessReply struct {
	Assessment      models.RiskAssessment       `json:"assessment"`
	Credentials     []models.DetectedCredential `json:"credentials"`
	Features        models.FeatureVector        `json:"features"`
	PredictionError string                      `json:"prediction_error,omitempty"`
}

// ModelInfo describes the active model.
type ModelInfo struct {
	ID         string                   `json:"id"`
	Schema     string                   `json:"schema"`
	TrainedAt  string                   `json:"trained_at"`
	TrainedOn  int                      `json:"trained_on"`
	Depth      int                      `json:"depth"`
	Leaves     int                      `json:"leaves"`
	Params     tree.Params              `json:"params"`
	Metrics    tree.Metrics             `json:"metrics"`
	Importance []tree.FeatureImportance `json:"importance"`
	Rules      string                   `json:"rules,omitempty"`
}

// TrainReply is the TrainModel response.
type TrainReply struct {
	Model        ModelInfo `json:"model"`
	TrainSamples int       `json:"train_samples"`
	TestSamples  int       `json:"test_samples"`
	Unlabelled   int       `json:"unlabelled"`
}

// SummaryRequest selects a repository for GetSummary.
type SummaryRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ModelRequest is the GetModel body.
type ModelRequest struct {
	Rules bool `json:"rules"`
}

// FeedbackRequest is the SubmitFeedback body.
type FeedbackRequest struct {
	CommitSHA   string `json:"commit_sha"`
	Risky       bool   `json:"risky"`
	Notes       string `json:"notes"`
	SubmittedAt string `json:"submitted_at"`
}

// FeedbackAck acknowledges stored feedback.
type FeedbackAck struct {
	CommitSHA string `json:"commit_sha"`
	Accepted  bool   `json:"accepted"`
}

// HealthReply is the HealthCheck response.
type HealthReply struct {
	Status      string `json:"status"`
	ModelID     string `json:"model_id,omitempty"`
	ModelSchema string `json:"model_schema,omitempty"`
	ScansServed int    `json:"scans_served"`
	ScanP95     string `json:"scan_p95"`
}

// Encode converts a JSON-tagged value into a Struct document.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return out, nil
}

// Decode fills v from a Struct document. A nil document decodes as empty.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// FromScanRequest decodes and validates a scan request.
func FromScanRequest(in *structpb.Struct) (models.ScanRequest, error) {
	var req models.ScanRequest
	if err := Decode(in, &req); err != nil {
		return req, err
	}
	req.Owner = strings.TrimSpace(req.Owner)
	req.Name = strings.TrimSpace(req.Name)
	if req.Owner == "" || req.Name == "" {
		return req, fmt.Errorf("owner and name are required")
	}
	if req.MaxCommits < 0 {
		return req, fmt.Errorf("max_commits must not be negative")
	}
	return req, nil
}

// FromSummaryRequest decodes a summary lookup.
func FromSummaryRequest(in *structpb.Struct) (SummaryRequest, error) {
	var req SummaryRequest
	if err := Decode(in, &req); err != nil {
		return req, err
	}
	if req.Owner == "" || req.Name == "" {
		return req, fmt.Errorf("owner and name are required")
	}
	return req, nil
}

// FromCommitChange decodes one commit with its added lines.
func FromCommitChange(in *structpb.Struct) (models.CommitChange, error) {
	var change models.CommitChange
	if err := Decode(in, &change); err != nil {
		return change, err
	}
	if len(change.Commit.ChangedPaths) == 0 {
		for _, f := range change.Files {
			change.Commit.ChangedPaths = append(change.Commit.ChangedPaths, f.Path)
		}
	}
	return change, nil
}

// FromFeedbackRequest decodes analyst feedback.
func FromFeedbackRequest(in *structpb.Struct) (models.Feedback, error) {
	var req FeedbackRequest
	if err := Decode(in, &req); err != nil {
		return models.Feedback{}, err
	}
	if strings.TrimSpace(req.CommitSHA) == "" {
		return models.Feedback{}, fmt.Errorf("commit_sha is required")
	}
	submitted, err := utils.ParseRFC3339(req.SubmittedAt)
	if err != nil {
		return models.Feedback{}, err
	}
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	return models.Feedback{
		CommitSHA:   req.CommitSHA,
		Risky:       req.Risky,
		Notes:       req.Notes,
		SubmittedAt: submitted,
	}, nil
}

// ModelInfoFrom describes m. Rules are included only when withRules is set.
func ModelInfoFrom(m *tree.TrainedModel, withRules bool) ModelInfo {
	info := ModelInfo{
		ID:         m.ID,
		Schema:     m.Schema,
		TrainedAt:  utils.FormatRFC3339(m.TrainedAt),
		TrainedOn:  m.TrainedOn,
		Depth:      m.Depth(),
		Leaves:     m.Leaves(),
		Params:     m.Params,
		Metrics:    m.Metrics,
		Importance: m.Importance,
	}
	if withRules {
		info.Rules = m.Rules()
	}
	return info
}
