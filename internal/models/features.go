package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// featureSchemaVersion must change whenever a feature definition changes meaning,
// even if names and order stay the same.
const featureSchemaVersion = "v1"

// FeatureNames lists the feature vector fields in their fixed order.
var FeatureNames = []string{
	"commit_hour",
	"commit_day_of_week",
	"message_length",
	"has_suspicious_keyword",
	"files_modified",
	"code_additions",
	"code_deletions",
	"change_ratio",
	"has_config_file",
	"has_env_file",
	"regex_detected_count",
	"max_regex_severity",
	"is_sensitive_file",
}

// FeatureCount is the width of every feature vector.
var FeatureCount = len(FeatureNames)

// Feature indexes, matching FeatureNames.
const (
	FeatureCommitHour = iota
	FeatureCommitDayOfWeek
	FeatureMessageLength
	FeatureHasSuspiciousKeyword
	FeatureFilesModified
	FeatureCodeAdditions
	FeatureCodeDeletions
	FeatureChangeRatio
	FeatureHasConfigFile
	FeatureHasEnvFile
	FeatureRegexDetectedCount
	FeatureMaxRegexSeverity
	FeatureIsSensitiveFile
)

// FeatureSchema fingerprints the ordered feature definitions. Trained models record it
// and refuse vectors built under a different schema.
var FeatureSchema = func() string {
	sum := sha256.Sum256([]byte(featureSchemaVersion + ":" + strings.Join(FeatureNames, ",")))
	return featureSchemaVersion + "-" + hex.EncodeToString(sum[:8])
}()

// FeatureVector is the numeric description of one commit.
type FeatureVector struct {
	CommitSHA            string  `json:"commit_sha"`
	CommitHour           int     `json:"commit_hour"`
	CommitDayOfWeek      int     `json:"commit_day_of_week"`
	MessageLength        int     `json:"message_length"`
	HasSuspiciousKeyword bool    `json:"has_suspicious_keyword"`
	FilesModified        int     `json:"files_modified"`
	CodeAdditions        int     `json:"code_additions"`
	CodeDeletions        int     `json:"code_deletions"`
	ChangeRatio          float64 `json:"change_ratio"`
	HasConfigFile        bool    `json:"has_config_file"`
	HasEnvFile           bool    `json:"has_env_file"`
	RegexDetectedCount   int     `json:"regex_detected_count"`
	MaxRegexSeverity     int     `json:"max_regex_severity"`
	IsSensitiveFile      bool    `json:"is_sensitive_file"`

	// RiskLabel is 0 (safe) or 1 (risky) when known.
	RiskLabel *int `json:"risk_label,omitempty"`
}

// Values returns the features in FeatureNames order. Label fields are excluded.
func (v FeatureVector) Values() []float64 {
	return []float64{
		float64(v.CommitHour),
		float64(v.CommitDayOfWeek),
		float64(v.MessageLength),
		boolToFloat(v.HasSuspiciousKeyword),
		float64(v.FilesModified),
		float64(v.CodeAdditions),
		float64(v.CodeDeletions),
		v.ChangeRatio,
		boolToFloat(v.HasConfigFile),
		boolToFloat(v.HasEnvFile),
		float64(v.RegexDetectedCount),
		float64(v.MaxRegexSeverity),
		boolToFloat(v.IsSensitiveFile),
	}
}

// FeatureVectorFromValues rebuilds a vector from its ordered values.
func FeatureVectorFromValues(sha string, values []float64) (FeatureVector, bool) {
	if len(values) != FeatureCount {
		return FeatureVector{}, false
	}
	return FeatureVector{
		CommitSHA:            sha,
		CommitHour:           int(values[FeatureCommitHour]),
		CommitDayOfWeek:      int(values[FeatureCommitDayOfWeek]),
		MessageLength:        int(values[FeatureMessageLength]),
		HasSuspiciousKeyword: values[FeatureHasSuspiciousKeyword] != 0,
		FilesModified:        int(values[FeatureFilesModified]),
		CodeAdditions:        int(values[FeatureCodeAdditions]),
		CodeDeletions:        int(values[FeatureCodeDeletions]),
		ChangeRatio:          values[FeatureChangeRatio],
		HasConfigFile:        values[FeatureHasConfigFile] != 0,
		HasEnvFile:           values[FeatureHasEnvFile] != 0,
		RegexDetectedCount:   int(values[FeatureRegexDetectedCount]),
		MaxRegexSeverity:     int(values[FeatureMaxRegexSeverity]),
		IsSensitiveFile:      values[FeatureIsSensitiveFile] != 0,
	}, true
}

// Label returns a pointer to the given label value.
func Label(v int) *int {
	return &v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
