package models

import (
	"fmt"
	"strings"
)

// Severity is the static risk tier of a credential pattern. The integer value is the
// encoding used by the feature vector (none=0, MEDIUM=1, HIGH=2, CRITICAL=3).
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// ParseSeverity accepts the textual form case-insensitively.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "CRITICAL":
		return SeverityCritical, nil
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "NONE", "":
		return SeverityNone, nil
	default:
		return SeverityNone, fmt.Errorf("unknown severity %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler so YAML and JSON carry the name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DetectedCredential is a single pattern hit on an added line.
type DetectedCredential struct {
	Kind        string   `json:"kind"`
	Severity    Severity `json:"severity"`
	FilePath    string   `json:"file_path"`
	LineNumber  int      `json:"line_number"`
	MatchedText string   `json:"matched_text"`
	CommitSHA   string   `json:"commit_sha"`
}

// MaxSeverity returns the highest severity among detections, SeverityNone when empty.
func MaxSeverity(detections []DetectedCredential) Severity {
	max := SeverityNone
	for _, d := range detections {
		if d.Severity > max {
			max = d.Severity
		}
	}
	return max
}
