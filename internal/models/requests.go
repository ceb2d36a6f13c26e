package models

import "time"

// ScanRequest identifies the repository history to scan.
type ScanRequest struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
	MaxCommits int    `json:"max_commits"`
}

// FullName returns owner/name.
func (r ScanRequest) FullName() string {
	return r.Owner + "/" + r.Name
}

// Feedback captures an analyst's verdict on a scanned commit. It overrides the derived
// label when training samples are assembled.
type Feedback struct {
	CommitSHA   string    `json:"commit_sha"`
	Risky       bool      `json:"risky"`
	Notes       string    `json:"notes,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
