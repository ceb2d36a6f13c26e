package models

import (
	"fmt"
	"strings"
	"time"
)

// CommitRecord carries commit metadata supplied by the hosting collaborator.
type CommitRecord struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	AuthorName   string    `json:"author_name"`
	AuthorEmail  string    `json:"author_email"`
	Timestamp    time.Time `json:"timestamp"`
	FilesChanged int       `json:"files_changed"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	ChangedPaths []string  `json:"changed_paths"`
	URL          string    `json:"url,omitempty"`
}

// AddedLine is one line introduced by a change, numbered in the new file.
type AddedLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// FileChange groups the added lines of a single path.
type FileChange struct {
	Path       string      `json:"path"`
	Status     string      `json:"status,omitempty"`
	Additions  int         `json:"additions"`
	Deletions  int         `json:"deletions"`
	AddedLines []AddedLine `json:"added_lines"`
}

// CommitChange is the per-commit unit delivered to the scan pipeline.
type CommitChange struct {
	Commit CommitRecord `json:"commit"`
	Files  []FileChange `json:"files"`
}

// Validate reports a MalformedCommitError when required fields are missing.
func (c CommitRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(c.SHA) == "" {
		missing = append(missing, "sha")
	}
	if c.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if c.Additions < 0 || c.Deletions < 0 || c.FilesChanged < 0 {
		missing = append(missing, "stats")
	}
	if len(missing) > 0 {
		return &MalformedCommitError{SHA: c.SHA, Fields: missing}
	}
	return nil
}

// MalformedCommitError marks a commit that cannot enter the pipeline. Scans skip it and count it.
type MalformedCommitError struct {
	SHA    string
	Fields []string
	Err    error
}

func (e *MalformedCommitError) Error() string {
	ref := e.SHA
	if ref == "" {
		ref = "<unknown>"
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed commit %s: %v", ref, e.Err)
	}
	return fmt.Sprintf("malformed commit %s: missing %s", ref, strings.Join(e.Fields, ", "))
}

func (e *MalformedCommitError) Unwrap() error {
	return e.Err
}
