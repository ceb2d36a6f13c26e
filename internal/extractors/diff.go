package extractors

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/miradorstack/leakscope/internal/models"
)

// ParsePatch returns the lines a unified-diff patch adds, numbered in the new file.
// Removed and context lines are not returned.
func ParsePatch(patch string) ([]models.AddedLine, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, nil
	}
	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
	hunks, err := diff.ParseHunks([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}

	var added []models.AddedLine
	for _, hunk := range hunks {
		line := int(hunk.NewStartLine)
		for _, raw := range strings.Split(strings.TrimSuffix(string(hunk.Body), "\n"), "\n") {
			if raw == "" {
				line++
				continue
			}
			switch raw[0] {
			case '+':
				added = append(added, models.AddedLine{Number: line, Text: strings.TrimSuffix(raw[1:], "\r")})
				line++
			case ' ':
				line++
			case '-', '\\':
			default:
				line++
			}
		}
	}
	return added, nil
}

// ParseFile converts one changed file of a commit, attaching its added lines.
func ParseFile(path, status string, additions, deletions int, patch string) (models.FileChange, error) {
	lines, err := ParsePatch(patch)
	if err != nil {
		return models.FileChange{Path: path, Status: status, Additions: additions, Deletions: deletions}, fmt.Errorf("%s: %w", path, err)
	}
	return models.FileChange{
		Path:       path,
		Status:     status,
		Additions:  additions,
		Deletions:  deletions,
		AddedLines: lines,
	}, nil
}
