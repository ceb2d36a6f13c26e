package patterns

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/miradorstack/leakscope/internal/models"
)

const defaultMaxMatchLength = 50

// FalsePositiveFilter discards matches that look like documentation or template values.
// All lists come from configuration.
type FalsePositiveFilter struct {
	// Placeholders are compared against the whole matched text, case-insensitively.
	Placeholders []string
	// Markers are searched for inside the matched text, case-insensitively.
	Markers []string
	// RejectRepeated drops matches whose value token is one repeated character.
	RejectRepeated bool
}

// DefaultFilter returns the built-in false-positive filter.
func DefaultFilter() FalsePositiveFilter {
	return FalsePositiveFilter{
		Placeholders:   DefaultPlaceholders(),
		Markers:        DefaultMarkers(),
		RejectRepeated: true,
	}
}

// IsFalsePositive reports whether text should be discarded.
func (f FalsePositiveFilter) IsFalsePositive(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, p := range f.Placeholders {
		if p != "" && strings.EqualFold(trimmed, p) {
			return true
		}
	}
	lower := strings.ToLower(trimmed)
	for _, m := range f.Markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	if f.RejectRepeated && repeatedRun(trimmed) {
		return true
	}
	return false
}

// repeatedRun reports whether the value token, the last alphanumeric token of at least 4
// runes, is a single character repeated, e.g. "xxxxxxxx" in `password = "xxxxxxxx"`.
func repeatedRun(text string) bool {
	value := ""
	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(token) >= 4 {
			value = token
		}
	}
	if value == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(value)
	for _, r := range value {
		if unicode.ToLower(r) != unicode.ToLower(first) {
			return false
		}
	}
	return true
}

// Matcher scans added lines against a pattern Set. It holds no mutable state and is safe
// for concurrent use.
type Matcher struct {
	set            *Set
	filter         FalsePositiveFilter
	maxMatchLength int
}

// MatcherOption customises a Matcher.
type MatcherOption func(*Matcher)

// WithMaxMatchLength truncates recorded matched text; values <= 0 keep the default.
func WithMaxMatchLength(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.maxMatchLength = n
		}
	}
}

// NewMatcher constructs a Matcher over an explicitly provided pattern set.
func NewMatcher(set *Set, filter FalsePositiveFilter, opts ...MatcherOption) *Matcher {
	if set == nil {
		set = &Set{}
	}
	m := &Matcher{set: set, filter: filter, maxMatchLength: defaultMaxMatchLength}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scan applies every pattern to every added line of one file. Deleted and context lines
// never reach the matcher. Overlapping hits of the same pattern on a line keep the first.
func (m *Matcher) Scan(filePath string, lines []models.AddedLine) []models.DetectedCredential {
	var detections []models.DetectedCredential
	for _, line := range lines {
		for _, pattern := range m.set.patterns {
			lastEnd := -1
			for _, loc := range pattern.Regex.FindAllStringIndex(line.Text, -1) {
				if loc[0] < lastEnd {
					continue
				}
				matched := line.Text[loc[0]:loc[1]]
				if matched == "" || m.filter.IsFalsePositive(matched) {
					continue
				}
				lastEnd = loc[1]
				detections = append(detections, models.DetectedCredential{
					Kind:        pattern.Kind,
					Severity:    pattern.Severity,
					FilePath:    filePath,
					LineNumber:  line.Number,
					MatchedText: truncate(matched, m.maxMatchLength),
				})
			}
		}
	}
	return detections
}

// ScanCommit scans every file of a change and stamps the commit SHA on each detection.
func (m *Matcher) ScanCommit(change models.CommitChange) []models.DetectedCredential {
	var detections []models.DetectedCredential
	for _, file := range change.Files {
		for _, d := range m.Scan(file.Path, file.AddedLines) {
			d.CommitSHA = change.Commit.SHA
			detections = append(detections, d)
		}
	}
	return detections
}

// ScanText scans free text (for example a commit message), numbering lines from 1.
func (m *Matcher) ScanText(filePath, text string) []models.DetectedCredential {
	raw := strings.Split(text, "\n")
	lines := make([]models.AddedLine, 0, len(raw))
	for i, l := range raw {
		lines = append(lines, models.AddedLine{Number: i + 1, Text: l})
	}
	return m.Scan(filePath, lines)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
