package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/miradorstack/leakscope/internal/models"
)

// Definition is the configuration form of a credential pattern.
type Definition struct {
	Kind            string          `yaml:"kind"`
	Regex           string          `yaml:"regex"`
	Severity        models.Severity `yaml:"severity"`
	CaseInsensitive bool            `yaml:"caseInsensitive"`
	Description     string          `yaml:"description"`
}

// CredentialPattern is a compiled, immutable pattern.
type CredentialPattern struct {
	Kind     string
	Severity models.Severity
	Regex    *regexp.Regexp
}

// Set is an ordered, read-only collection of compiled patterns. A Set is safe to share
// between goroutines; nothing mutates it after Compile returns.
type Set struct {
	patterns []CredentialPattern
}

// PatternCompilationError reports a pattern that cannot be used. Loading fails instead of
// skipping the pattern, since a silently dropped pattern weakens detection coverage.
type PatternCompilationError struct {
	Kind    string
	Pattern string
	Err     error
}

func (e *PatternCompilationError) Error() string {
	return fmt.Sprintf("compile pattern %q (%s): %v", e.Kind, e.Pattern, e.Err)
}

func (e *PatternCompilationError) Unwrap() error {
	return e.Err
}

// Compile validates and compiles definitions in order.
func Compile(defs []Definition) (*Set, error) {
	seen := make(map[string]struct{}, len(defs))
	compiled := make([]CredentialPattern, 0, len(defs))
	for _, def := range defs {
		kind := strings.TrimSpace(def.Kind)
		if kind == "" {
			return nil, &PatternCompilationError{Pattern: def.Regex, Err: fmt.Errorf("empty kind")}
		}
		if _, dup := seen[kind]; dup {
			return nil, &PatternCompilationError{Kind: kind, Pattern: def.Regex, Err: fmt.Errorf("duplicate kind")}
		}
		if def.Severity < models.SeverityMedium || def.Severity > models.SeverityCritical {
			return nil, &PatternCompilationError{Kind: kind, Pattern: def.Regex, Err: fmt.Errorf("severity must be MEDIUM, HIGH or CRITICAL")}
		}
		if def.Regex == "" {
			return nil, &PatternCompilationError{Kind: kind, Err: fmt.Errorf("empty regex")}
		}
		expr := def.Regex
		if def.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &PatternCompilationError{Kind: kind, Pattern: def.Regex, Err: err}
		}
		seen[kind] = struct{}{}
		compiled = append(compiled, CredentialPattern{Kind: kind, Severity: def.Severity, Regex: re})
	}
	return &Set{patterns: compiled}, nil
}

// MustCompile is Compile for static definitions known to be valid.
func MustCompile(defs []Definition) *Set {
	set, err := Compile(defs)
	if err != nil {
		panic(err)
	}
	return set
}

// Len returns the number of patterns.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// Patterns returns a copy of the compiled patterns in order.
func (s *Set) Patterns() []CredentialPattern {
	if s == nil {
		return nil
	}
	return append([]CredentialPattern(nil), s.patterns...)
}

// Merge overlays extra definitions on base: a definition with an existing kind replaces
// it in place, new kinds are appended.
func Merge(base, extra []Definition) []Definition {
	merged := append([]Definition(nil), base...)
	index := make(map[string]int, len(merged))
	for i, def := range merged {
		index[def.Kind] = i
	}
	for _, def := range extra {
		if i, ok := index[def.Kind]; ok {
			merged[i] = def
			continue
		}
		index[def.Kind] = len(merged)
		merged = append(merged, def)
	}
	return merged
}
