package extractors

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/utils"
)

// FeatureConfig lists the inputs of the keyword and path features.
type FeatureConfig struct {
	SuspiciousKeywords []string `yaml:"suspiciousKeywords"`
	ConfigGlobs        []string `yaml:"configGlobs"`
	EnvGlobs           []string `yaml:"envGlobs"`
}

// DefaultFeatureConfig returns the keyword list and path globs used when none are configured.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		SuspiciousKeywords: []string{
			"password", "passwd", "pwd", "secret", "token", "api_key", "apikey",
			"access_key", "private_key", "auth", "credential", "database_url",
			"db_password", "oauth", "jwt",
		},
		ConfigGlobs: []string{
			"*config*", "*settings*", "*credentials*", "*secrets*",
			"*.properties", "docker-compose*.yml", "kubernetes*.yml",
			".aws/credentials", "**/.aws/credentials",
		},
		EnvGlobs: []string{".env", ".env.*", "*.env", "*.env.*"},
	}
}

// FeatureExtractor turns one commit and its detections into a FeatureVector. It performs no
// I/O and is safe for concurrent use.
type FeatureExtractor struct {
	keywords    []string
	configGlobs []glob.Glob
	envGlobs    []glob.Glob
}

// NewFeatureExtractor compiles the configured globs.
func NewFeatureExtractor(cfg FeatureConfig) (*FeatureExtractor, error) {
	configGlobs, err := compileGlobs(cfg.ConfigGlobs)
	if err != nil {
		return nil, fmt.Errorf("config globs: %w", err)
	}
	envGlobs, err := compileGlobs(cfg.EnvGlobs)
	if err != nil {
		return nil, fmt.Errorf("env globs: %w", err)
	}
	keywords := make([]string, 0, len(cfg.SuspiciousKeywords))
	for _, k := range cfg.SuspiciousKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &FeatureExtractor{keywords: keywords, configGlobs: configGlobs, envGlobs: envGlobs}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p), '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Extract builds the feature vector. Time features use UTC with Monday as day 0. The label
// is 1 when the matcher found anything; stored analyst feedback may override it later.
func (e *FeatureExtractor) Extract(commit models.CommitRecord, matches []models.DetectedCredential) models.FeatureVector {
	hour, day := utils.CommitClock(commit.Timestamp)
	v := models.FeatureVector{
		CommitSHA:            commit.SHA,
		CommitHour:           hour,
		CommitDayOfWeek:      day,
		MessageLength:        utf8.RuneCountInString(commit.Message),
		HasSuspiciousKeyword: e.HasSuspiciousKeyword(commit.Message),
		FilesModified:        commit.FilesChanged,
		CodeAdditions:        commit.Additions,
		CodeDeletions:        commit.Deletions,
		ChangeRatio:          ChangeRatio(commit.Additions, commit.Deletions),
		HasConfigFile:        anyMatch(e.configGlobs, commit.ChangedPaths),
		HasEnvFile:           anyMatch(e.envGlobs, commit.ChangedPaths),
		RegexDetectedCount:   len(matches),
		MaxRegexSeverity:     int(models.MaxSeverity(matches)),
	}
	v.IsSensitiveFile = v.HasConfigFile || v.HasEnvFile || v.RegexDetectedCount > 0
	label := 0
	if len(matches) > 0 {
		label = 1
	}
	v.RiskLabel = models.Label(label)
	return v
}

// HasSuspiciousKeyword reports whether text contains any configured keyword, ignoring case.
func (e *FeatureExtractor) HasSuspiciousKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// ChangeRatio is (additions - deletions) / max(additions + deletions, 1), clamped to [-1, 1].
func ChangeRatio(additions, deletions int) float64 {
	total := additions + deletions
	if total < 1 {
		total = 1
	}
	r := float64(additions-deletions) / float64(total)
	return min(1, max(-1, r))
}

// anyMatch tests each path and its base name, lower-cased.
func anyMatch(globs []glob.Glob, paths []string) bool {
	for _, p := range paths {
		full := strings.ToLower(strings.TrimPrefix(p, "/"))
		base := path.Base(full)
		for _, g := range globs {
			if g.Match(full) || g.Match(base) {
				return true
			}
		}
	}
	return false
}
