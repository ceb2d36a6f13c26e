package patterns

import (
	"sort"

	"github.com/miradorstack/leakscope/internal/models"
)

// Statistics aggregates detections for reporting.
type Statistics struct {
	Total       int
	ByKind      map[string]int
	BySeverity  map[string]int
	UniqueFiles int
	TopKinds    []string
}

// Summarize aggregates detections by kind, severity and file.
func Summarize(detections []models.DetectedCredential) Statistics {
	stats := Statistics{
		ByKind:     make(map[string]int),
		BySeverity: make(map[string]int),
	}
	if len(detections) == 0 {
		return stats
	}

	files := make(map[string]struct{})
	for _, d := range detections {
		stats.Total++
		stats.ByKind[d.Kind]++
		stats.BySeverity[d.Severity.String()]++
		files[d.FilePath] = struct{}{}
	}
	stats.UniqueFiles = len(files)
	stats.TopKinds = topKinds(stats.ByKind, 3)
	return stats
}

func topKinds(counts map[string]int, limit int) []string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if counts[kinds[i]] != counts[kinds[j]] {
			return counts[kinds[i]] > counts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	if len(kinds) > limit {
		kinds = kinds[:limit]
	}
	return kinds
}
