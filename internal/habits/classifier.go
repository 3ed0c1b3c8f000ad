package habits

import (
	"strings"

	"github.com/ldew/stride/pkg/models"
)

// Classify picks the task kind for a habit occurrence. Fallback order:
// a valid explicit kind wins, then the habit's metric type, then keyword
// hints in the display name, then the plain habit kind. The name step is a
// best-effort heuristic, not a contract.
func Classify(explicit models.TaskKind, metric models.MetricType, name string) models.TaskKind {
	if validKind(explicit) {
		return explicit
	}

	switch metric {
	case models.MetricTimer:
		return models.TaskKindTimed
	case models.MetricJournal:
		return models.TaskKindJournal
	case models.MetricCounter:
		return models.TaskKindChecklist
	case models.MetricRating:
		return models.TaskKindHabit
	}

	if kind, ok := classifyByName(name); ok {
		return kind
	}
	return models.TaskKindHabit
}

func classifyByName(name string) (models.TaskKind, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "journal"), strings.Contains(lower, "diary"):
		return models.TaskKindJournal, true
	case strings.Contains(lower, "meditat"):
		return models.TaskKindTimed, true
	case strings.Contains(lower, "screenshot"):
		return models.TaskKindScreenshot, true
	case strings.Contains(lower, "voice"), strings.Contains(lower, "record"):
		return models.TaskKindVoiceNote, true
	}
	return "", false
}

func validKind(k models.TaskKind) bool {
	switch k {
	case models.TaskKindPlain, models.TaskKindTimed, models.TaskKindJournal,
		models.TaskKindChecklist, models.TaskKindScreenshot,
		models.TaskKindVoiceNote, models.TaskKindHabit:
		return true
	}
	return false
}
