package engine

import "github.com/ldew/stride/pkg/models"

// Completion-timing classifications.
const (
	CompletionEarly  = "Early"
	CompletionOnTime = "On Time"
	CompletionLate   = "Late"
)

// DefaultExpectedTime is used when neither the task nor the supplied
// metrics carry a duration estimate (25 minutes, in seconds).
const DefaultExpectedTime = 1500

// A task is classified Early under 90% of its estimate, On Time up to 110%,
// and Late beyond that.
const (
	earlyRatio  = 0.9
	onTimeRatio = 1.1
)

// FormatMetrics merges supplied metric fields with defaults. expected is
// the task's duration estimate in seconds and is used when the supplied
// metrics carry no expected time of their own.
func FormatMetrics(expected int, supplied *models.TaskMetrics) models.TaskMetrics {
	var m models.TaskMetrics
	if supplied != nil {
		m = *supplied
	}

	if m.ExpectedTime <= 0 {
		m.ExpectedTime = expected
	}
	if m.ExpectedTime <= 0 {
		m.ExpectedTime = DefaultExpectedTime
	}
	if m.ActualDuration <= 0 {
		m.ActualDuration = m.ExpectedTime
	}
	if m.NetEffectiveTime <= 0 {
		m.NetEffectiveTime = m.ActualDuration - m.PausedTime
		if m.NetEffectiveTime < 0 {
			m.NetEffectiveTime = 0
		}
	}

	m.Efficiency = float64(m.NetEffectiveTime) / float64(m.ExpectedTime)
	if m.Efficiency > 1.0 {
		m.Efficiency = 1.0
	}

	m.CompletionStatus = classifyCompletion(m.ActualDuration, m.ExpectedTime)
	return m
}

func classifyCompletion(actual, expected int) string {
	ratio := float64(actual) / float64(expected)
	switch {
	case ratio < earlyRatio:
		return CompletionEarly
	case ratio <= onTimeRatio:
		return CompletionOnTime
	default:
		return CompletionLate
	}
}
