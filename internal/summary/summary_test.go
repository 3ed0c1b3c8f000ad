package summary

import (
	"strings"
	"testing"

	"github.com/ldew/stride/internal/config"
	"github.com/ldew/stride/pkg/models"
)

func TestNewMailerValidation(t *testing.T) {
	// Incomplete configuration is rejected up front
	if _, err := NewMailer(config.SMTP{Host: "smtp.example.com"}); err == nil {
		t.Errorf("Expected error for missing from/to")
	}
	if _, err := NewMailer(config.SMTP{}); err == nil {
		t.Errorf("Expected error for empty config")
	}

	m, err := NewMailer(config.SMTP{
		Host: "smtp.example.com",
		Port: 587,
		From: "stride@example.com",
		To:   "me@example.com",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("Expected mailer")
	}
}

func TestBuildBody(t *testing.T) {
	completed := []models.Task{
		{
			Name: "Focus block",
			Metrics: &models.TaskMetrics{
				ExpectedTime:     1500,
				ActualDuration:   1450,
				Efficiency:       0.97,
				CompletionStatus: "On Time",
			},
		},
		{Name: "Quick <fix>"},
	}
	unfinished := []models.Task{
		{Name: "Write report", Status: models.TaskStatusPending},
		{Name: "Long task", Status: models.TaskStatusDelayed},
	}

	body := BuildBody(completed, unfinished)

	if !strings.Contains(body, "Completed (2)") {
		t.Errorf("Expected completed count header, got:\n%s", body)
	}
	if !strings.Contains(body, "Unfinished (2)") {
		t.Errorf("Expected unfinished count header, got:\n%s", body)
	}
	if !strings.Contains(body, "On Time") || !strings.Contains(body, "97% efficiency") {
		t.Errorf("Expected metrics line, got:\n%s", body)
	}
	if !strings.Contains(body, "24m vs 25m estimated") {
		t.Errorf("Expected duration comparison, got:\n%s", body)
	}
	if !strings.Contains(body, "Quick &lt;fix&gt;") {
		t.Errorf("Expected HTML-escaped name, got:\n%s", body)
	}
	if !strings.Contains(body, "(delayed)") {
		t.Errorf("Expected non-pending status shown, got:\n%s", body)
	}
	if strings.Contains(body, "(pending)") {
		t.Errorf("Pending status should not be annotated, got:\n%s", body)
	}
}

func TestBuildBodyEmpty(t *testing.T) {
	body := BuildBody(nil, nil)
	if !strings.Contains(body, "Nothing completed today.") {
		t.Errorf("Expected empty-completed placeholder, got:\n%s", body)
	}
	if !strings.Contains(body, "All clear.") {
		t.Errorf("Expected empty-unfinished placeholder, got:\n%s", body)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{1450, "24m"},
		{1500, "25m"},
		{3600, "1h00m"},
		{5400, "1h30m"},
		{59, "0m"},
	}
	for _, tc := range tests {
		if got := formatDuration(tc.seconds); got != tc.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
