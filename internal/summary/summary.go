package summary

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/ldew/stride/internal/config"
	"github.com/ldew/stride/pkg/models"
)

// Mailer sends the daily summary email. It consumes a read-only projection
// of the engine's collections; the engine has no dependency on it
// succeeding.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

func NewMailer(cfg config.SMTP) (*Mailer, error) {
	if cfg.Host == "" || cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("smtp host, from and to must be configured")
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		to:     cfg.To,
	}, nil
}

// Send mails the summary for one day.
func (m *Mailer) Send(day time.Time, completed, unfinished []models.Task) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("Daily summary for %s", day.Format("Mon Jan 2")))
	msg.SetBody("text/html", BuildBody(completed, unfinished))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send summary email: %w", err)
	}
	return nil
}

// BuildBody renders the summary HTML.
func BuildBody(completed, unfinished []models.Task) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<h2>Completed (%d)</h2>\n<ul>\n", len(completed)))
	if len(completed) == 0 {
		sb.WriteString("<li>Nothing completed today.</li>\n")
	}
	for _, t := range completed {
		sb.WriteString("<li><strong>" + htmlEscape(t.Name) + "</strong>")
		if t.Metrics != nil {
			sb.WriteString(fmt.Sprintf(" - %s, %.0f%% efficiency (%s vs %s estimated)",
				t.Metrics.CompletionStatus,
				t.Metrics.Efficiency*100,
				formatDuration(t.Metrics.ActualDuration),
				formatDuration(t.Metrics.ExpectedTime)))
		}
		sb.WriteString("</li>\n")
	}
	sb.WriteString("</ul>\n")

	sb.WriteString(fmt.Sprintf("<h2>Unfinished (%d)</h2>\n<ul>\n", len(unfinished)))
	if len(unfinished) == 0 {
		sb.WriteString("<li>All clear.</li>\n")
	}
	for _, t := range unfinished {
		sb.WriteString("<li>" + htmlEscape(t.Name))
		if t.Status != models.TaskStatusPending {
			sb.WriteString(fmt.Sprintf(" (%s)", t.Status))
		}
		sb.WriteString("</li>\n")
	}
	sb.WriteString("</ul>\n")

	return sb.String()
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
