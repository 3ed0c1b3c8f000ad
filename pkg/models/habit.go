package models

type MetricType string

const (
	MetricBoolean MetricType = "boolean"
	MetricTimer   MetricType = "timer"
	MetricCounter MetricType = "counter"
	MetricRating  MetricType = "rating"
	MetricJournal MetricType = "journal"
)

// Habit is a single recurring practice inside a template. Goal is
// interpreted in minutes for every creation path.
type Habit struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Metric MetricType `json:"metric"`
	Goal   int        `json:"goal"` // minutes
}

// HabitTemplate is a user-configured set of habits with a weekday schedule.
type HabitTemplate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Habits      []Habit  `json:"habits"`
	ActiveDays  []string `json:"active_days"` // short weekday names: Mon, Tue, ...
	Customized  bool     `json:"customized"`
}

// ActiveOn reports whether the template is scheduled for the given short
// weekday name.
func (t *HabitTemplate) ActiveOn(weekday string) bool {
	for _, d := range t.ActiveDays {
		if d == weekday {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the template.
func (t *HabitTemplate) Clone() HabitTemplate {
	c := *t
	c.Habits = append([]Habit(nil), t.Habits...)
	c.ActiveDays = append([]string(nil), t.ActiveDays...)
	return c
}
