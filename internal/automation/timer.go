package automation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// timerRearm is how long a timer stays quiet after firing, so a match
// on the same minute does not fire twice.
const timerRearm = 65 * time.Second

// Field is one timer field: nil accepts any value, otherwise the current
// value must be one of the listed ones.
type Field []int

func (f Field) accepts(v int) bool {
	if f == nil {
		return true
	}
	for _, x := range f {
		if x == v {
			return true
		}
	}
	return false
}

func (f Field) String() string {
	if f == nil {
		return "*"
	}
	parts := make([]string, len(f))
	for i, x := range f {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}

// Schedule holds the five fields of a timer. Weekday counts Monday as 0.
type Schedule struct {
	Minute  Field
	Hour    Field
	Day     Field
	Month   Field
	Weekday Field
}

// Validate checks every value against the range of its field.
func (s Schedule) Validate() error {
	checks := []struct {
		name     string
		field    Field
		min, max int
	}{
		{"minute", s.Minute, 0, 59},
		{"hour", s.Hour, 0, 23},
		{"day", s.Day, 1, 31},
		{"month", s.Month, 1, 12},
		{"weekday", s.Weekday, 0, 6},
	}
	for _, c := range checks {
		for _, v := range c.field {
			if v < c.min || v > c.max {
				return fmt.Errorf("%w: %s %d not in %d..%d", ErrInvalidSchedule, c.name, v, c.min, c.max)
			}
		}
	}
	return nil
}

// Matches reports whether now satisfies every field.
func (s Schedule) Matches(now time.Time) bool {
	return s.Minute.accepts(now.Minute()) &&
		s.Hour.accepts(now.Hour()) &&
		s.Day.accepts(now.Day()) &&
		s.Month.accepts(int(now.Month())) &&
		s.Weekday.accepts(Weekday(now))
}

func (s Schedule) String() string {
	return strings.Join([]string{
		s.Minute.String(), s.Hour.String(), s.Day.String(), s.Month.String(), s.Weekday.String(),
	}, " ")
}

// Weekday returns the day of the week of t with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Timer runs an action when its schedule matches.
type Timer struct {
	Name     string
	Schedule Schedule
	Action   Action
	Args     []string

	mu       sync.Mutex
	lastDone time.Time
}

// Due reports whether the timer fires at now and, if so, records now as
// its last run. A timer that ran within the last 65 seconds is never due.
func (t *Timer) Due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastDone.IsZero() && now.Sub(t.lastDone) <= timerRearm {
		return false
	}
	if !t.Schedule.Matches(now) {
		return false
	}
	t.lastDone = now
	return true
}

// LastDone returns when the timer last fired, zero if never.
func (t *Timer) LastDone() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDone
}
