package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Action is what a trigger or timer runs. ev is the event that caused it.
//
// An action may block on device requests. It must honour ctx, which is
// cancelled when the watchdog gives up on it or at shutdown.
type Action func(ctx context.Context, ev Event, args ...string) error

// Trigger runs its action when the newest events match its patterns.
type Trigger struct {
	Name     string
	Patterns []Pattern

	// MaxTime bounds the span between the first and the last matched
	// event. Defaults to one second per pattern after the first.
	MaxTime time.Duration

	Action Action
	Args   []string

	// MayRepeat disables debouncing.
	MayRepeat bool

	// StopIfMatch prevents later triggers from being evaluated when this
	// one matches.
	StopIfMatch bool
}

// NewTrigger validates the parts and returns a trigger with defaults applied.
func NewTrigger(name string, patterns []Pattern, action Action, args ...string) (*Trigger, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: trigger %q", ErrNoPattern, name)
	}
	if action == nil {
		return nil, fmt.Errorf("%w: trigger %q", ErrNoAction, name)
	}
	return &Trigger{
		Name:     name,
		Patterns: patterns,
		MaxTime:  time.Duration(len(patterns)-1) * time.Second,
		Action:   action,
		Args:     args,
	}, nil
}

// Matches reports whether the tail of history matches the patterns
// element-wise within MaxTime.
func (t *Trigger) Matches(history []Event) bool {
	n := len(t.Patterns)
	if n == 0 || len(history) < n {
		return false
	}
	tail := history[len(history)-n:]
	if n > 1 && tail[n-1].When.Sub(tail[0].When) > t.MaxTime {
		return false
	}
	for i, p := range t.Patterns {
		if !p.Matches(tail[i]) {
			return false
		}
	}
	return true
}

func (t *Trigger) String() string {
	parts := make([]string, 0, len(t.Patterns))
	for _, p := range t.Patterns {
		parts = append(parts, p.String())
	}
	s := fmt.Sprintf("%s [%s]", t.Name, strings.Join(parts, ","))
	if len(t.Args) > 0 {
		s += fmt.Sprintf(" args=%v", t.Args)
	}
	return s
}
