package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/halirc/internal/message"
)

// DefaultHistorySize is how many events the Hal remembers for matching.
const DefaultHistorySize = 50

// Event is something that happened: a remote button, a device reporting
// a changed value, a timer firing or a remote command.
type Event struct {
	ID      string
	Source  string
	Message message.Message
	When    time.Time
}

// NewEvent creates an event from source carrying msg. The event time is
// the message creation time.
func NewEvent(source string, msg message.Message) Event {
	when := time.Now()
	if msg != nil && !msg.When().IsZero() {
		when = msg.When()
	}
	return Event{
		ID:      uuid.NewString(),
		Source:  source,
		Message: msg,
		When:    when,
	}
}

func (e Event) String() string {
	if e.Message == nil {
		return e.Source
	}
	return fmt.Sprintf("%s:%s", e.Source, e.Message)
}

// Pattern describes an event a trigger waits for.
//
// An empty Source matches any source. A nil Message matches any message
// from the source.
type Pattern struct {
	Source  string
	Message message.Message
}

// Matches reports whether ev fits the pattern.
func (p Pattern) Matches(ev Event) bool {
	if p.Source != "" && p.Source != ev.Source {
		return false
	}
	if p.Message == nil {
		return true
	}
	return message.Matches(ev.Message, p.Message)
}

func (p Pattern) String() string {
	if p.Message == nil {
		return p.Source + ":*"
	}
	return fmt.Sprintf("%s:%s", p.Source, p.Message)
}

// History is a bounded rolling window of events.
type History struct {
	mu     sync.Mutex
	size   int
	events []Event
}

// NewHistory creates a history keeping the last size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Append adds ev and returns a copy of the window including it.
func (h *History) Append(ev Event) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)
	if len(h.events) > h.size {
		h.events = append([]Event(nil), h.events[len(h.events)-h.size:]...)
	}
	return append([]Event(nil), h.events...)
}

// Events returns a copy of the window, oldest first.
func (h *History) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}
