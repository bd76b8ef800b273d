package message

import (
	"fmt"
	"time"
)

// DefaultStatus is the status a device reports when a command succeeded.
const DefaultStatus = "OK"

// Message is one command or answer for a device, in both the human
// readable and the wire form.
//
// Implementations are immutable once constructed.
type Message interface {
	// Command returns the command identifier (e.g. "MV", "power", "outlet1").
	Command() string

	// Value returns the value carried by the message, empty for a question.
	Value() string

	// IsQuestion reports whether the message asks the device for its
	// current value.
	IsQuestion() bool

	// AnswerMatches reports whether candidate is an acceptable answer
	// to this message.
	AnswerMatches(candidate Message) bool

	// Decoded returns the human readable form.
	Decoded() string

	// Encoded returns the wire form without line terminator.
	Encoded() string

	// When returns the construction time.
	When() time.Time

	// Status returns the status reported by the device ("OK" or an error code).
	Status() string

	String() string
}

// Matcher is implemented by messages that compare against trigger
// patterns with their own rules, for example with wildcard parts.
type Matcher interface {
	Matches(other Message) bool
}

// Codec translates between the two forms of a device's messages.
type Codec interface {
	// Decode builds a message from its human readable form.
	Decode(decoded string) (Message, error)

	// Parse builds a message from wire data as read from the transport.
	Parse(encoded string) (Message, error)

	// Question builds the question form for a command.
	Question(command string) (Message, error)
}

// New builds a message from exactly one of its two forms.
//
// Parameters:
//   - c: Device codec
//   - decoded: Human readable form, empty if absent
//   - encoded: Wire form, empty if absent
//
// Returns:
//   - Message: The constructed message
//   - error: ErrNoForm, ErrBothForms, or the codec's decoding error
func New(c Codec, decoded, encoded string) (Message, error) {
	switch {
	case decoded == "" && encoded == "":
		return nil, ErrNoForm
	case decoded != "" && encoded != "":
		return nil, fmt.Errorf("%w: decoded %q encoded %q", ErrBothForms, decoded, encoded)
	case decoded != "":
		return c.Decode(decoded)
	default:
		return c.Parse(encoded)
	}
}

// Matches reports whether an event message matches a trigger pattern.
//
// A message implementing Matcher decides for itself. Otherwise a question
// on either side compares commands only and two non-questions must have
// the same decoded form.
func Matches(msg, pattern Message) bool {
	if msg == nil || pattern == nil {
		return false
	}
	if m, ok := msg.(Matcher); ok {
		return m.Matches(pattern)
	}
	if msg.IsQuestion() || pattern.IsQuestion() {
		return msg.Command() == pattern.Command()
	}
	return msg.Decoded() == pattern.Decoded()
}

// Fields holds everything needed to build a Base.
type Fields struct {
	Decoded  string
	Encoded  string
	Command  string
	Value    string
	Question bool
	Status   string
	When     time.Time
}

// Base implements Message for drivers. Driver message types embed it and
// override the methods whose rules differ.
type Base struct {
	decoded  string
	encoded  string
	command  string
	value    string
	question bool
	status   string
	when     time.Time
}

// NewBase builds a Base from its fields. Status defaults to DefaultStatus
// and When to the current time.
func NewBase(f Fields) Base {
	if f.Status == "" {
		f.Status = DefaultStatus
	}
	if f.When.IsZero() {
		f.When = time.Now()
	}
	return Base{
		decoded:  f.Decoded,
		encoded:  f.Encoded,
		command:  f.Command,
		value:    f.Value,
		question: f.Question,
		status:   f.Status,
		when:     f.When,
	}
}

func (b Base) Command() string  { return b.command }
func (b Base) Value() string    { return b.value }
func (b Base) IsQuestion() bool { return b.question }
func (b Base) Decoded() string  { return b.decoded }
func (b Base) Encoded() string  { return b.encoded }
func (b Base) When() time.Time  { return b.when }
func (b Base) Status() string   { return b.status }

// AnswerMatches accepts any answer carrying the same command.
func (b Base) AnswerMatches(candidate Message) bool {
	return candidate != nil && b.command == candidate.Command()
}

// String renders "command:value", or "command?" for a question.
func (b Base) String() string {
	if b.command == "" {
		return b.decoded
	}
	if b.value == "" || b.question {
		return b.command + "?"
	}
	return b.command + ":" + b.value
}
