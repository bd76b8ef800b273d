package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/message"
)

// handleDispatcher returns the running and queued occurrences.
func (s *Server) handleDispatcher(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hal.Dispatcher().Snapshot())
}

// TriggerInfo describes a registered trigger.
type TriggerInfo struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns"`
	Args        []string `json:"args,omitempty"`
	MayRepeat   bool     `json:"may_repeat"`
	StopIfMatch bool     `json:"stop_if_match"`
	MaxTime     string   `json:"max_time"`
}

// handleListTriggers returns the triggers in evaluation order.
func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	triggers := s.hal.Triggers()
	out := make([]TriggerInfo, 0, len(triggers))
	for _, t := range triggers {
		info := TriggerInfo{
			Name:        t.Name,
			Args:        t.Args,
			MayRepeat:   t.MayRepeat,
			StopIfMatch: t.StopIfMatch,
			MaxTime:     t.MaxTime.String(),
		}
		for _, p := range t.Patterns {
			info.Patterns = append(info.Patterns, p.String())
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": out, "count": len(out)})
}

// TimerInfo describes a registered timer.
type TimerInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Args     []string   `json:"args,omitempty"`
	LastDone *time.Time `json:"last_done,omitempty"`
}

// handleListTimers returns the timers.
func (s *Server) handleListTimers(w http.ResponseWriter, _ *http.Request) {
	timers := s.hal.Timers()
	out := make([]TimerInfo, 0, len(timers))
	for _, t := range timers {
		info := TimerInfo{Name: t.Name, Schedule: t.Schedule.String(), Args: t.Args}
		if last := t.LastDone(); !last.IsZero() {
			info.LastDone = &last
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"timers": out, "count": len(out)})
}

// EventInfo describes an event in the history.
type EventInfo struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// handleListEvents returns the event history the triggers match against,
// oldest first.
func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	history := s.hal.History()
	out := make([]EventInfo, 0, len(history))
	for _, ev := range history {
		info := EventInfo{ID: ev.ID, Source: ev.Source, When: ev.When}
		if ev.Message != nil {
			info.Message = ev.Message.Decoded()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

// InjectEventRequest is the body of POST /events.
type InjectEventRequest struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// handleInjectEvent routes an event as if source had produced it. When
// source is a registered device the message is decoded with its codec,
// so patterns compare exactly as for real input.
func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	var req InjectEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" || req.Message == "" {
		writeBadRequest(w, "source and message are required")
		return
	}

	var msg message.Message
	if d, ok := s.registry.Get(req.Source); ok {
		decoded, err := d.Message(req.Message)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		msg = decoded
	} else {
		msg = message.NewBase(message.Fields{Decoded: req.Message, Encoded: req.Message})
	}

	ev := automation.NewEvent(req.Source, msg)
	s.hal.EventReceived(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID})
}
