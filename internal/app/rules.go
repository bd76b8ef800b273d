package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/infrastructure/config"
)

// OSDAction is the action name of the on-screen display.
const OSDAction = "osd"

// Resolve returns the action a device offers under name. It serves the
// MQTT bridge and the API as well as the configured rules.
func (a *App) Resolve(dev, name string) (automation.Action, bool) {
	actions, ok := a.actions[dev]
	if !ok {
		return nil, false
	}
	action, ok := actions[name]
	return action, ok
}

// ActionNames lists "<device>.<action>" for every device action, sorted.
func (a *App) ActionNames() []string {
	var names []string
	for dev, actions := range a.actions {
		for name := range actions {
			names = append(names, dev+"."+name)
		}
	}
	sort.Strings(names)
	return names
}

// lookup resolves a configured action, either "osd" or "<device>.<action>".
func (a *App) lookup(full string) (automation.Action, error) {
	if full == OSDAction {
		if a.osd == nil {
			return nil, fmt.Errorf("%w: %s (osd disabled)", ErrUnknownAction, full)
		}
		return a.osd.Action(), nil
	}
	dev, name, _ := strings.Cut(full, ".")
	action, ok := a.Resolve(dev, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, full)
	}
	return action, nil
}

// pattern decodes a configured pattern with the codec of its source.
func (a *App) pattern(p config.PatternConfig) (automation.Pattern, error) {
	if p.Message == "" {
		return automation.Pattern{Source: p.Source}, nil
	}
	dev, ok := a.registry.Get(p.Source)
	if !ok {
		return automation.Pattern{}, fmt.Errorf("%w: %q", ErrUnknownSource, p.Source)
	}
	msg, err := dev.Message(p.Message)
	if err != nil {
		return automation.Pattern{}, fmt.Errorf("pattern %s:%s: %w", p.Source, p.Message, err)
	}
	return automation.Pattern{Source: p.Source, Message: msg}, nil
}

func field(values []int) automation.Field {
	if len(values) == 0 {
		return nil
	}
	return automation.Field(values)
}

func schedule(sc config.ScheduleConfig) automation.Schedule {
	return automation.Schedule{
		Minute:  field(sc.Minute),
		Hour:    field(sc.Hour),
		Day:     field(sc.Day),
		Month:   field(sc.Month),
		Weekday: field(sc.Weekday),
	}
}

// addRules registers the configured triggers, in file order, and timers.
func (a *App) addRules(triggers []config.TriggerConfig, timers []config.TimerConfig) error {
	for _, tc := range triggers {
		action, err := a.lookup(tc.Action)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", tc.Name, err)
		}
		patterns := make([]automation.Pattern, 0, len(tc.Patterns))
		for _, pc := range tc.Patterns {
			p, err := a.pattern(pc)
			if err != nil {
				return fmt.Errorf("trigger %q: %w", tc.Name, err)
			}
			patterns = append(patterns, p)
		}

		add := a.hal.AddTrigger
		if tc.Repeat {
			add = a.hal.AddRepeatableTrigger
		}
		t, err := add(tc.Name, patterns, action, tc.Args...)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", tc.Name, err)
		}
		t.StopIfMatch = tc.StopIfMatch
		if tc.MaxTime > 0 {
			t.MaxTime = tc.MaxTime
		}
	}

	for _, tc := range timers {
		action, err := a.lookup(tc.Action)
		if err != nil {
			return fmt.Errorf("timer %q: %w", tc.Name, err)
		}
		if _, err := a.hal.AddTimer(tc.Name, action, schedule(tc.Schedule), tc.Args...); err != nil {
			return err
		}
	}
	return nil
}
