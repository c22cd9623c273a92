// Package hook implements the webhook subsystem: configuration, invocation,
// commit-gated dispatch, and retry scheduling of durable work items.
package hook

import (
	"encoding/json"
	"fmt"
	"os"
)

// Event is a domain event that hooks can subscribe to.
type Event string

const (
	EventRegistrationCreated  Event = "registration.created"
	EventRegistrationUpdated  Event = "registration.updated"
	EventRegistrationCanceled Event = "registration.canceled"
	EventCartPrice            Event = "cart.price"
	EventCheckoutCreated      Event = "checkout.created"
	EventCheckoutCompleted    Event = "checkout.completed"
	EventCheckoutCanceled     Event = "checkout.canceled"
)

// TargetKind identifies how a hook is delivered.
type TargetKind string

const (
	KindHTTP       TargetKind = "http"
	KindExecutable TargetKind = "executable"
	KindKafka      TargetKind = "kafka"
	KindFunc       TargetKind = "func"
)

// Target describes where a hook delivers to. Exactly one of the kinds must
// be set. Persisted hook-log rows store only this description, never code.
type Target struct {
	URL        string   `json:"url,omitempty"`
	Executable string   `json:"executable,omitempty"`
	Args       []string `json:"args,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Func       string   `json:"func,omitempty"`
}

// Kind returns the target kind, or an error if the target does not describe
// exactly one delivery mechanism.
func (t Target) Kind() (TargetKind, error) {
	var kinds []TargetKind
	if t.URL != "" {
		kinds = append(kinds, KindHTTP)
	}
	if t.Executable != "" {
		kinds = append(kinds, KindExecutable)
	}
	if t.Topic != "" {
		kinds = append(kinds, KindKafka)
	}
	if t.Func != "" {
		kinds = append(kinds, KindFunc)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("hook target must set exactly one of url, executable, topic, func")
	}
	if kinds[0] != KindExecutable && len(t.Args) > 0 {
		return "", fmt.Errorf("hook target args are only valid with an executable")
	}
	return kinds[0], nil
}

// Equal reports whether two targets are identical.
func (t Target) Equal(o Target) bool {
	if t.URL != o.URL || t.Executable != o.Executable || t.Topic != o.Topic || t.Func != o.Func {
		return false
	}
	if len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if t.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// Entry is one configured hook: an event, a target, and whether failed
// deliveries are retried.
type Entry struct {
	On    Event  `json:"on"`
	Hook  Target `json:"hook"`
	Retry bool   `json:"retry"`
}

// UnmarshalJSON defaults retry to true.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	tmp := alias{Retry: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*e = Entry(tmp)
	return nil
}

// Config is the live set of configured hooks.
type Config struct {
	entries []Entry
	byEvent map[Event][]Entry
}

// NewConfig validates the entries and builds a config.
func NewConfig(entries []Entry) (*Config, error) {
	byEvent := make(map[Event][]Entry)
	for i, e := range entries {
		if e.On == "" {
			return nil, fmt.Errorf("hook entry %d: missing event", i)
		}
		if _, err := e.Hook.Kind(); err != nil {
			return nil, fmt.Errorf("hook entry %d: %w", i, err)
		}
		byEvent[e.On] = append(byEvent[e.On], e)
	}
	return &Config{entries: entries, byEvent: byEvent}, nil
}

// LoadConfig reads hook entries from a JSON file. A missing file yields an
// empty config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewConfig(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hook config: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse hook config: %w", err)
	}
	return NewConfig(entries)
}

// ByEvent returns the entries configured for an event.
func (c *Config) ByEvent(event Event) []Entry {
	return c.byEvent[event]
}

// Exists reports whether the entry is present, verbatim, in the live
// config. Stored jobs are checked against this before execution so a row
// cannot invoke a hook that was removed from configuration.
func (c *Config) Exists(entry Entry) bool {
	for _, e := range c.byEvent[entry.On] {
		if e.Hook.Equal(entry.Hook) {
			return true
		}
	}
	return false
}
