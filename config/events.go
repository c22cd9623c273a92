package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Event describes a configured event and its option pricing.
type Event struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Currency string                 `json:"currency"`
	Options  map[string]EventOption `json:"options"`
}

// EventOption is a purchasable registration option.
type EventOption struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// EventConfig is the set of configured events.
type EventConfig struct {
	Events []Event `json:"events"`
}

// LoadEvents reads the event configuration from a JSON file.
func LoadEvents(path string) (*EventConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event config: %w", err)
	}

	var cfg EventConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse event config: %w", err)
	}

	for _, ev := range cfg.Events {
		if ev.ID == "" {
			return nil, fmt.Errorf("event config entry missing id")
		}
	}
	return &cfg, nil
}

// Get returns the event with the given ID, or nil.
func (c *EventConfig) Get(id string) *Event {
	for i := range c.Events {
		if c.Events[i].ID == id {
			ev := c.Events[i]
			if ev.Currency == "" {
				ev.Currency = "USD"
			}
			return &ev
		}
	}
	return nil
}
