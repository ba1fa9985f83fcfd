package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventTypes is the allow-list of event names a subscription accepts.
// An entry ending in ".*" matches every event under that prefix.
type EventTypes []string

// Allows reports whether eventType passes the filter. An empty list accepts all.
func (e EventTypes) Allows(eventType string) bool {
	if len(e) == 0 {
		return true
	}
	for _, pattern := range e {
		if pattern == "*" || pattern == eventType {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok && strings.HasPrefix(eventType, prefix+".") {
			return true
		}
	}
	return false
}

// Value stores the list as a JSON array; an empty list is stored as NULL.
func (e EventTypes) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *EventTypes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("event_types: unsupported type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*e = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("event_types: %w", err)
	}
	*e = out
	return nil
}

// Subscription is the receiver configuration. The core only reads it.
type Subscription struct {
	ID         string     `db:"id"          json:"id"`
	TargetURL  string     `db:"target_url"  json:"target_url"`
	Secret     *string    `db:"secret"      json:"secret,omitempty"`
	EventTypes EventTypes `db:"event_types" json:"event_types,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"  json:"updated_at"`
}

// SigningSecret returns the shared secret, or "" when requests are unsigned.
func (s Subscription) SigningSecret() string {
	if s.Secret == nil {
		return ""
	}
	return *s.Secret
}
