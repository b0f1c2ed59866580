package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// EventSet is the set of event types a webhook subscribes to, stored as a JSON array.
type EventSet []EventType

func (s EventSet) Contains(t EventType) bool {
	for _, v := range s {
		if v == t {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s EventSet) Value() (driver.Value, error) {
	if s == nil {
		s = EventSet{}
	}
	b, err := json.Marshal([]EventType(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *EventSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("event set: unsupported column type")
	}
	var out []EventType
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// ParseEventSet validates and de-duplicates raw event names.
// Unknown names are rejected so a typo can never create a subscription that never matches.
func ParseEventSet(raw []string) (EventSet, error) {
	if len(raw) == 0 {
		return nil, ErrNoEventTypes
	}
	seen := make(map[EventType]struct{}, len(raw))
	out := make(EventSet, 0, len(raw))
	for _, r := range raw {
		t, ok := ParseEventType(r)
		if !ok {
			return nil, &InvalidEventTypeError{Name: r}
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Webhook is a registered receiver (subscription).
type Webhook struct {
	ID        string    `db:"id"         json:"id"`
	TenantID  string    `db:"tenant_id"  json:"tenant_id"`
	Name      string    `db:"name"       json:"name"`
	URL       string    `db:"url"        json:"url"`
	Secret    string    `db:"secret"     json:"-"`
	Events    EventSet  `db:"events"     json:"events"`
	IsActive  bool      `db:"is_active"  json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SecretHint returns a masked form of the secret safe for listings.
func (w Webhook) SecretHint() string {
	if len(w.Secret) <= 4 {
		return "****"
	}
	return "****" + w.Secret[len(w.Secret)-4:]
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	return u.String(), nil
}
