package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MilestoneKind represents how a milestone is satisfied
type MilestoneKind string

const (
	MilestoneKindDiscrete MilestoneKind = "discrete"
	MilestoneKindPartial  MilestoneKind = "partial"
)

// SyncStatus represents the state of the local sync engine
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// Value is a milestone value: a boolean for discrete milestones or an
// integer percent (0-100) for partial ones.
type Value struct {
	done    bool
	percent int
	partial bool
}

// BoolValue returns a discrete milestone value
func BoolValue(done bool) Value {
	return Value{done: done}
}

// PercentValue returns a partial milestone value
func PercentValue(percent int) Value {
	return Value{percent: percent, partial: true}
}

// IsPercent reports whether the value carries a percent rather than a boolean
func (v Value) IsPercent() bool {
	return v.partial
}

// Bool returns the boolean form of the value. A percent counts as true only at 100.
func (v Value) Bool() bool {
	if v.partial {
		return v.percent >= 100
	}
	return v.done
}

// Percent returns the percent form of the value. A boolean maps to 0 or 100.
func (v Value) Percent() int {
	if v.partial {
		return v.percent
	}
	if v.done {
		return 100
	}
	return 0
}

// Equal reports whether two values have the same kind and content
func (v Value) Equal(other Value) bool {
	return v == other
}

func (v Value) String() string {
	if v.partial {
		return strconv.Itoa(v.percent)
	}
	return strconv.FormatBool(v.done)
}

// MarshalJSON encodes the value as a bare boolean or number
func (v Value) MarshalJSON() ([]byte, error) {
	if v.partial {
		return []byte(strconv.Itoa(v.percent)), nil
	}
	return []byte(strconv.FormatBool(v.done)), nil
}

// UnmarshalJSON decodes a bare boolean or integer number
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*v = BoolValue(true)
		return nil
	case "false":
		*v = BoolValue(false)
		return nil
	}

	if len(data) == 0 || (data[0] != '-' && (data[0] < '0' || data[0] > '9')) {
		return fmt.Errorf("milestone value must be a boolean or a number, got %s", data)
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("milestone value must be a boolean or a number: %w", err)
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("milestone value must be an integer percent, got %s", n)
	}
	*v = PercentValue(i)
	return nil
}

// MarshalYAML renders the value as a bare boolean or number
func (v Value) MarshalYAML() (interface{}, error) {
	if v.partial {
		return v.percent, nil
	}
	return v.done, nil
}

// ParseValue parses a user-supplied value such as "true", "false" or "60"
func ParseValue(s string) (Value, error) {
	switch s {
	case "true", "yes", "done":
		return BoolValue(true), nil
	case "false", "no":
		return BoolValue(false), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Value{}, &ValidationError{Field: "value", Message: fmt.Sprintf("%q is not true, false or a percent", s)}
	}
	v := PercentValue(n)
	if err := ValidateValue(v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MilestoneState maps milestone names to their current values
type MilestoneState map[string]Value

// Clone returns a copy of the state
func (s MilestoneState) Clone() MilestoneState {
	out := make(MilestoneState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Milestone is one weighted step of a template
type Milestone struct {
	Name   string        `json:"name" yaml:"name"`
	Weight int           `json:"weight" yaml:"weight"`
	Kind   MilestoneKind `json:"kind" yaml:"kind"`
}

// Template is an ordered list of milestones whose weights sum to 100
type Template struct {
	Name       string      `json:"name" yaml:"name"`
	Milestones []Milestone `json:"milestones" yaml:"milestones"`
}

// Milestone looks up a milestone by name
func (t Template) Milestone(name string) (Milestone, bool) {
	for _, m := range t.Milestones {
		if m.Name == name {
			return m, true
		}
	}
	return Milestone{}, false
}

// QueuedUpdate is a milestone mutation waiting to be applied remotely
type QueuedUpdate struct {
	ID            string    `json:"id" yaml:"id"`
	TargetID      string    `json:"targetId" yaml:"targetId"`
	MilestoneName string    `json:"milestoneName" yaml:"milestoneName"`
	Value         Value     `json:"value" yaml:"value"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
	RetryCount    int       `json:"retryCount" yaml:"retryCount"`
	ActorID       string    `json:"actorId" yaml:"actorId"`
	LastError     string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// SameTarget reports whether two updates address the same component milestone
func (u QueuedUpdate) SameTarget(other QueuedUpdate) bool {
	return u.TargetID == other.TargetID && u.MilestoneName == other.MilestoneName
}

// QueueSnapshot is the persisted form of the offline queue
type QueueSnapshot struct {
	Version         int            `json:"version" yaml:"version"`
	Updates         []QueuedUpdate `json:"updates" yaml:"updates"`
	SyncStatus      SyncStatus     `json:"syncStatus" yaml:"syncStatus"`
	LastSyncAttempt *time.Time     `json:"lastSyncAttempt,omitempty" yaml:"lastSyncAttempt,omitempty"`
	FailedUpdates   []QueuedUpdate `json:"failedUpdates" yaml:"failedUpdates"`
}

// Component is a tracked construction item as held by the authoritative store
type Component struct {
	ID              string         `json:"id" yaml:"id"`
	DrawingID       string         `json:"drawing_id,omitempty" yaml:"drawing_id,omitempty"`
	Template        string         `json:"template" yaml:"template"`
	State           MilestoneState `json:"state" yaml:"state"`
	PercentComplete float64        `json:"percent_complete" yaml:"percent_complete"`
	ETag            int64          `json:"etag" yaml:"etag"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Event represents an entry in the audit log
type Event struct {
	ID           int64     `json:"id" db:"id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	ActorID      *string   `json:"actor_id,omitempty" db:"actor_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   *string   `json:"resource_id,omitempty" db:"resource_id"`
	EventType    string    `json:"event_type" db:"event_type"`
	ETag         *int64    `json:"etag,omitempty" db:"etag"`
	Payload      *string   `json:"payload,omitempty" db:"payload"` // JSON
}
