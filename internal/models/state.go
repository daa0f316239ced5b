package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// StepStart is the step every flow and session begins at.
const StepStart = "start"

// SessionState is the durable per-user position inside a flow.
// ActiveSubroute is only set when ActiveFlow is set and declares subroutes.
type SessionState struct {
	UserID         string    `json:"user_id"`
	Instance       string    `json:"instance"`
	ActiveFlow     *FlowType `json:"active_flow,omitempty"`
	ActiveSubroute *string   `json:"active_subroute,omitempty"`
	Step           string    `json:"step"`
	Data           Data      `json:"data"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// NewSession returns a fresh state for userID positioned at the start of flow.
func NewSession(userID, instance string, flow FlowType) *SessionState {
	return &SessionState{
		UserID:     userID,
		Instance:   instance,
		ActiveFlow: &flow,
		Step:       StepStart,
		Data:       Data{},
	}
}

// Flow returns the active flow or the empty FlowType.
func (s *SessionState) Flow() FlowType {
	if s == nil || s.ActiveFlow == nil {
		return ""
	}
	return *s.ActiveFlow
}

// Subroute returns the active subroute or "".
func (s *SessionState) Subroute() string {
	if s == nil || s.ActiveSubroute == nil {
		return ""
	}
	return *s.ActiveSubroute
}

// Expired reports whether the state is past its sliding expiry at now.
func (s *SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep enough copy for the engine to mutate.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	if s.ActiveFlow != nil {
		f := *s.ActiveFlow
		c.ActiveFlow = &f
	}
	if s.ActiveSubroute != nil {
		r := *s.ActiveSubroute
		c.ActiveSubroute = &r
	}
	c.Data = s.Data.Clone()
	return &c
}

// Data is the open scratchpad carried between steps.
type Data map[string]any

// Clone copies the top level of d.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge shallow-merges patch into a copy of d. A nil value clears the key.
func (d Data) Merge(patch Data) Data {
	out := d.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the value at key as a string, or "".
func (d Data) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Int returns the value at key as an int. JSON numbers arrive as float64.
func (d Data) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// Bool returns the value at key as a bool.
func (d Data) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Has reports whether key is present with a non-nil value.
func (d Data) Has(key string) bool {
	v, ok := d[key]
	return ok && v != nil
}
