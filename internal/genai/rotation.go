package genai

import "sync/atomic"

// Rotation hands out a provider's credentials round-robin. Safe for concurrent use.
type Rotation struct {
	keys   []string
	cursor atomic.Uint64
}

// NewRotation copies keys into a new rotation.
func NewRotation(keys []string) *Rotation {
	return &Rotation{keys: append([]string(nil), keys...)}
}

// Next returns the next credential, or "" when there are none.
func (r *Rotation) Next() string {
	if len(r.keys) == 0 {
		return ""
	}
	i := r.cursor.Add(1) - 1
	return r.keys[i%uint64(len(r.keys))]
}

// Len is the number of credentials.
func (r *Rotation) Len() int { return len(r.keys) }
