// Package flow holds the versioned flow registry and the engine that runs one
// step of a flow per inbound message.
package flow

import (
	"context"
	"sort"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Context is what a step handler sees for one message.
type Context struct {
	State         *models.SessionState
	Message       models.NormalizedMessage
	History       []models.ChatMessage
	CorrelationID string
}

// Text is the trimmed message text.
func (c *Context) Text() string { return strings.TrimSpace(c.Message.Text) }

// Data is the session scratchpad. Handlers must not mutate it; they return a
// patch instead.
func (c *Context) Data() models.Data {
	if c.State == nil || c.State.Data == nil {
		return models.Data{}
	}
	return c.State.Data
}

// StepResult is a handler outcome. DataPatch is shallow-merged into the
// session data; a nil value removes the key.
type StepResult struct {
	Reply     string
	NextStep  string
	DataPatch models.Data
	Done      bool
}

// StepHandler runs one step.
type StepHandler interface {
	Handle(ctx context.Context, c *Context) (StepResult, error)
}

// HandlerFunc adapts a function to StepHandler.
type HandlerFunc func(ctx context.Context, c *Context) (StepResult, error)

func (f HandlerFunc) Handle(ctx context.Context, c *Context) (StepResult, error) {
	return f(ctx, c)
}

// Steps maps step ids to handlers.
type Steps map[string]StepHandler

// Subroute is a sub-procedure entered through EntryStep.
type Subroute struct {
	Description string
	EntryStep   string
	Steps       Steps
}

// Definition is one version of a flow.
type Definition struct {
	ID        models.FlowType
	Version   string
	Active    bool
	Steps     Steps
	Subroutes map[string]Subroute
}

// HasSubroutes reports whether the flow declares any subroute.
func (d *Definition) HasSubroutes() bool { return len(d.Subroutes) > 0 }

// SubrouteIDs returns the declared subroute ids, sorted.
func (d *Definition) SubrouteIDs() []string {
	ids := make([]string, 0, len(d.Subroutes))
	for id := range d.Subroutes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// handler resolves (subroute, step). An undeclared subroute falls back to the
// top-level steps.
func (d *Definition) handler(subroute *string, step string) (StepHandler, bool) {
	if subroute != nil {
		if sr, ok := d.Subroutes[*subroute]; ok {
			h, ok := sr.Steps[step]
			return h, ok
		}
	}
	h, ok := d.Steps[step]
	return h, ok
}
