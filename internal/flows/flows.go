// Package flows contains the scripted conversations FlowPipe can run.
package flows

import (
	"time"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/extract"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Version of every built-in flow.
const Version = "v1"

// closingLine ends replies that finish a flow.
const closingLine = "Se precisar de mais alguma coisa, é só enviar uma mensagem!"

// Deps are the collaborators step handlers call.
type Deps struct {
	LLM       genai.Caller
	Router    classify.FlowClassifier
	Extractor *extract.Extractor
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Routable are the flows the global router may select.
var Routable = models.AllFlowTypes

// All returns every built-in flow definition.
func All(deps Deps) []*flow.Definition {
	if deps.Extractor == nil && deps.LLM != nil {
		deps.Extractor = extract.New(deps.LLM)
	}
	return []*flow.Definition{
		unknownFlow(deps),
		generalSupportFlow(deps),
		certificateFlow(deps),
		billingFlow(),
	}
}
