package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Step outcomes reported to metrics.
const (
	OutcomeOK             = "ok"
	OutcomeDone           = "done"
	OutcomeError          = "error"
	OutcomeFlowNotFound   = "flow_not_found"
	OutcomeStepNotFound   = "step_not_found"
	OutcomeSubrouteUnsure = "subroute_unclear"
	OutcomeSafety         = "safety_override"
)

// Input is one engine invocation.
type Input struct {
	State         *models.SessionState
	Message       models.NormalizedMessage
	History       []models.ChatMessage
	CorrelationID string
}

// Result is the reply and the state to persist. When Done is true the caller
// deletes the session instead of saving Next.
type Result struct {
	Reply string
	Next  *models.SessionState
	Done  bool
}

// Engine runs one step of the session's active flow.
type Engine struct {
	registry  *Registry
	subroutes classify.SubrouteClassifier
	metrics   *metrics.Collector
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics records step outcomes on c.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine builds an engine over a validated registry.
func NewEngine(registry *Registry, subroutes classify.SubrouteClassifier, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry, subroutes: subroutes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the current step. Safety overrides are returned as errors;
// every other failure becomes a reply.
func (e *Engine) Execute(ctx context.Context, in Input) (Result, error) {
	if in.State == nil {
		return Result{}, fmt.Errorf("flow: nil session state")
	}
	state := in.State.Clone()
	if state.Data == nil {
		state.Data = models.Data{}
	}
	flowID := models.FlowUnknown
	if state.ActiveFlow != nil {
		flowID = *state.ActiveFlow
	}
	log := logx.Ctx(ctx).With().Str("flow", string(flowID)).Logger()

	def, ok := e.registry.Get(flowID)
	if !ok {
		log.Error().Str("event", "flow_not_found").Msg("Engine.Execute: flow not registered")
		e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeFlowNotFound)
		return e.reset(state, TechnicalErrorReply), nil
	}

	if def.HasSubroutes() && state.ActiveSubroute == nil {
		sel, err := e.selectSubroute(ctx, def, in)
		if err != nil {
			e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeSafety)
			return Result{}, err
		}
		switch {
		case sel.clarify:
			e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeSubrouteUnsure)
			state.ActiveFlow = &flowID
			state.ActiveSubroute = nil
			state.Step = models.StepStart
			return Result{Reply: ClarifySubrouteReply, Next: state}, nil
		case sel.id != "":
			state.ActiveSubroute = &sel.id
			state.Step = sel.entry
		default:
			// confidently none of the subroutes: the flow's own start step answers
			state.Step = models.StepStart
		}
	}

	handler, ok := def.handler(state.ActiveSubroute, state.Step)
	if !ok {
		log.Error().
			Str("event", "step_not_found").
			Str("subroute", state.Subroute()).
			Str("step", state.Step).
			Msg("Engine.Execute: no handler for step")
		e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeStepNotFound)
		return e.reset(state, RestartReply), nil
	}

	res, err := handler.Handle(ctx, &Context{
		State:         state,
		Message:       in.Message,
		History:       in.History,
		CorrelationID: in.CorrelationID,
	})
	if err != nil {
		if genai.IsSafetyOverride(err) {
			e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeSafety)
			return Result{}, err
		}
		log.Error().Err(err).
			Str("event", "step_execution_error").
			Str("subroute", state.Subroute()).
			Str("step", state.Step).
			Msg("Engine.Execute: step failed")
		e.metrics.RecordFlowStep(string(flowID), state.Step, OutcomeError)
		return Result{Reply: TechnicalErrorReply, Next: in.State.Clone()}, nil
	}

	from, subroute := state.Step, state.Subroute()
	next := state
	next.Data = state.Data.Merge(res.DataPatch)
	next.Step = res.NextStep
	if next.Step == "" {
		next.Step = from
	}
	outcome := OutcomeOK
	if res.Done {
		next.ActiveFlow = nil
		next.ActiveSubroute = nil
		outcome = OutcomeDone
	}

	log.Info().
		Str("event", "step_executed").
		Str("subroute", subroute).
		Str("from_step", from).
		Str("to_step", next.Step).
		Bool("done", res.Done).
		Msg("Engine.Execute: step executed")
	e.metrics.RecordFlowStep(string(flowID), from, outcome)

	return Result{Reply: res.Reply, Next: next, Done: res.Done}, nil
}

// subrouteSelection is the Subroute Router outcome as the engine sees it.
// An empty id without clarify means the user confidently wants none of the
// declared subroutes.
type subrouteSelection struct {
	id      string
	entry   string
	clarify bool
}

// selectSubroute asks the Subroute Router for def. Only safety overrides are
// returned as errors; every other failure becomes a clarification.
func (e *Engine) selectSubroute(ctx context.Context, def *Definition, in Input) (subrouteSelection, error) {
	log := logx.Ctx(ctx).With().Str("flow", string(def.ID)).Logger()
	unsure := subrouteSelection{clarify: true}

	ids := def.SubrouteIDs()
	options := make([]classify.SubrouteOption, 0, len(ids))
	for _, id := range ids {
		options = append(options, classify.SubrouteOption{ID: id, Description: def.Subroutes[id].Description})
	}

	res, err := e.subroutes.ClassifySubroute(ctx, in.Message.Text, def.ID, options, in.History)
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return subrouteSelection{}, err
		}
		log.Info().
			Str("event", "subroute_unclear").
			Str("error_type", string(classify.FailureKindOf(err))).
			Msg("Engine.selectSubroute: classification failed")
		return unsure, nil
	}
	if models.BandOf(res.Confidence) != models.BandAccept {
		log.Info().
			Str("event", "subroute_unclear").
			Str("error_type", "low_confidence").
			Float64("confidence", res.Confidence).
			Msg("Engine.selectSubroute: no confident subroute")
		return unsure, nil
	}
	if res.Subroute == nil {
		log.Info().
			Str("event", "subroute_none").
			Float64("confidence", res.Confidence).
			Msg("Engine.selectSubroute: no subroute applies, running flow start")
		return subrouteSelection{}, nil
	}
	sr, ok := def.Subroutes[*res.Subroute]
	if !ok {
		log.Info().
			Str("event", "subroute_unclear").
			Str("error_type", string(classify.KindInvalidSubroute)).
			Str("subroute", *res.Subroute).
			Msg("Engine.selectSubroute: undeclared subroute")
		return unsure, nil
	}

	log.Info().
		Str("event", "subroute_selected").
		Str("subroute", *res.Subroute).
		Float64("confidence", res.Confidence).
		Msg("Engine.selectSubroute: subroute selected")
	return subrouteSelection{id: *res.Subroute, entry: sr.EntryStep}, nil
}

// reset clears the flow and ends the session.
func (e *Engine) reset(state *models.SessionState, reply string) Result {
	state.ActiveFlow = nil
	state.ActiveSubroute = nil
	state.Step = models.StepStart
	state.Data = models.Data{}
	return Result{Reply: reply, Next: state, Done: true}
}
