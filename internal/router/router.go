// Package router decides which flow handles an inbound message, runs it and
// persists the outcome.
package router

import (
	"context"
	"errors"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/messaging"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/store"
)

// DefaultHistoryLimit is how many prior messages feed the classifiers.
const DefaultHistoryLimit = 5

// Router runs one conversational turn.
type Router struct {
	sessions     store.SessionStore
	messages     store.MessageLog
	sender       messaging.Service
	engine       *flow.Engine
	global       classify.FlowClassifier
	shift        classify.ShiftDetector
	historyLimit int
	metrics      *metrics.Collector
}

// Deps wires a Router.
type Deps struct {
	Sessions     store.SessionStore
	Messages     store.MessageLog
	Sender       messaging.Service
	Engine       *flow.Engine
	Global       classify.FlowClassifier
	Shift        classify.ShiftDetector
	HistoryLimit int
	Metrics      *metrics.Collector
}

func New(d Deps) *Router {
	limit := d.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Router{
		sessions:     d.Sessions,
		messages:     d.Messages,
		sender:       d.Sender,
		engine:       d.Engine,
		global:       d.Global,
		shift:        d.Shift,
		historyLimit: limit,
		metrics:      d.Metrics,
	}
}

// turn is the outcome of routing before persistence. persist is false when
// no session may be written, as for a failed or clarifying classification.
type turn struct {
	reply   string
	next    *models.SessionState
	done    bool
	persist bool
}

// Route loads the session, picks and runs a flow, persists the new state and
// sends the reply. A safety override produces the fixed safe reply and leaves
// the session untouched. The returned error is informational: every path
// has already answered the user.
func (r *Router) Route(ctx context.Context, correlationID string, msg models.NormalizedMessage) error {
	log := logx.Ctx(ctx)

	state, err := r.sessions.Get(ctx, msg.UserID)
	if err != nil {
		log.Error().Err(err).Str("event", "session_load_error").Msg("Router.Route: failed to load session")
		r.reply(ctx, msg, flow.TechnicalErrorReply)
		return err
	}
	history, err := r.messages.LoadRecent(ctx, msg.UserID, r.historyLimit, msg.MessageID)
	if err != nil {
		log.Error().Err(err).Str("event", "history_load_error").Msg("Router.Route: failed to load history")
		r.reply(ctx, msg, flow.TechnicalErrorReply)
		return err
	}

	in := flow.Input{Message: msg, History: history, CorrelationID: correlationID}
	t, err := r.decide(ctx, state, in)
	if err == nil {
		t, err = r.followHandoff(ctx, t, in)
	}
	if err != nil {
		if genai.IsSafetyOverride(err) {
			r.safetyOverride(ctx, msg, err)
			return nil
		}
		log.Error().Err(err).Str("event", "route_message_error").Msg("Router.Route: routing failed")
		r.reply(ctx, msg, flow.TechnicalErrorReply)
		return err
	}

	if t.persist {
		if err := r.save(ctx, msg.UserID, t); err != nil {
			log.Error().Err(err).Str("event", "session_persist_error").Msg("Router.Route: failed to persist session")
			r.reply(ctx, msg, flow.TechnicalErrorReply)
			return err
		}
	}

	r.reply(ctx, msg, t.reply)
	return nil
}

// decide chooses between continuing the active flow, switching topic and
// classifying from scratch.
func (r *Router) decide(ctx context.Context, state *models.SessionState, in flow.Input) (turn, error) {
	log := logx.Ctx(ctx)
	msg := in.Message

	if state == nil || state.ActiveFlow == nil {
		return r.classifyNew(ctx, in)
	}

	current := state.Flow()
	if current != models.FlowUnknown {
		shift, err := r.shift.DetectShift(ctx, msg.Text, current, in.History)
		if err != nil {
			return turn{}, err
		}
		if shift != nil {
			log.Info().
				Str("event", "flow_transition").
				Str("from_flow", string(current)).
				Str("flow", string(shift.Flow)).
				Float64("confidence", shift.Confidence).
				Msg("Router.decide: topic shift")
			in.State = r.fresh(state, msg, shift.Flow)
			t, err := r.execute(ctx, in)
			t.reply = TopicShiftPrefix + t.reply
			return t, err
		}
	}

	log.Info().
		Str("event", "flow_continued").
		Str("flow", string(current)).
		Msg("Router.decide: continuing active flow")
	in.State = state
	return r.execute(ctx, in)
}

// classifyNew consults the Global Router for a user without a session.
func (r *Router) classifyNew(ctx context.Context, in flow.Input) (turn, error) {
	log := logx.Ctx(ctx)
	msg := in.Message

	result, err := r.global.ClassifyFlow(ctx, msg.Text, in.History)
	if err != nil {
		if genai.IsSafetyOverride(err) {
			return turn{}, err
		}
		kind := classify.FailureKindOf(err)
		log.Warn().Err(err).
			Str("event", "classify_flow_failed").
			Str("error_type", string(kind)).
			Msg("Router.classifyNew: classification failed")
		if kind == classify.KindLLMError || kind == "" {
			return turn{reply: flow.TechnicalErrorReply}, nil
		}
		return turn{reply: MalformedReply}, nil
	}

	target := models.FlowUnknown
	switch models.BandOf(result.Confidence) {
	case models.BandAccept:
		target = result.Flow
	case models.BandClarify:
		if result.Flow != models.FlowUnknown {
			log.Info().
				Str("event", "flow_clarify").
				Str("flow", string(result.Flow)).
				Float64("confidence", result.Confidence).
				Msg("Router.classifyNew: asking the user to confirm the topic")
			return turn{reply: ClarifyFlowReply(result.Flow)}, nil
		}
	}

	log.Info().
		Str("event", "flow_transition").
		Str("flow", string(target)).
		Float64("confidence", result.Confidence).
		Msg("Router.classifyNew: entering flow")
	in.State = models.NewSession(msg.UserID, msg.Instance, target)
	return r.execute(ctx, in)
}

// followHandoff re-runs the turn in the flow the unknown flow handed over to.
func (r *Router) followHandoff(ctx context.Context, t turn, in flow.Input) (turn, error) {
	if t.next == nil {
		return t, nil
	}
	target := models.FlowType(t.next.Data.String(flow.KeyHandoffFlow))
	if target == "" {
		return t, nil
	}
	if !target.Valid() || target == models.FlowUnknown {
		delete(t.next.Data, flow.KeyHandoffFlow)
		return t, nil
	}

	logx.Ctx(ctx).Info().
		Str("event", "flow_transition").
		Str("from_flow", string(models.FlowUnknown)).
		Str("flow", string(target)).
		Str("reason", "handoff_from_unknown").
		Msg("Router.followHandoff: handing over")
	in.State = models.NewSession(in.Message.UserID, in.Message.Instance, target)
	return r.execute(ctx, in)
}

func (r *Router) execute(ctx context.Context, in flow.Input) (turn, error) {
	res, err := r.engine.Execute(ctx, in)
	if err != nil {
		return turn{}, err
	}
	return turn{reply: res.Reply, next: res.Next, done: res.Done, persist: true}, nil
}

// fresh starts flowID for the owner of prev, dropping prev's data.
func (r *Router) fresh(prev *models.SessionState, msg models.NormalizedMessage, flowID models.FlowType) *models.SessionState {
	instance := msg.Instance
	if instance == "" {
		instance = prev.Instance
	}
	return models.NewSession(prev.UserID, instance, flowID)
}

func (r *Router) save(ctx context.Context, userID string, t turn) error {
	if t.done || t.next == nil {
		return r.sessions.Delete(ctx, userID)
	}
	return r.sessions.Upsert(ctx, t.next)
}

func (r *Router) safetyOverride(ctx context.Context, msg models.NormalizedMessage, err error) {
	var so *genai.SafetyOverrideError
	ev := logx.Ctx(ctx).Warn().Str("event", "safety_override")
	if errors.As(err, &so) {
		ev = ev.Str("provider", so.Provider).Int("failed_generation_length", len(so.FailedGeneration))
	}
	ev.Msg("Router.Route: provider refused for policy reasons")
	r.metrics.RecordSafetyOverride("route")
	r.reply(ctx, msg, SafetyOverrideText)
}

// reply sends text and logs it as outbound. Both failures are only logged.
func (r *Router) reply(ctx context.Context, msg models.NormalizedMessage, text string) {
	log := logx.Ctx(ctx)
	if !r.sender.SendText(ctx, msg.Instance, ReplyAddress(msg), text) {
		log.Warn().Str("event", "reply_not_delivered").Msg("Router.reply: delivery failed")
	}
	if err := r.messages.InsertOutbound(ctx, msg.UserID, msg.Instance, text); err != nil {
		log.Error().Err(err).Str("event", "outbound_persist_error").Msg("Router.reply: failed to log outbound message")
	}
}

// ReplyAddress is the destination for replies to msg: the remote JID when the
// channel gave one, the user id otherwise.
func ReplyAddress(msg models.NormalizedMessage) string {
	if msg.RemoteJID != "" {
		return msg.RemoteJID
	}
	return msg.UserID
}
