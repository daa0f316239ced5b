package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/flows"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/store"
	tu "github.com/BTreeMap/FlowPipe/internal/testutil"
)

const (
	askPersonType = "Você é pessoa física (PF) ou pessoa jurídica (PJ)?"
	askInvoice    = "Para consultar sua fatura, preciso do número da nota fiscal ou do pedido.\n\nPode me enviar?"
	userID        = "5511999990000"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeMedia struct{ err error }

func (f fakeMedia) FetchAudio(context.Context, models.NormalizedMessage) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("OggS"), "audio.ogg", nil
}

// failingSessions wraps a SessionStore and fails every write.
type failingSessions struct {
	store.SessionStore
}

func (failingSessions) Upsert(context.Context, *models.SessionState) error {
	return errors.New("disk full")
}

type harness struct {
	t          *testing.T
	llm        *tu.FakeLLM
	sender     *tu.FakeSender
	store      *store.InMemoryStore
	metrics    *metrics.Collector
	router     *Router
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, opts ...func(*Deps, *DispatcherOpts)) *harness {
	t.Helper()
	llm := tu.NewFakeLLM()
	sender := tu.NewFakeSender()
	mem := store.NewInMemoryStore()
	m := metrics.NewCollector()

	global := classify.NewGlobalRouter(llm)
	reg, err := flow.NewRegistry(flows.All(flows.Deps{LLM: llm, Router: global}), nil, flows.Routable)
	require.NoError(t, err)

	deps := Deps{
		Sessions: mem,
		Messages: mem,
		Sender:   sender,
		Engine:   flow.NewEngine(reg, classify.NewSubrouteRouter(llm), flow.WithMetrics(m)),
		Global:   global,
		Shift:    classify.NewTopicShiftDetector(llm),
		Metrics:  m,
	}
	dopts := DispatcherOpts{
		Messages:    mem,
		Sender:      sender,
		Media:       fakeMedia{},
		Transcriber: fakeTranscriber{text: "quero comprar um certificado"},
		Timeout:     5 * time.Second,
		Metrics:     m,
	}
	for _, o := range opts {
		o(&deps, &dopts)
	}
	r := New(deps)
	return &harness{
		t:          t,
		llm:        llm,
		sender:     sender,
		store:      mem,
		metrics:    m,
		router:     r,
		dispatcher: NewDispatcher(r, dopts),
	}
}

func (h *harness) classifyAs(flowID models.FlowType, confidence float64) *harness {
	h.llm.OnJSON(genai.TaskClassifyFlow, map[string]any{"flow": string(flowID), "confidence": confidence, "reason": "test"})
	return h
}

func (h *harness) subroute(id string) *harness {
	h.llm.OnJSON(genai.TaskClassifySubroute, map[string]any{"subroute": id, "confidence": 0.9, "reason": "test"})
	return h
}

func (h *harness) message(id, text string) models.NormalizedMessage {
	return models.NormalizedMessage{
		UserID:    userID,
		MessageID: id,
		Instance:  "inst-1",
		RemoteJID: userID + "@s.whatsapp.net",
		Text:      text,
	}
}

func (h *harness) route(id, text string) string {
	h.t.Helper()
	msg := h.message(id, text)
	_, err := h.store.InsertInboundIfNew(context.Background(), msg)
	require.NoError(h.t, err)
	h.router.Route(context.Background(), "corr-"+id, msg)
	return h.sender.Next(h.t).Text
}

func (h *harness) session() *models.SessionState {
	h.t.Helper()
	st, err := h.store.Get(context.Background(), userID)
	require.NoError(h.t, err)
	return st
}

func (h *harness) seed(st *models.SessionState) {
	h.t.Helper()
	require.NoError(h.t, h.store.Upsert(context.Background(), st))
}

func pass() models.GuardResult {
	return models.GuardResult{ShouldProcess: true, Reason: "ok"}
}

func TestDispatch_NewUserEntersPurchase(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")

	h.dispatcher.Dispatch("corr-1", h.message("m1", "quero comprar um certificado"), pass())
	sent := h.sender.Next(t)
	h.dispatcher.Wait()

	assert.Equal(t, askPersonType, sent.Text)
	assert.Equal(t, "inst-1", sent.Instance)
	assert.Equal(t, userID+"@s.whatsapp.net", sent.To)

	st := h.session()
	require.NotNil(t, st)
	assert.Equal(t, models.FlowDigitalCertificate, st.Flow())
	assert.Equal(t, "purchase", st.Subroute())
	assert.Equal(t, "ask_person_type", st.Step)

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionIn, msgs[0].Direction)
	assert.Equal(t, models.DirectionOut, msgs[1].Direction)
	assert.Equal(t, askPersonType, msgs[1].Text)
}

func TestDispatch_DuplicateProcessedOnce(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")
	msg := h.message("m1", "quero comprar um certificado")

	h.dispatcher.Dispatch("a", msg, pass())
	h.dispatcher.Dispatch("b", msg, pass())
	h.dispatcher.Wait()

	assert.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, 1, h.llm.CallsFor(genai.TaskClassifyFlow))
	n, err := testutil.GatherAndCount(h.metrics.Registry(), "flowpipe_inbound_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one routed and one duplicate series")
}

func TestDispatch_GuardAutoReply(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Dispatch("c", h.message("m1", ""), models.GuardResult{
		ShouldProcess: false,
		Reason:        "unsupported_media",
		AutoReplyText: "Por favor, envie sua mensagem em formato de texto ou áudio.",
	})
	h.dispatcher.Wait()

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "formato de texto")
	assert.Empty(t, h.store.Messages(), "guarded messages are not logged")
	assert.Empty(t, h.llm.Calls())
}

func TestDispatch_GuardSilentDrop(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Dispatch("c", h.message("m1", "oi"), models.GuardResult{Reason: "from_me"})
	h.dispatcher.Wait()
	assert.Empty(t, h.sender.Sent())
}

func TestDispatch_AudioIsTranscribed(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")
	audio := models.MediaAudio
	msg := h.message("m1", "")
	msg.MediaType = &audio

	h.dispatcher.Dispatch("c", msg, models.GuardResult{ShouldProcess: true, RequiresTranscription: true})
	h.dispatcher.Wait()

	require.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, askPersonType, h.sender.Sent()[0].Text)
	msgs := h.store.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "quero comprar um certificado", msgs[0].Text, "transcription replaces the stored text")
}

func TestDispatch_AudioFailures(t *testing.T) {
	cases := map[string]func(*Deps, *DispatcherOpts){
		"empty transcription": func(_ *Deps, o *DispatcherOpts) { o.Transcriber = fakeTranscriber{text: "  "} },
		"transcriber error":   func(_ *Deps, o *DispatcherOpts) { o.Transcriber = fakeTranscriber{err: errors.New("stt down")} },
		"download error":      func(_ *Deps, o *DispatcherOpts) { o.Media = fakeMedia{err: errors.New("404")} },
		"no transcriber":      func(_ *Deps, o *DispatcherOpts) { o.Transcriber = nil },
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, opt)
			h.dispatcher.Dispatch("c", h.message("m1", ""), models.GuardResult{ShouldProcess: true, RequiresTranscription: true})
			h.dispatcher.Wait()

			sent := h.sender.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, AudioFailedReply, sent[0].Text)
			assert.Nil(t, h.session())
			assert.Empty(t, h.llm.Calls())
		})
	}
}

func TestDispatch_SerializesPerUser(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")

	h.dispatcher.Dispatch("a", h.message("m1", "quero comprar um certificado"), pass())
	h.dispatcher.Dispatch("b", h.message("m2", "pessoa física"), pass())
	h.dispatcher.Wait()

	// Whatever the arrival order, both turns ran against a consistent
	// session: the second one either answered the person type question or
	// started the flow.
	assert.Len(t, h.sender.Sent(), 2)
	assert.Equal(t, 0, h.dispatcher.locks.size())
	st := h.session()
	require.NotNil(t, st)
	assert.Equal(t, models.FlowDigitalCertificate, st.Flow())
}

func TestRoute_ConfidenceBands(t *testing.T) {
	t.Run("0.80 accepts", func(t *testing.T) {
		h := newHarness(t).classifyAs(models.FlowBilling, 0.8).subroute(flows.SubrouteInvoiceStatus)
		assert.Equal(t, askInvoice, h.route("m1", "quero ver minha conta"))
		assert.Equal(t, models.FlowBilling, h.session().Flow())
	})

	t.Run("0.79 asks for clarification", func(t *testing.T) {
		h := newHarness(t).classifyAs(models.FlowBilling, 0.79)
		reply := h.route("m1", "quero ver minha conta")
		assert.Equal(t, ClarifyFlowReply(models.FlowBilling), reply)
		assert.Contains(t, reply, "faturamento")
		assert.Nil(t, h.session(), "clarification creates no session")
		assert.Zero(t, h.llm.CallsFor(genai.TaskClassifySubroute))
	})

	t.Run("0.60 still clarifies", func(t *testing.T) {
		h := newHarness(t).classifyAs(models.FlowGeneralSupport, 0.6)
		assert.Equal(t, ClarifyFlowReply(models.FlowGeneralSupport), h.route("m1", "oi"))
	})

	t.Run("below 0.60 falls back to unknown", func(t *testing.T) {
		h := newHarness(t).classifyAs(models.FlowBilling, 0.5)
		h.llm.On(genai.TaskConversationalReply, `{"reply": "Olá! Como posso ajudar?"}`)

		assert.Equal(t, "Olá! Como posso ajudar?", h.route("m1", "oi"))
		st := h.session()
		require.NotNil(t, st)
		assert.Equal(t, models.FlowUnknown, st.Flow())
		assert.Equal(t, "awaiting_reply", st.Step)
	})
}

func TestRoute_ClassificationFailures(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		h := newHarness(t)
		h.llm.OnError(genai.TaskClassifyFlow, errors.New("connection refused"))
		assert.Equal(t, flow.TechnicalErrorReply, h.route("m1", "oi"))
		assert.Nil(t, h.session())
	})

	t.Run("malformed output", func(t *testing.T) {
		h := newHarness(t)
		h.llm.On(genai.TaskClassifyFlow, "definitely not json")
		assert.Equal(t, MalformedReply, h.route("m1", "oi"))
		assert.Nil(t, h.session())
	})

	t.Run("schema mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.llm.On(genai.TaskClassifyFlow, `{"flow": "pizza", "confidence": 0.9, "reason": "x"}`)
		assert.Equal(t, MalformedReply, h.route("m1", "oi"))
	})
}

func TestRoute_TopicShiftContinuity(t *testing.T) {
	h := newHarness(t)
	st := models.NewSession(userID, "inst-1", models.FlowBilling)
	sub := flows.SubrouteInvoiceStatus
	st.ActiveSubroute = &sub
	st.Step = "ask_invoice_id"
	st.Data = models.Data{flow.AskedKey("invoice_id"): true}
	h.seed(st)
	h.llm.OnJSON(genai.TaskDetectTopicShift, map[string]any{"flow": "billing", "confidence": 0.95, "reason": "continuação"})

	reply := h.route("m1", "sim")

	assert.False(t, strings.HasPrefix(reply, TopicShiftPrefix))
	assert.Equal(t, 1, h.llm.CallsFor(genai.TaskDetectTopicShift))
	assert.Zero(t, h.llm.CallsFor(genai.TaskClassifyFlow))
}

func TestRoute_TopicShiftByKeyword(t *testing.T) {
	h := newHarness(t).subroute(flows.SubrouteInvoiceStatus)
	st := models.NewSession(userID, "inst-1", models.FlowDigitalCertificate)
	sub := "purchase"
	st.ActiveSubroute = &sub
	st.Step = "ask_email"
	st.Data = models.Data{"person_type": "PF", flow.AskedKey("email"): true}
	h.seed(st)

	reply := h.route("m1", "na verdade preciso da segunda via do boleto")

	assert.Equal(t, TopicShiftPrefix+askInvoice, reply)
	got := h.session()
	require.NotNil(t, got)
	assert.Equal(t, models.FlowBilling, got.Flow())
	assert.False(t, got.Data.Has("person_type"), "the new flow starts with fresh data")
	assert.Zero(t, h.llm.CallsFor(genai.TaskDetectTopicShift), "keyword tier short-circuits the model")
}

func TestRoute_UnknownSkipsTopicShift(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowUnknown, 0.9)
	st := models.NewSession(userID, "inst-1", models.FlowUnknown)
	st.Step = "awaiting_reply"
	st.Data = models.Data{flow.KeyTurnCount: 1}
	h.seed(st)
	h.llm.On(genai.TaskConversationalReply, `{"reply": "Claro, me conte mais."}`)

	assert.Equal(t, "Claro, me conte mais.", h.route("m1", "tenho uma dúvida"))
	assert.Zero(t, h.llm.CallsFor(genai.TaskDetectTopicShift))
	assert.Equal(t, 2, h.session().Data.Int(flow.KeyTurnCount))
}

func TestRoute_HandoffFromUnknown(t *testing.T) {
	h := newHarness(t).
		classifyAs(models.FlowDigitalCertificate, 0.5).
		classifyAs(models.FlowDigitalCertificate, 0.9).
		subroute("purchase")
	h.llm.On(genai.TaskConversationalReply, `{"reply": "Posso ajudar com certificados."}`)

	reply := h.route("m1", "quero comprar um certificado")

	assert.Equal(t, askPersonType, reply, "the target flow answers in the same turn")
	st := h.session()
	require.NotNil(t, st)
	assert.Equal(t, models.FlowDigitalCertificate, st.Flow())
	assert.Equal(t, "ask_person_type", st.Step)
	assert.False(t, st.Data.Has(flow.KeyHandoffFlow))
}

func TestRoute_DoneDeletesSession(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowBilling, 0.9).subroute(flows.SubrouteInvoiceStatus)
	h.route("m1", "segunda via")
	require.NotNil(t, h.session())

	h.llm.OnJSON(genai.TaskDetectTopicShift, map[string]any{"flow": "billing", "confidence": 0.9, "reason": "x"})
	reply := h.route("m2", "NF 12345")
	assert.Contains(t, reply, "12345")
	assert.Nil(t, h.session())
}

func TestRoute_SafetyOverrideLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	st := models.NewSession(userID, "inst-1", models.FlowGeneralSupport)
	st.Step = "awaiting_problem"
	h.seed(st)
	before := h.session()
	h.llm.OnError(genai.TaskDetectTopicShift, &genai.SafetyOverrideError{Provider: "groq", FailedGeneration: "..."})

	assert.Equal(t, SafetyOverrideText, h.route("m1", "algo impróprio"))

	after := h.session()
	require.NotNil(t, after)
	assert.Equal(t, before.Step, after.Step)
	assert.Equal(t, before.Data, after.Data)
	n, err := testutil.GatherAndCount(h.metrics.Registry(), "flowpipe_safety_overrides_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRoute_SafetyOverrideFromGlobalRouter(t *testing.T) {
	h := newHarness(t)
	h.llm.OnError(genai.TaskClassifyFlow, &genai.SafetyOverrideError{Provider: "groq"})
	assert.Equal(t, SafetyOverrideText, h.route("m1", "algo impróprio"))
	assert.Nil(t, h.session())
}

func TestRoute_PersistenceErrorAborts(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *DispatcherOpts) {
		d.Sessions = failingSessions{d.Sessions}
	}).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")

	assert.Equal(t, flow.TechnicalErrorReply, h.route("m1", "quero comprar um certificado"))
	assert.Len(t, h.sender.Sent(), 1, "the flow reply is not sent after a failed save")
}

func TestRoute_HistoryExcludesCurrentMessage(t *testing.T) {
	h := newHarness(t).classifyAs(models.FlowDigitalCertificate, 0.9).subroute("purchase")
	require.NoError(t, h.store.InsertOutbound(context.Background(), userID, "inst-1", "mensagem anterior"))

	h.route("m1", "quero comprar um certificado")

	calls := h.llm.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[0].User, "mensagem anterior")
	assert.Equal(t, 1, strings.Count(calls[0].User, "quero comprar um certificado"))
}

func TestReplyAddress(t *testing.T) {
	assert.Equal(t, "55@s.whatsapp.net", ReplyAddress(models.NormalizedMessage{UserID: "55", RemoteJID: "55@s.whatsapp.net"}))
	assert.Equal(t, "55", ReplyAddress(models.NormalizedMessage{UserID: "55"}))
}
