package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

type fakeSubroutes struct {
	result *classify.SubrouteResult
	err    error
	calls  int
	seen   []classify.SubrouteOption
}

func (f *fakeSubroutes) ClassifySubroute(_ context.Context, _ string, _ models.FlowType, options []classify.SubrouteOption, _ []models.ChatMessage) (*classify.SubrouteResult, error) {
	f.calls++
	f.seen = options
	return f.result, f.err
}

func subroute(id string, conf float64) *classify.SubrouteResult {
	return &classify.SubrouteResult{Subroute: &id, Confidence: conf, Reason: "test"}
}

func reply(text, next string, patch models.Data, done bool) StepHandler {
	return HandlerFunc(func(context.Context, *Context) (StepResult, error) {
		return StepResult{Reply: text, NextStep: next, DataPatch: patch, Done: done}, nil
	})
}

func testRegistry(t *testing.T, defs ...*Definition) *Registry {
	t.Helper()
	reg, err := NewRegistry(defs, nil, nil)
	require.NoError(t, err)
	return reg
}

func sessionIn(flow models.FlowType, step string, data models.Data) *models.SessionState {
	s := models.NewSession("5511999990000", "inst", flow)
	s.Step = step
	if data != nil {
		s.Data = data
	}
	return s
}

func message(text string) models.NormalizedMessage {
	return models.NormalizedMessage{UserID: "5511999990000", MessageID: "m1", Instance: "inst", Text: text}
}

func certificateDef() *Definition {
	return &Definition{
		ID: models.FlowDigitalCertificate, Version: "v1", Active: true,
		Steps: Steps{models.StepStart: reply("menu", models.StepStart, nil, false)},
		Subroutes: map[string]Subroute{
			"purchase": {
				Description: "comprar",
				EntryStep:   "ask_person_type",
				Steps: Steps{
					"ask_person_type": HandlerFunc(func(_ context.Context, c *Context) (StepResult, error) {
						if !Asked(c.Data(), "person_type") {
							return Ask("person_type", "ask_person_type", "PF ou PJ?"), nil
						}
						return StepResult{Reply: "ok", NextStep: "ask_cpf_cnpj"}, nil
					}),
				},
			},
			"status": {Description: "status", EntryStep: "ask_order_id", Steps: Steps{"ask_order_id": reply("pedido?", "ask_order_id", nil, false)}},
		},
	}
}

func TestExecute_SelectsSubrouteAndRunsEntryStep(t *testing.T) {
	sub := &fakeSubroutes{result: subroute("purchase", 0.9)}
	e := NewEngine(testRegistry(t, certificateDef()), sub)

	res, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowDigitalCertificate, models.StepStart, nil),
		Message: message("quero comprar um certificado"),
	})
	require.NoError(t, err)
	assert.Equal(t, "PF ou PJ?", res.Reply)
	assert.False(t, res.Done)
	require.NotNil(t, res.Next.ActiveSubroute)
	assert.Equal(t, "purchase", *res.Next.ActiveSubroute)
	assert.Equal(t, models.FlowDigitalCertificate, res.Next.Flow())
	assert.Equal(t, "ask_person_type", res.Next.Step)
	assert.True(t, res.Next.Data.Bool("_asked_person_type"))

	require.Len(t, sub.seen, 2)
	assert.Equal(t, "purchase", sub.seen[0].ID)
	assert.Equal(t, "status", sub.seen[1].ID)
}

func TestExecute_SubrouteClarify(t *testing.T) {
	tests := []struct {
		name string
		sub  *fakeSubroutes
	}{
		{"low confidence", &fakeSubroutes{result: subroute("purchase", 0.79)}},
		{"unsure null subroute", &fakeSubroutes{result: &classify.SubrouteResult{Confidence: 0.5}}},
		{"undeclared subroute", &fakeSubroutes{result: subroute("gift_card", 0.95)}},
		{"invalid subroute", &fakeSubroutes{err: &classify.Failure{Kind: classify.KindInvalidSubroute}}},
		{"llm error", &fakeSubroutes{err: &classify.Failure{Kind: classify.KindLLMError}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testRegistry(t, certificateDef()), tt.sub)
			data := models.Data{"keep": "me"}
			res, err := e.Execute(context.Background(), Input{
				State:   sessionIn(models.FlowDigitalCertificate, models.StepStart, data),
				Message: message("hmm"),
			})
			require.NoError(t, err)
			assert.Equal(t, ClarifySubrouteReply, res.Reply)
			assert.False(t, res.Done)
			assert.Nil(t, res.Next.ActiveSubroute)
			assert.Equal(t, models.StepStart, res.Next.Step)
			assert.Equal(t, models.Data{"keep": "me"}, res.Next.Data)
			assert.Equal(t, models.FlowDigitalCertificate, res.Next.Flow())
		})
	}
}

func TestExecute_ConfidentNullSubrouteRunsFlowStart(t *testing.T) {
	sub := &fakeSubroutes{result: &classify.SubrouteResult{Confidence: 0.9, Reason: "nenhum se aplica"}}
	e := NewEngine(testRegistry(t, certificateDef()), sub)

	res, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowDigitalCertificate, models.StepStart, nil),
		Message: message("certificado"),
	})
	require.NoError(t, err)
	assert.Equal(t, "menu", res.Reply)
	assert.False(t, res.Done)
	assert.Nil(t, res.Next.ActiveSubroute)
	assert.Equal(t, models.StepStart, res.Next.Step)
	assert.Equal(t, models.FlowDigitalCertificate, res.Next.Flow())

	// the next message is routed again since no subroute was chosen
	sub.result = subroute("status", 0.9)
	res, err = e.Execute(context.Background(), Input{State: res.Next, Message: message("status do pedido")})
	require.NoError(t, err)
	assert.Equal(t, "pedido?", res.Reply)
	assert.Equal(t, 2, sub.calls)
}

func TestExecute_SubrouteSafetyOverridePropagates(t *testing.T) {
	sub := &fakeSubroutes{err: &genai.SafetyOverrideError{FailedGeneration: "x"}}
	e := NewEngine(testRegistry(t, certificateDef()), sub)
	_, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowDigitalCertificate, models.StepStart, nil),
		Message: message("x"),
	})
	assert.True(t, genai.IsSafetyOverride(err))
}

func TestExecute_ActiveSubrouteSkipsClassifier(t *testing.T) {
	sub := &fakeSubroutes{}
	e := NewEngine(testRegistry(t, certificateDef()), sub)
	state := sessionIn(models.FlowDigitalCertificate, "ask_person_type", models.Data{"_asked_person_type": true})
	id := "purchase"
	state.ActiveSubroute = &id

	res, err := e.Execute(context.Background(), Input{State: state, Message: message("PF")})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Reply)
	assert.Equal(t, "ask_cpf_cnpj", res.Next.Step)
	assert.Zero(t, sub.calls)
}

func TestExecute_FlowNotFoundResets(t *testing.T) {
	e := NewEngine(testRegistry(t, certificateDef()), &fakeSubroutes{})
	res, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowBilling, models.StepStart, models.Data{"x": 1}),
		Message: message("oi"),
	})
	require.NoError(t, err)
	assert.Equal(t, TechnicalErrorReply, res.Reply)
	assert.True(t, res.Done)
	assert.Nil(t, res.Next.ActiveFlow)
	assert.Empty(t, res.Next.Data)
}

func TestExecute_StepNotFoundResets(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{models.StepStart: reply("x", "", nil, false)}}
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{})
	res, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowBilling, "missing", nil),
		Message: message("oi"),
	})
	require.NoError(t, err)
	assert.Equal(t, RestartReply, res.Reply)
	assert.True(t, res.Done)
}

func TestExecute_MergesPatchAndClearsOnDone(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{
		models.StepStart: reply("next", "second", models.Data{"a": "new", "gone": nil}, false),
		"second":         reply("bye", "second", models.Data{"b": true}, true),
	}}
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{})

	res, err := e.Execute(context.Background(), Input{
		State:   sessionIn(models.FlowBilling, models.StepStart, models.Data{"a": "old", "keep": 1, "gone": "x"}),
		Message: message("oi"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.Data{"a": "new", "keep": 1}, res.Next.Data)
	assert.Equal(t, "second", res.Next.Step)
	assert.False(t, res.Done)

	res, err = e.Execute(context.Background(), Input{State: res.Next, Message: message("ok")})
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Nil(t, res.Next.ActiveFlow)
	assert.Nil(t, res.Next.ActiveSubroute)
	assert.Equal(t, "bye", res.Reply)
}

func TestExecute_HandlerErrorLeavesStateUnchanged(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{
		"ask": HandlerFunc(func(context.Context, *Context) (StepResult, error) {
			return StepResult{}, errors.New("db down")
		}),
	}}
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{})
	in := sessionIn(models.FlowBilling, "ask", models.Data{"n": 2})

	res, err := e.Execute(context.Background(), Input{State: in, Message: message("oi")})
	require.NoError(t, err)
	assert.Equal(t, TechnicalErrorReply, res.Reply)
	assert.False(t, res.Done)
	assert.Equal(t, in, res.Next)
	assert.NotSame(t, in, res.Next)
}

func TestExecute_HandlerSafetyOverridePropagates(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{
		models.StepStart: HandlerFunc(func(context.Context, *Context) (StepResult, error) {
			return StepResult{}, &genai.SafetyOverrideError{FailedGeneration: "no"}
		}),
	}}
	reg := prometheus.NewRegistry()
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{}, WithMetrics(metrics.NewCollectorWithRegistry(reg)))

	_, err := e.Execute(context.Background(), Input{State: sessionIn(models.FlowBilling, models.StepStart, nil), Message: message("x")})
	var so *genai.SafetyOverrideError
	require.ErrorAs(t, err, &so)
	assert.Equal(t, "no", so.FailedGeneration)
}

func TestExecute_DoesNotMutateInput(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{
		models.StepStart: reply("x", "next", models.Data{"a": 2}, false),
	}}
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{})
	in := sessionIn(models.FlowBilling, models.StepStart, models.Data{"a": 1})

	_, err := e.Execute(context.Background(), Input{State: in, Message: message("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, in.Data["a"])
	assert.Equal(t, models.StepStart, in.Step)
}

func TestExecute_RecordsStepMetrics(t *testing.T) {
	def := &Definition{ID: models.FlowBilling, Version: "v1", Active: true, Steps: Steps{
		models.StepStart: reply("x", models.StepStart, nil, true),
	}}
	c := metrics.NewCollectorWithRegistry(prometheus.NewRegistry())
	e := NewEngine(testRegistry(t, def), &fakeSubroutes{}, WithMetrics(c))

	_, err := e.Execute(context.Background(), Input{State: sessionIn(models.FlowBilling, models.StepStart, nil), Message: message("x")})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(c.Registry(), "flowpipe_flow_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
