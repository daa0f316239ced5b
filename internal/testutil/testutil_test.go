package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLLM_QueuesPerTask(t *testing.T) {
	f := NewFakeLLM().
		On(genai.TaskClassifyFlow, "first").
		On(genai.TaskClassifyFlow, "second").
		OnError(genai.TaskSummarize, errors.New("down"))

	ctx := context.Background()
	r, err := f.Call(ctx, "s", "u", genai.WithTask(genai.TaskClassifyFlow))
	require.NoError(t, err)
	assert.Equal(t, "first", r.Content)
	r, _ = f.Call(ctx, "s", "u", genai.WithTask(genai.TaskClassifyFlow))
	assert.Equal(t, "second", r.Content)
	r, _ = f.Call(ctx, "s", "u", genai.WithTask(genai.TaskClassifyFlow))
	assert.Equal(t, "second", r.Content, "last reply repeats")

	_, err = f.Call(ctx, "s", "u", genai.WithTask(genai.TaskSummarize), genai.WithPlainText())
	assert.EqualError(t, err, "down")

	_, err = f.Call(ctx, "s", "u", genai.WithTask(genai.TaskExtractData))
	assert.Error(t, err)

	assert.Equal(t, 3, f.CallsFor(genai.TaskClassifyFlow))
	calls := f.Calls()
	assert.False(t, calls[3].Settings.JSONMode)
}

func TestFakeSender(t *testing.T) {
	s := NewFakeSender()
	assert.True(t, s.SendText(context.Background(), "main", "5511", "oi"))
	m := s.Next(t)
	assert.Equal(t, SentMessage{Instance: "main", To: "5511", Text: "oi"}, m)

	s.Fail = true
	assert.False(t, s.SendText(context.Background(), "main", "5511", "again"))
	assert.Len(t, s.Sent(), 2)
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusOK)
	_, _ = rr.WriteString(`{"ok":true}`)
	body := AssertJSONResponse(t, rr, true)
	assert.Equal(t, true, body["ok"])
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/webhook/evolution", map[string]string{"event": "x"})
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}
