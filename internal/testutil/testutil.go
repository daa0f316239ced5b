// Package testutil provides common test doubles and helpers for FlowPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/FlowPipe/internal/genai"
)

// Reply is one scripted gateway answer.
type Reply struct {
	Content string
	Err     error
}

// LLMCall records one call made to FakeLLM.
type LLMCall struct {
	System   string
	User     string
	Settings genai.CallSettings
}

// FakeLLM is a genai.Caller that answers from per-task queues. The last reply
// of a queue repeats once the queue is drained.
type FakeLLM struct {
	mu      sync.Mutex
	replies map[genai.Task][]Reply
	calls   []LLMCall
}

// NewFakeLLM returns an empty fake; unscripted tasks fail.
func NewFakeLLM() *FakeLLM {
	return &FakeLLM{replies: make(map[genai.Task][]Reply)}
}

// On queues content as the next answer for task.
func (f *FakeLLM) On(task genai.Task, content string) *FakeLLM {
	return f.push(task, Reply{Content: content})
}

// OnJSON marshals v and queues it for task.
func (f *FakeLLM) OnJSON(task genai.Task, v any) *FakeLLM {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.push(task, Reply{Content: string(b)})
}

// OnError queues err as the next answer for task.
func (f *FakeLLM) OnError(task genai.Task, err error) *FakeLLM {
	return f.push(task, Reply{Err: err})
}

func (f *FakeLLM) push(task genai.Task, r Reply) *FakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[task] = append(f.replies[task], r)
	return f
}

// Call implements genai.Caller.
func (f *FakeLLM) Call(_ context.Context, system, user string, opts ...genai.CallOption) (*genai.Response, error) {
	settings := genai.ResolveOptions(opts...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, LLMCall{System: system, User: user, Settings: settings})

	queue := f.replies[settings.Task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("testutil: no scripted reply for task %q", settings.Task)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[settings.Task] = queue[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &genai.Response{Content: r.Content, Model: "fake", Provider: "fake"}, nil
}

// Calls returns every recorded call.
func (f *FakeLLM) Calls() []LLMCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LLMCall(nil), f.calls...)
}

// CallsFor counts calls made for task.
func (f *FakeLLM) CallsFor(task genai.Task) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Settings.Task == task {
			n++
		}
	}
	return n
}

// SentMessage is one message captured by FakeSender.
type SentMessage struct {
	Instance string
	To       string
	Text     string
}

// FakeSender captures outbound messages. It satisfies messaging.Service.
type FakeSender struct {
	mu   sync.Mutex
	sent []SentMessage
	Fail bool
	ch   chan SentMessage
}

func NewFakeSender() *FakeSender {
	return &FakeSender{ch: make(chan SentMessage, 64)}
}

// SendText records the message and reports !Fail.
func (s *FakeSender) SendText(_ context.Context, instance, to, text string) bool {
	m := SentMessage{Instance: instance, To: to, Text: text}
	s.mu.Lock()
	s.sent = append(s.sent, m)
	fail := s.Fail
	s.mu.Unlock()
	select {
	case s.ch <- m:
	default:
	}
	return !fail
}

// Sent returns every captured message.
func (s *FakeSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Next blocks until a message is sent or the test deadline helper gives up.
func (s *FakeSender) Next(t *testing.T) SentMessage {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-timeout():
		t.Fatal("timed out waiting for an outbound message")
		return SentMessage{}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the JSON body and validates the ok field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedOK bool) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if ok, present := response["ok"].(bool); present {
		if ok != expectedOK {
			t.Errorf("expected ok=%v, got %v", expectedOK, ok)
		}
	} else {
		t.Error("response missing or invalid 'ok' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}
