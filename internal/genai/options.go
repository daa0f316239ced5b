package genai

import "time"

// Task names a kind of gateway call; the routing table maps tasks to providers.
type Task string

const (
	TaskClassifyFlow        Task = "classify_flow"
	TaskClassifySubroute    Task = "classify_subroute"
	TaskDetectTopicShift    Task = "detect_topic_shift"
	TaskExtractData         Task = "extract_data"
	TaskConversationalReply Task = "conversational_reply"
	TaskSummarize           Task = "summarize"
)

// KnownTasks lists every valid task.
var KnownTasks = []Task{
	TaskClassifyFlow,
	TaskClassifySubroute,
	TaskDetectTopicShift,
	TaskExtractData,
	TaskConversationalReply,
	TaskSummarize,
}

func validTask(t Task) bool {
	for _, k := range KnownTasks {
		if k == t {
			return true
		}
	}
	return false
}

// Call defaults.
const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.0
	DefaultTimeout     = 8 * time.Second
	DefaultProvider    = "groq"
)

type callOptions struct {
	provider    string
	task        Task
	jsonMode    bool
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

func defaultCallOptions() callOptions {
	return callOptions{
		jsonMode:    true,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
	}
}

// CallOption customises a single Call.
type CallOption func(*callOptions)

// WithProvider pins the call to a provider, bypassing task routing.
func WithProvider(id string) CallOption {
	return func(o *callOptions) { o.provider = id }
}

// WithTask tags the call for routing and telemetry.
func WithTask(t Task) CallOption {
	return func(o *callOptions) { o.task = t }
}

// WithPlainText disables JSON mode.
func WithPlainText() CallOption {
	return func(o *callOptions) { o.jsonMode = false }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = t }
}

func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// CallSettings is the resolved form of a set of CallOptions.
type CallSettings struct {
	Provider    string
	Task        Task
	JSONMode    bool
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ResolveOptions applies opts over the defaults. Alternative Caller
// implementations use it to honour the same options.
func ResolveOptions(opts ...CallOption) CallSettings {
	o := defaultCallOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return CallSettings{
		Provider:    o.provider,
		Task:        o.task,
		JSONMode:    o.jsonMode,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Timeout:     o.timeout,
	}
}
