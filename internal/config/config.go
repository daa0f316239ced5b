// Package config loads FlowPipe's environment-driven configuration.
//
// Values come from the process environment, optionally seeded from a .env file.
// There is no command line surface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Session backends.
const (
	SessionBackendSQL    = "sql"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// Delivery providers.
const (
	DeliveryEvolution = "evolution"
	DeliveryTwilio    = "twilio"
)

// DefaultStateDir is used for the SQLite database when DATABASE_URL is empty.
const DefaultStateDir = "/var/lib/flowpipe"

// DefaultDBFileName is the SQLite file created inside the state directory.
const DefaultDBFileName = "flowpipe.db"

// Config is the full process configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIAddr     string `envconfig:"API_ADDR" default:":8080"`

	StateDir       string        `envconfig:"STATE_DIR" default:"/var/lib/flowpipe"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"sql"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	// Cron expression for deleting expired SQL or in-memory sessions.
	SessionSweep   string        `envconfig:"SESSION_SWEEP_SCHEDULE" default:"@every 5m"`
	HistoryLimit   int           `envconfig:"HISTORY_LIMIT" default:"5"`
	ProcessTimeout time.Duration `envconfig:"PROCESS_TIMEOUT" default:"90s"`

	Redis     RedisConfig
	Evolution EvolutionConfig
	Twilio    TwilioConfig

	DeliveryProvider string `envconfig:"DELIVERY_PROVIDER" default:"evolution"`

	LLM

	// LLM_TASK_ROUTING="classify_flow=groq,extract_data=mistral"
	TaskRouting string `envconfig:"LLM_TASK_ROUTING"`
	// FLOW_VERSION_OVERRIDES="billing=v1"
	FlowVersionOverrides string `envconfig:"FLOW_VERSION_OVERRIDES"`
}

// RedisConfig reads REDIS_URL and friends. Timeouts are in seconds.
type RedisConfig struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

// EvolutionConfig reads EVOLUTION_BASE_URL, EVOLUTION_API_KEY and EVOLUTION_SEND_RPS.
type EvolutionConfig struct {
	BaseURL string        `split_words:"true"`
	APIKey  string        `envconfig:"API_KEY"`
	SendRPS float64       `envconfig:"SEND_RPS" default:"10"`
	Timeout time.Duration `default:"5s"`
}

// TwilioConfig reads TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
// TWILIO_WEBHOOK_URL, when set, enables X-Twilio-Signature checks on the
// inbound webhook; it must be the public URL Twilio posts to.
type TwilioConfig struct {
	AccountSID string `envconfig:"ACCOUNT_SID"`
	AuthToken  string `split_words:"true"`
	FromNumber string `split_words:"true"`
	WebhookURL string `split_words:"true"`
}

// LLM holds per-provider credentials and model names.
type LLM struct {
	GroqKeys    []string `envconfig:"GROQ_API_KEYS"`
	GroqModel   string   `envconfig:"GROQ_MODEL" default:"openai/gpt-oss-120b"`
	GroqURL     string   `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	STTModel    string   `envconfig:"STT_MODEL" default:"whisper-large-v3"`
	STTProvider string   `envconfig:"STT_PROVIDER" default:"groq"`

	MistralKeys  []string `envconfig:"MISTRAL_API_KEYS"`
	MistralModel string   `envconfig:"MISTRAL_MODEL" default:"mistral-small-latest"`
	MistralURL   string   `envconfig:"MISTRAL_BASE_URL" default:"https://api.mistral.ai/v1"`

	CerebrasKeys  []string `envconfig:"CEREBRAS_API_KEYS"`
	CerebrasModel string   `envconfig:"CEREBRAS_MODEL" default:"gpt-oss-120b"`
	CerebrasURL   string   `envconfig:"CEREBRAS_BASE_URL" default:"https://api.cerebras.ai/v1"`

	MafalttiKeys  []string `envconfig:"MAFALTTI_API_KEYS"`
	MafalttiModel string   `envconfig:"MAFALTTI_MODEL" default:"llama3.1:8b-instruct-q4_K_M"`
	MafalttiURL   string   `envconfig:"MAFALTTI_BASE_URL" default:"https://llm-arm02.danilocarneiro.com/v1"`

	GeminiKeys  []string `envconfig:"GEMINI_API_KEYS"`
	GeminiModel string   `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
}

// Provider kinds understood by the gateway.
const (
	KindOpenAICompatible = "openai"
	KindGemini           = "gemini"
)

// ProviderSettings is one configured model backend.
type ProviderSettings struct {
	ID       string
	Kind     string
	BaseURL  string
	Model    string
	Keys     []string
	Required bool
}

// Providers lists every provider that has at least one credential, plus groq
// which is always listed so that a missing key is reported by Validate.
func (l LLM) Providers() []ProviderSettings {
	all := []ProviderSettings{
		{ID: "groq", Kind: KindOpenAICompatible, BaseURL: l.GroqURL, Model: l.GroqModel, Keys: cleanKeys(l.GroqKeys), Required: true},
		{ID: "mistral", Kind: KindOpenAICompatible, BaseURL: l.MistralURL, Model: l.MistralModel, Keys: cleanKeys(l.MistralKeys)},
		{ID: "cerebras", Kind: KindOpenAICompatible, BaseURL: l.CerebrasURL, Model: l.CerebrasModel, Keys: cleanKeys(l.CerebrasKeys)},
		{ID: "mafaltti", Kind: KindOpenAICompatible, BaseURL: l.MafalttiURL, Model: l.MafalttiModel, Keys: cleanKeys(l.MafalttiKeys)},
		{ID: "gemini", Kind: KindGemini, Model: l.GeminiModel, Keys: cleanKeys(l.GeminiKeys)},
	}
	out := make([]ProviderSettings, 0, len(all))
	for _, p := range all {
		if len(p.Keys) > 0 || p.Required {
			out = append(out, p)
		}
	}
	return out
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var problems []string

	if len(cleanKeys(c.GroqKeys)) == 0 {
		problems = append(problems, "GROQ_API_KEYS is required")
	}
	switch c.SessionBackend {
	case SessionBackendSQL, SessionBackendMemory:
	case SessionBackendRedis:
		if c.Redis.URL == "" {
			problems = append(problems, "REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}
	switch c.DeliveryProvider {
	case DeliveryEvolution:
		if c.Evolution.BaseURL == "" || c.Evolution.APIKey == "" {
			problems = append(problems, "EVOLUTION_BASE_URL and EVOLUTION_API_KEY are required when DELIVERY_PROVIDER=evolution")
		}
	case DeliveryTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			problems = append(problems, "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required when DELIVERY_PROVIDER=twilio")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown DELIVERY_PROVIDER %q", c.DeliveryProvider))
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if c.HistoryLimit < 0 {
		problems = append(problems, "HISTORY_LIMIT must not be negative")
	}
	if _, err := ParsePairs(c.TaskRouting); err != nil {
		problems = append(problems, "LLM_TASK_ROUTING: "+err.Error())
	}
	if _, err := ParsePairs(c.FlowVersionOverrides); err != nil {
		problems = append(problems, "FLOW_VERSION_OVERRIDES: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ParsePairs parses "a=b,c=d" into a map. Blank entries are skipped.
func ParsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("malformed entry %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
