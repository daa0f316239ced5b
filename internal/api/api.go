// Package api exposes the inbound webhooks and operational endpoints.
//
// Webhooks acknowledge immediately. Normalized messages are handed to a
// Dispatcher, which finishes the work in the background.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/google/uuid"
	twclient "github.com/twilio/twilio-go/client"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	// MaxBodyBytes caps webhook bodies; Evolution payloads are a few KB.
	MaxBodyBytes = 1 << 20
)

// Dispatcher receives every normalized inbound message together with its
// guard decision. Dispatch must not block.
type Dispatcher interface {
	Dispatch(correlationID string, msg models.NormalizedMessage, guard models.GuardResult)
}

// Opts configures a Server.
type Opts struct {
	Addr       string
	Dispatcher Dispatcher
	Metrics    *metrics.Collector

	// TwilioAuthToken and TwilioWebhookURL enable signature checks on
	// /webhook/twilio. Both must be set.
	TwilioAuthToken  string
	TwilioWebhookURL string

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Server is the FlowPipe HTTP front door.
type Server struct {
	dispatcher Dispatcher
	metrics    *metrics.Collector
	validator  *twclient.RequestValidator
	webhookURL string
	now        func() time.Time
	newID      func() string
	httpServer *http.Server
}

// NewServer builds a Server. It does not start listening.
func NewServer(opts Opts) *Server {
	s := &Server{
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
		webhookURL: opts.TwilioWebhookURL,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if opts.TwilioAuthToken != "" && opts.TwilioWebhookURL != "" {
		v := twclient.NewRequestValidator(opts.TwilioAuthToken)
		s.validator = &v
	}

	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/evolution", s.evolutionWebhookHandler)
	mux.HandleFunc("POST /webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return Chain(mux, Instrument(s.metrics), Recovery())
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", ln.Addr().String()).Msg("Server.Serve: listening")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("Server.Serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) evolutionWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	correlationID := s.newID()
	log := logx.With().Str("correlation_id", correlationID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil || !json.Valid(body) {
		log.Warn().Err(err).Str("event", "invalid_json").Msg("Server.evolutionWebhookHandler: rejecting body")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON"))
		return
	}
	log.Info().Str("event", "webhook_received").Str("channel", "evolution").Msg("Server.evolutionWebhookHandler: webhook received")

	var payload EvolutionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Str("event", "normalization_failed").Msg("Server.evolutionWebhookHandler: unexpected payload shape")
		writeJSONResponse(w, http.StatusOK, models.Ack())
		return
	}
	msg, kind, err := normalizeEvolution(payload, s.now())
	if err != nil {
		log.Warn().Err(err).Str("event", "normalization_failed").Str("webhook_event", payload.Event).Msg("Server.evolutionWebhookHandler: ignoring payload")
		writeJSONResponse(w, http.StatusOK, models.Ack())
		return
	}

	s.dispatch(correlationID, msg, kind)
	writeJSONResponse(w, http.StatusOK, models.Ack())
}

// twilioWebhookHandler answers with an empty TwiML document so Twilio sends
// nothing on our behalf; replies go out through the REST API.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	correlationID := s.newID()
	log := logx.With().Str("correlation_id", correlationID).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Str("event", "invalid_form").Msg("Server.twilioWebhookHandler: rejecting body")
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validator.Validate(s.webhookURL, flatten(r.PostForm), r.Header.Get("X-Twilio-Signature")) {
		log.Warn().Str("event", "invalid_signature").Msg("Server.twilioWebhookHandler: signature mismatch")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	log.Info().Str("event", "webhook_received").Str("channel", "twilio").Msg("Server.twilioWebhookHandler: webhook received")

	msg, kind, err := normalizeTwilio(r.PostForm, s.now())
	if err != nil {
		log.Warn().Err(err).Str("event", "normalization_failed").Msg("Server.twilioWebhookHandler: ignoring payload")
	} else {
		s.dispatch(correlationID, msg, kind)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyTwiML)
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) dispatch(correlationID string, msg models.NormalizedMessage, kind messageKind) {
	guard := applyGuards(msg, kind)
	if guard.ShouldProcess {
		logx.Info().
			Str("correlation_id", correlationID).
			Str("user_id", msg.UserID).
			Str("instance", msg.Instance).
			Str("message_id", msg.MessageID).
			Str("event", "guard_passed").
			Str("kind", kind.String()).
			Int("text_length", len(msg.Text)).
			Msg("Server.dispatch: message accepted")
	}
	s.dispatcher.Dispatch(correlationID, msg, guard)
}

func flatten(form map[string][]string) map[string]string {
	out := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
