// Command FlowPipe runs the WhatsApp conversation service. It is configured
// entirely through the environment (see internal/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/FlowPipe/internal/api"
	"github.com/BTreeMap/FlowPipe/internal/classify"
	"github.com/BTreeMap/FlowPipe/internal/config"
	"github.com/BTreeMap/FlowPipe/internal/flow"
	"github.com/BTreeMap/FlowPipe/internal/flows"
	"github.com/BTreeMap/FlowPipe/internal/genai"
	"github.com/BTreeMap/FlowPipe/internal/lockfile"
	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/messaging"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/router"
	"github.com/BTreeMap/FlowPipe/internal/scheduler"
	"github.com/BTreeMap/FlowPipe/internal/store"
	"github.com/BTreeMap/FlowPipe/internal/twiliowhatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("main: failed to load configuration")
	}
	logx.Init(logx.LoggerOpts{
		Environment: config.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		logx.Error().Err(err).Msg("main: FlowPipe failed")
		os.Exit(1)
	}
	logx.Info().Msg("main: FlowPipe exited")
}

// run wires every component and serves until ctx is cancelled. In-flight
// messages are drained before it returns.
func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.NewCollector()

	gateway, err := buildGateway(cfg, m)
	if err != nil {
		return err
	}
	var transcriber router.Transcriber
	if t, err := gateway.Transcriber(cfg.STTProvider, cfg.STTModel); err != nil {
		logx.Warn().Err(err).Str("provider", cfg.STTProvider).Msg("main: transcription disabled")
	} else {
		transcriber = t
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if sw, ok := st.sessions.(store.Sweeper); ok && cfg.SessionSweep != "" {
		sched := scheduler.NewScheduler()
		if err := sched.AddJob(cfg.SessionSweep, "session_sweep", scheduler.SweepSessions(sw)); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	sender, media, err := buildDelivery(cfg, m)
	if err != nil {
		return err
	}

	engine, global, err := buildEngine(cfg, gateway, m)
	if err != nil {
		return err
	}

	r := router.New(router.Deps{
		Sessions:     st.sessions,
		Messages:     st.messages,
		Sender:       sender,
		Engine:       engine,
		Global:       global,
		Shift:        classify.NewTopicShiftDetector(gateway),
		HistoryLimit: cfg.HistoryLimit,
		Metrics:      m,
	})
	dispatcher := router.NewDispatcher(r, router.DispatcherOpts{
		Messages:    st.messages,
		Sender:      sender,
		Media:       media,
		Transcriber: transcriber,
		Timeout:     cfg.ProcessTimeout,
		Metrics:     m,
	})

	srv := api.NewServer(api.Opts{
		Addr:             cfg.APIAddr,
		Dispatcher:       dispatcher,
		Metrics:          m,
		TwilioAuthToken:  cfg.Twilio.AuthToken,
		TwilioWebhookURL: cfg.Twilio.WebhookURL,
	})

	logx.Info().
		Str("addr", cfg.APIAddr).
		Str("session_backend", cfg.SessionBackend).
		Str("delivery", cfg.DeliveryProvider).
		Msg("main: FlowPipe starting")
	err = srv.Run(ctx)
	dispatcher.Wait()
	return err
}

func buildGateway(cfg *config.Config, m *metrics.Collector) (*genai.Gateway, error) {
	routing, err := config.ParsePairs(cfg.TaskRouting)
	if err != nil {
		return nil, err
	}
	var providers []genai.ProviderConfig
	for _, p := range cfg.Providers() {
		providers = append(providers, genai.ProviderConfig{
			ID:          p.ID,
			Kind:        p.Kind,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Credentials: p.Keys,
		})
	}
	g, err := genai.New(providers, routing, genai.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to build model gateway: %w", err)
	}
	return g, nil
}

func buildEngine(cfg *config.Config, llm genai.Caller, m *metrics.Collector) (*flow.Engine, *classify.GlobalRouter, error) {
	overrides, err := config.ParsePairs(cfg.FlowVersionOverrides)
	if err != nil {
		return nil, nil, err
	}
	global := classify.NewGlobalRouter(llm)
	reg, err := flow.NewRegistry(flows.All(flows.Deps{LLM: llm, Router: global}), overrides, flows.Routable)
	if err != nil {
		return nil, nil, err
	}
	for id, version := range reg.Versions() {
		logx.Info().Str("flow", string(id)).Str("version", version).Msg("main: flow registered")
	}
	return flow.NewEngine(reg, classify.NewSubrouteRouter(llm), flow.WithMetrics(m)), global, nil
}

// stores bundles the selected backends and whatever must be closed on exit.
type stores struct {
	sessions store.SessionStore
	messages store.MessageLog
	closers  []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("main: error while closing store")
		}
	}
}

// openStores opens the SQL database holding the message log (Postgres when
// DATABASE_URL says so, SQLite in STATE_DIR otherwise) and the session store
// named by SESSION_BACKEND.
func openStores(ctx context.Context, cfg *config.Config) (st *stores, err error) {
	st = &stores{}
	defer func() {
		if err != nil {
			st.Close()
			st = nil
		}
	}()
	ttl := store.WithTTL(cfg.SessionTTL)

	var sqlStore interface {
		store.SessionStore
		store.MessageLog
	}
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = filepath.Join(cfg.StateDir, config.DefaultDBFileName)
	}
	switch store.DetectDSNType(dsn) {
	case store.DSNTypePostgres:
		pg, err := store.NewPostgresStore(store.WithPostgresDSN(dsn), ttl)
		if err != nil {
			return st, err
		}
		st.closers = append(st.closers, pg.Close)
		sqlStore = pg
		logx.Info().Str("dsn_type", store.DSNTypePostgres).Msg("main: using PostgreSQL")
	default:
		lock, err := lockfile.Acquire(filepath.Dir(dsn), cfg.APIAddr)
		if err != nil {
			return st, err
		}
		st.closers = append(st.closers, lock.Release)
		lite, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn), ttl)
		if err != nil {
			return st, err
		}
		st.closers = append(st.closers, lite.Close)
		sqlStore = lite
		logx.Info().Str("dsn_type", store.DSNTypeSQLite).Str("path", dsn).Msg("main: using SQLite")
	}
	st.messages = sqlStore

	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return st, err
		}
		st.closers = append(st.closers, rdb.Close)
		st.sessions = store.NewRedisSessionStore(rdb, ttl)
	case config.SessionBackendMemory:
		st.sessions = store.NewInMemoryStore(ttl)
	case config.SessionBackendSQL:
		st.sessions = sqlStore
	default:
		return st, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	return st, nil
}

// errNoDelivery is returned when DELIVERY_PROVIDER names nothing we know.
var errNoDelivery = errors.New("no delivery provider configured")

func buildDelivery(cfg *config.Config, m *metrics.Collector) (messaging.Service, messaging.MediaFetcher, error) {
	switch cfg.DeliveryProvider {
	case config.DeliveryEvolution:
		evo, err := messaging.NewEvolutionClient(messaging.EvolutionOpts{
			BaseURL: cfg.Evolution.BaseURL,
			APIKey:  cfg.Evolution.APIKey,
			Timeout: cfg.Evolution.Timeout,
			SendRPS: cfg.Evolution.SendRPS,
			Metrics: m,
		})
		if err != nil {
			return nil, nil, err
		}
		return evo, evo, nil
	case config.DeliveryTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
		)
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client, m)
		return svc, svc, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errNoDelivery, cfg.DeliveryProvider)
	}
}
