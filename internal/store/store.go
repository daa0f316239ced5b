// Package store persists session state and the chat message log.
//
// Sessions live in SQL (SQLite or PostgreSQL), Redis or memory. The message
// log is always SQL-backed in production and doubles as the inbound dedup
// table: message_id is unique, so a redelivered webhook loses the insert race
// at the database instead of in process memory.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

// DefaultSessionTTL is the sliding inactivity window of a session.
const DefaultSessionTTL = 30 * time.Minute

// DSN types understood by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// SessionStore persists one SessionState per user.
type SessionStore interface {
	// Get returns the live session for userID, or nil. An expired row is
	// deleted on read.
	Get(ctx context.Context, userID string) (*models.SessionState, error)
	// Upsert stamps UpdatedAt and slides ExpiresAt forward by the TTL.
	Upsert(ctx context.Context, state *models.SessionState) error
	Delete(ctx context.Context, userID string) error
}

// MessageLog records inbound and outbound chat messages.
type MessageLog interface {
	// InsertInboundIfNew inserts msg unless its MessageID was already seen.
	// It reports false for a duplicate.
	InsertInboundIfNew(ctx context.Context, msg models.NormalizedMessage) (bool, error)
	// SetInboundText replaces the stored text of an inbound message, used
	// once an audio message has been transcribed.
	SetInboundText(ctx context.Context, messageID, text string) error
	InsertOutbound(ctx context.Context, userID, instance, text string) error
	// LoadRecent returns up to limit messages for userID, oldest first,
	// leaving out excludeMessageID.
	LoadRecent(ctx context.Context, userID string, limit int, excludeMessageID string) ([]models.ChatMessage, error)
}

// Sweeper is implemented by session stores whose expired rows stay behind
// until read. Redis expires keys itself and does not need one.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Opts holds configuration shared by every backend.
type Opts struct {
	DSN string
	TTL time.Duration
	Now func() time.Time
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithTTL overrides DefaultSessionTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{TTL: DefaultSessionTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// DetectDSNType returns DSNTypePostgres for URL or key/value Postgres
// connection strings and DSNTypeSQLite for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// stamp applies the sliding-expiry rule to a copy of state.
func stamp(state *models.SessionState, now time.Time, ttl time.Duration) *models.SessionState {
	c := state.Clone()
	if c.Data == nil {
		c.Data = models.Data{}
	}
	c.UpdatedAt = now.UTC()
	c.ExpiresAt = c.UpdatedAt.Add(ttl)
	return c
}

// InMemoryStore keeps sessions and messages in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	opts     Opts
	sessions map[string]*models.SessionState
	messages []models.ChatMessage
	seen     map[string]int
	nextID   int64
}

var (
	_ SessionStore = (*InMemoryStore)(nil)
	_ MessageLog   = (*InMemoryStore)(nil)
	_ Sweeper      = (*InMemoryStore)(nil)
)

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		opts:     applyOpts(opts),
		sessions: make(map[string]*models.SessionState),
		seen:     make(map[string]int),
	}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if st.Expired(s.opts.Now()) {
		delete(s.sessions, userID)
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *InMemoryStore) Upsert(_ context.Context, state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.UserID] = stamp(state, s.opts.Now(), s.opts.TTL)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	var n int64
	for id, st := range s.sessions {
		if st.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) InsertInboundIfNew(_ context.Context, msg models.NormalizedMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msg.MessageID]; dup {
		return false, nil
	}
	id := msg.MessageID
	s.append(models.ChatMessage{
		UserID:    msg.UserID,
		Instance:  msg.Instance,
		Direction: models.DirectionIn,
		MessageID: &id,
		Text:      msg.Text,
	})
	s.seen[id] = len(s.messages) - 1
	return true, nil
}

func (s *InMemoryStore) SetInboundText(_ context.Context, messageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.seen[messageID]; ok {
		s.messages[i].Text = text
	}
	return nil
}

func (s *InMemoryStore) InsertOutbound(_ context.Context, userID, instance, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(models.ChatMessage{
		UserID:    userID,
		Instance:  instance,
		Direction: models.DirectionOut,
		Text:      text,
	})
	return nil
}

func (s *InMemoryStore) append(m models.ChatMessage) {
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = s.opts.Now().UTC()
	s.messages = append(s.messages, m)
}

func (s *InMemoryStore) LoadRecent(_ context.Context, userID string, limit int, excludeMessageID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var out []models.ChatMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.UserID != userID {
			continue
		}
		if m.MessageID != nil && *m.MessageID == excludeMessageID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Messages returns a copy of every logged message, for tests.
func (s *InMemoryStore) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}
