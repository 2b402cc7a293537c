// Package session stores bounded per-call conversation history with
// activity-based expiry. Calls in this domain are short transactional
// phone/chat exchanges, so a sliding window of recent turns plus the
// fixed system prompt is all the context the primary backend needs;
// an unbounded transcript would only inflate per-call cost.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartflow-crm/inference-gateway/internal/persona"
)

// Message roles, matching the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is one live conversation. Messages[0] is always the persona
// system prompt; AppendTurn maintains that invariant when truncating.
type Session struct {
	ID             string
	Persona        string
	Language       string
	Messages       []Message
	CreatedAt      time.Time
	LastActivityAt time.Time
	TurnCount      int
}

// Summary describes a finished session, returned by End and used by
// the sessions endpoint.
type Summary struct {
	SessionID       string    `json:"session_id"`
	Persona         string    `json:"persona"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	TurnCount       int       `json:"turn_count"`
	Transcript      []Message `json:"transcript"`
}

// Config bounds the store.
type Config struct {
	// TTL is the idle time after which a session is dead.
	TTL time.Duration
	// SweepInterval is the cadence of the background sweeper. Must not
	// exceed TTL so no session outlives its TTL by more than one
	// interval.
	SweepInterval time.Duration
	// MaxMessages caps history at [system prompt] + last MaxMessages.
	MaxMessages int
}

// Store is the process-wide session map. Safe for concurrent use.
// Concurrent turns for the same session id are a caller error in this
// domain (one active call per session); the store stays consistent
// regardless, with last-write-wins semantics.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	now    func() time.Time // injectable for tests
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a session store. Call Start to run the sweeper.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// GetOrCreate returns the live session for id, creating one seeded
// with the persona system prompt when none exists. A session whose
// idle time exceeds the TTL is evicted and recreated, never served.
// An empty id gets a generated one.
func (s *Store) GetOrCreate(id, personaID, language string) *Session {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[id]; ok {
		if now.Sub(sess.LastActivityAt) <= s.cfg.TTL {
			return sess
		}
		delete(s.sessions, id)
		s.logger.Debug("expired session evicted on access", slog.String("session_id", id))
	}

	sess := &Session{
		ID:       id,
		Persona:  personaID,
		Language: language,
		Messages: []Message{
			{Role: RoleSystem, Content: persona.SystemPrompt(personaID, language)},
		},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[id] = sess
	s.logger.Info("session created",
		slog.String("session_id", id),
		slog.String("persona", personaID),
		slog.String("language", language))
	return sess
}

// AppendTurn appends a message to the session, bumps activity, counts
// user turns, and truncates history to the configured cap. No-op for
// unknown session ids.
func (s *Store) AppendTurn(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	sess.Messages = append(sess.Messages, Message{Role: role, Content: content})
	sess.LastActivityAt = s.now()
	if role == RoleUser {
		sess.TurnCount++
	}

	// Keep the system prompt pinned and drop oldest turns first.
	if max := s.cfg.MaxMessages; max > 0 && len(sess.Messages) > max+1 {
		tail := sess.Messages[len(sess.Messages)-max:]
		kept := make([]Message, 0, max+1)
		kept = append(kept, sess.Messages[0])
		kept = append(kept, tail...)
		sess.Messages = kept
	}
}

// History returns a copy of the session's message list, or nil for
// unknown ids. The copy keeps callers from observing later appends.
func (s *Store) History(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// TurnCount returns the user-turn count for id, zero for unknown ids.
func (s *Store) TurnCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.TurnCount
	}
	return 0
}

// End removes the session and returns its summary, or nil if unknown.
func (s *Store) End(id string) *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)

	now := s.now()
	summary := &Summary{
		SessionID:       sess.ID,
		Persona:         sess.Persona,
		CreatedAt:       sess.CreatedAt,
		DurationSeconds: now.Sub(sess.CreatedAt).Seconds(),
		TurnCount:       sess.TurnCount,
		Transcript:      sess.Messages[1:], // system prompt is not transcript
	}
	s.logger.Info("session ended",
		slog.String("session_id", id),
		slog.Int("turns", sess.TurnCount))
	return summary
}

// List returns summaries for all live sessions.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			SessionID:       sess.ID,
			Persona:         sess.Persona,
			CreatedAt:       sess.CreatedAt,
			DurationSeconds: now.Sub(sess.CreatedAt).Seconds(),
			TurnCount:       sess.TurnCount,
		})
	}
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle longer than the TTL and returns how many
// were evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivityAt) > s.cfg.TTL {
			delete(s.sessions, id)
			evicted++
			s.logger.Warn("session timed out", slog.String("session_id", id))
		}
	}
	return evicted
}

// Start launches the background sweeper. Stop with Stop.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Info("session sweep", slog.Int("evicted", n))
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
