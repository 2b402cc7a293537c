// Package callcontext stores context injected into live call sessions
// by upstream workflow automation (invoices, appointments, customer
// history). Entries are keyed by session id, carry a TTL and a
// priority, and are folded into the primary backend prompt so the
// assistant can reference customer data mid-call.
package callcontext

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priorities, highest first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

var priorityOrder = map[string]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityNormal: 2,
}

// Entry is one injected context item.
type Entry struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Type      string            `json:"type"` // invoice, appointment, customer_history, custom
	Data      map[string]string `json:"data"`
	Priority  string            `json:"priority"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Accessed  int               `json:"accessed_count"`
}

// Store holds per-session context entries. Safe for concurrent use.
type Store struct {
	defaultTTL time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string][]*Entry

	now    func() time.Time // injectable for tests
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a context store.
func NewStore(defaultTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		defaultTTL: defaultTTL,
		logger:     logger,
		entries:    make(map[string][]*Entry),
		now:        time.Now,
	}
}

// Add stores a context entry for the session. A zero ttl uses the
// store default; an empty priority is normal.
func (s *Store) Add(sessionID, typ string, data map[string]string, priority, source string, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if _, ok := priorityOrder[priority]; !ok {
		priority = PriorityNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &Entry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      typ,
		Data:      data,
		Priority:  priority,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.entries[sessionID] = append(s.entries[sessionID], entry)
	s.logger.Info("context added",
		slog.String("session_id", sessionID),
		slog.String("type", typ),
		slog.String("priority", priority))
	return entry
}

// Get returns unexpired entries for the session, urgent first. Each
// returned entry's access count is bumped.
func (s *Store) Get(sessionID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Entry
	for _, e := range s.entries[sessionID] {
		if now.After(e.ExpiresAt) {
			continue
		}
		e.Accessed++
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityOrder[out[i].Priority] < priorityOrder[out[j].Priority]
	})
	return out
}

// PromptLines renders the session's live context as lines suitable
// for appending to the system prompt, or nil when there is none.
func (s *Store) PromptLines(sessionID string) []string {
	entries := s.Get(sessionID)
	if len(entries) == 0 {
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Data[k]))
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", e.Type, strings.Join(parts, ", ")))
	}
	return lines
}

// Delete removes all context for a session and returns how many
// entries were dropped.
func (s *Store) Delete(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries[sessionID])
	delete(s.entries, sessionID)
	return n
}

// Sweep removes expired entries across all sessions and returns the
// number removed. Sessions left empty are dropped entirely.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for sid, entries := range s.entries {
		kept := entries[:0]
		for _, e := range entries {
			if now.After(e.ExpiresAt) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.entries, sid)
		} else {
			s.entries[sid] = kept
		}
	}
	if removed > 0 {
		s.logger.Info("context sweep", slog.Int("removed", removed))
	}
	return removed
}

// Start launches the background sweeper. Stop with Stop.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
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

// Count returns the total number of stored entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, entries := range s.entries {
		total += len(entries)
	}
	return total
}
