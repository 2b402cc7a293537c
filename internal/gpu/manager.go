// Package gpu tracks the health of the sleep-capable GPU compute
// backend. It answers "is it healthy" from a cached snapshot so the
// request path never hammers a cold host with probes, and keeps the
// expensive "wake it up" operation separate, rare, and bounded.
package gpu

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartflow-crm/inference-gateway/internal/breaker"
)

// Status is the last known backend state.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusSleeping    Status = "sleeping"
	StatusUnreachable Status = "unreachable"
	StatusUnknown     Status = "unknown"
)

// Snapshot is one cached health observation.
type Snapshot struct {
	Status     Status    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
	// Cached is true when the snapshot was served from cache rather
	// than a fresh probe.
	Cached bool `json:"cached"`
}

// Prober issues the actual health and wake calls.
type Prober interface {
	// Health returns the backend's self-reported status. A transport
	// failure is an error; the manager caches it as unreachable.
	Health(ctx context.Context) (Status, error)
	// Wake asks a sleeping backend to start. Completion does not mean
	// the backend is healthy yet, only that the wake was accepted.
	Wake(ctx context.Context) error
}

// Config bounds probe caching and the wake budget.
type Config struct {
	// HealthTTL is how long a snapshot stays fresh.
	HealthTTL time.Duration
	// WakeTimeout bounds the whole wake-and-poll sequence.
	WakeTimeout time.Duration
	// WakePollInterval is the health re-probe cadence while waking.
	WakePollInterval time.Duration
}

// Manager is the process-wide health cache for the GPU backend.
// Safe for concurrent use.
type Manager struct {
	prober      Prober
	wakeBreaker *breaker.Breaker
	cfg         Config
	logger      *slog.Logger

	mu      sync.Mutex
	snap    Snapshot
	probing bool

	now func() time.Time // injectable for tests
}

// NewManager creates a health cache. The wake breaker guards the wake
// endpoint so repeated failed cold starts back off instead of piling
// up.
func NewManager(prober Prober, wakeBreaker *breaker.Breaker, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		prober:      prober,
		wakeBreaker: wakeBreaker,
		cfg:         cfg,
		logger:      logger,
		snap:        Snapshot{Status: StatusUnknown},
		now:         time.Now,
	}
}

// CheckHealth returns the cached snapshot unless it is stale or the
// caller forces a refresh, in which case it issues one probe and
// caches the outcome. A failed probe is cached as unreachable, not
// retried on every call. While a probe is in flight, concurrent
// callers get the previous snapshot instead of stacking probes.
func (m *Manager) CheckHealth(ctx context.Context, forceRefresh bool) Snapshot {
	m.mu.Lock()
	fresh := !m.snap.ObservedAt.IsZero() && m.now().Sub(m.snap.ObservedAt) <= m.cfg.HealthTTL
	if (fresh && !forceRefresh) || m.probing {
		snap := m.snap
		snap.Cached = true
		m.mu.Unlock()
		return snap
	}
	m.probing = true
	m.mu.Unlock()

	status, err := m.prober.Health(ctx)
	if err != nil {
		status = StatusUnreachable
		m.logger.Warn("gpu health probe failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.probing = false
	m.snap = Snapshot{Status: status, ObservedAt: m.now()}
	return m.snap
}

// Snapshot returns the current cached snapshot without probing.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	snap.Cached = true
	return snap
}

// EnsureReady makes the backend usable before a real inference call.
// Healthy returns true immediately; unreachable fails fast without a
// wake attempt; sleeping triggers one wake (guarded by the wake
// breaker) and polls health until the backend is up or the wake
// budget runs out.
func (m *Manager) EnsureReady(ctx context.Context) bool {
	snap := m.CheckHealth(ctx, false)

	switch snap.Status {
	case StatusHealthy:
		return true
	case StatusUnreachable:
		return false
	case StatusUnknown:
		snap = m.CheckHealth(ctx, true)
		if snap.Status == StatusHealthy {
			return true
		}
		if snap.Status != StatusSleeping {
			return false
		}
	}

	// Sleeping: wake and wait, bounded.
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WakeTimeout)
	defer cancel()

	start := m.now()
	_, err := m.wakeBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, m.prober.Wake(ctx)
	})
	if err != nil {
		m.logger.Warn("gpu wake rejected or failed", slog.String("error", err.Error()))
		return false
	}

	m.logger.Info("gpu wake issued, polling for healthy")
	ticker := time.NewTicker(m.cfg.WakePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Warn("gpu wake budget exhausted",
				slog.Duration("waited", m.now().Sub(start)))
			return false
		case <-ticker.C:
			if m.CheckHealth(ctx, true).Status == StatusHealthy {
				m.logger.Info("gpu awake",
					slog.Duration("wake_latency", m.now().Sub(start)))
				return true
			}
		}
	}
}
