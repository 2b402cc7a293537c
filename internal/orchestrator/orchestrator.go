// Package orchestrator implements the inference request policy: the
// local shortcut classifier first, then the response cache, then the
// primary chat backend, then the keyword backend on the GPU host, and
// finally a canned degraded reply. A caller always gets a usable
// response; backend failures are absorbed here, never surfaced.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartflow-crm/inference-gateway/internal/backend/chat"
	"github.com/smartflow-crm/inference-gateway/internal/backend/keyword"
	"github.com/smartflow-crm/inference-gateway/internal/breaker"
	"github.com/smartflow-crm/inference-gateway/internal/cache"
	"github.com/smartflow-crm/inference-gateway/internal/callcontext"
	"github.com/smartflow-crm/inference-gateway/internal/intent"
	"github.com/smartflow-crm/inference-gateway/internal/metrics"
	"github.com/smartflow-crm/inference-gateway/internal/persona"
	"github.com/smartflow-crm/inference-gateway/internal/session"
)

// Response sources, in fallback order.
const (
	SourceShortcut  = "shortcut"
	SourceCache     = "cache"
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceFallback  = "fallback"
)

// PrimaryClient is the chat-completion backend.
type PrimaryClient interface {
	Complete(ctx context.Context, messages []chat.Message) (string, error)
}

// SecondaryClient is the keyword-intent backend.
type SecondaryClient interface {
	Classify(ctx context.Context, req *keyword.ClassifyRequest) (*keyword.ClassifyResponse, error)
}

// ReadinessChecker gates the secondary backend behind the GPU health
// cache and wake flow.
type ReadinessChecker interface {
	EnsureReady(ctx context.Context) bool
}

// Request is one inference turn.
type Request struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Persona   string `json:"persona"`
	Language  string `json:"language"`
}

// Result is the orchestrated response. It is always populated; there
// is no error path back to the transport layer.
type Result struct {
	SessionID    string  `json:"session_id"`
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	ResponseText string  `json:"response_text"`
	Source       string  `json:"source"`
	Cached       bool    `json:"cached"`
	LatencyMS    float64 `json:"latency_ms"`
	Turn         int     `json:"turn"`
	// Diagnostics carries the breaker snapshots that explain a
	// degraded reply. Only populated when Source is fallback.
	Diagnostics map[string]breaker.Stats `json:"diagnostics,omitempty"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Primary          PrimaryClient
	Secondary        SecondaryClient
	Ready            ReadinessChecker
	PrimaryBreaker   *breaker.Breaker
	SecondaryBreaker *breaker.Breaker
	Cache            *cache.ResponseCache
	Sessions         *session.Store
	Contexts         *callcontext.Store
	// ShortcutThreshold is the minimum shortcut confidence that skips
	// the backends entirely.
	ShortcutThreshold float64
	Logger            *slog.Logger
}

// Orchestrator routes inference requests through the fallback chain.
type Orchestrator struct {
	primary          PrimaryClient
	secondary        SecondaryClient
	ready            ReadinessChecker
	primaryBreaker   *breaker.Breaker
	secondaryBreaker *breaker.Breaker
	cache            *cache.ResponseCache
	sessions         *session.Store
	contexts         *callcontext.Store
	threshold        float64
	logger           *slog.Logger
	tracer           trace.Tracer

	now func() time.Time // injectable for tests
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		primary:          opts.Primary,
		secondary:        opts.Secondary,
		ready:            opts.Ready,
		primaryBreaker:   opts.PrimaryBreaker,
		secondaryBreaker: opts.SecondaryBreaker,
		cache:            opts.Cache,
		sessions:         opts.Sessions,
		contexts:         opts.Contexts,
		threshold:        opts.ShortcutThreshold,
		logger:           logger,
		tracer:           otel.Tracer("inference-gateway/orchestrator"),
		now:              time.Now,
	}
}

// localized degraded replies when every backend is out.
var degradedReplies = map[string]string{
	"tr": "Üzgünüm, şu anda isteğinizi işleyemiyorum. Lütfen birazdan tekrar deneyin.",
	"en": "I'm sorry, I can't process your request right now. Please try again shortly.",
}

// Infer runs one turn through the fallback chain and always returns a
// usable result.
func (o *Orchestrator) Infer(ctx context.Context, req Request) Result {
	start := o.now()

	ctx, span := o.tracer.Start(ctx, "orchestrator.infer")
	defer span.End()

	if !persona.Valid(req.Persona) {
		req.Persona = "default"
	}
	if req.Language == "" {
		req.Language = "tr"
	}

	sess := o.sessions.GetOrCreate(req.SessionID, req.Persona, req.Language)
	o.sessions.AppendTurn(sess.ID, session.RoleUser, req.Text)

	res := o.resolve(ctx, sess.ID, req)
	res.SessionID = sess.ID
	res.Turn = o.sessions.TurnCount(sess.ID)
	res.LatencyMS = float64(o.now().Sub(start)) / float64(time.Millisecond)

	o.sessions.AppendTurn(sess.ID, session.RoleAssistant, res.ResponseText)

	span.SetAttributes(
		attribute.String("inference.source", res.Source),
		attribute.String("inference.intent", res.Intent),
	)
	metrics.ObserveInference(res.Source, o.now().Sub(start))
	o.logger.Info("inference resolved",
		slog.String("session_id", sess.ID),
		slog.String("source", res.Source),
		slog.String("intent", res.Intent),
		slog.Float64("latency_ms", res.LatencyMS))
	return res
}

// resolve walks the chain: shortcut, cache, primary, secondary,
// degraded. Results from the backends are written through to the
// cache; degraded replies never are.
func (o *Orchestrator) resolve(ctx context.Context, sessionID string, req Request) Result {
	if sc, ok := intent.Classify(req.Text); ok && sc.Confidence >= o.threshold {
		return Result{
			Intent:       sc.Intent,
			Confidence:   sc.Confidence,
			ResponseText: intent.Reply(sc.Intent, req.Language),
			Source:       SourceShortcut,
		}
	}

	key := cache.Key(req.Text, req.Persona, req.Language)
	if hit, ok := o.cache.Get(key); ok {
		metrics.ObserveCacheHit()
		return Result{
			Intent:       hit.Intent,
			Confidence:   hit.Confidence,
			ResponseText: hit.ResponseText,
			Source:       SourceCache,
			Cached:       true,
		}
	}
	metrics.ObserveCacheMiss()

	if res, ok := o.tryPrimary(ctx, sessionID, key); ok {
		return res
	}
	if res, ok := o.trySecondary(ctx, key, req); ok {
		return res
	}

	diagnostics := map[string]breaker.Stats{
		o.primaryBreaker.Name():   o.primaryBreaker.Stats(),
		o.secondaryBreaker.Name(): o.secondaryBreaker.Stats(),
	}
	o.logger.Error("all backends unavailable, serving degraded reply",
		slog.String("session_id", sessionID),
		slog.String("primary_breaker", diagnostics[o.primaryBreaker.Name()].State),
		slog.String("secondary_breaker", diagnostics[o.secondaryBreaker.Name()].State))
	reply, ok := degradedReplies[req.Language]
	if !ok {
		reply = degradedReplies["tr"]
	}
	return Result{
		Intent:       "unknown",
		ResponseText: reply,
		Source:       SourceFallback,
		Diagnostics:  diagnostics,
	}
}

func (o *Orchestrator) tryPrimary(ctx context.Context, sessionID, key string) (Result, bool) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.primary")
	defer span.End()

	messages := o.promptMessages(sessionID)

	raw, err := o.primaryBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return o.primary.Complete(ctx, messages)
	})
	if err != nil {
		o.logger.Warn("primary backend unavailable",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return Result{}, false
	}

	text, tag := ParseIntentTag(raw.(string))
	o.cache.Set(key, cache.Response{
		Intent:       tag.Intent,
		Confidence:   tag.Confidence,
		ResponseText: text,
		Source:       SourcePrimary,
	})
	return Result{
		Intent:       tag.Intent,
		Confidence:   tag.Confidence,
		ResponseText: text,
		Source:       SourcePrimary,
	}, true
}

func (o *Orchestrator) trySecondary(ctx context.Context, key string, req Request) (Result, bool) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.secondary")
	defer span.End()

	if !o.ready.EnsureReady(ctx) {
		o.logger.Warn("secondary backend not ready, skipping")
		return Result{}, false
	}

	raw, err := o.secondaryBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return o.secondary.Classify(ctx, &keyword.ClassifyRequest{
			Text:     req.Text,
			Persona:  req.Persona,
			Language: req.Language,
		})
	})
	if err != nil {
		o.logger.Warn("secondary backend unavailable", slog.String("error", err.Error()))
		return Result{}, false
	}

	resp := raw.(*keyword.ClassifyResponse)
	if resp.ResponseText == "" {
		return Result{}, false
	}
	o.cache.Set(key, cache.Response{
		Intent:       resp.Intent,
		Confidence:   resp.Confidence,
		ResponseText: resp.ResponseText,
		Source:       SourceSecondary,
	})
	return Result{
		Intent:       resp.Intent,
		Confidence:   resp.Confidence,
		ResponseText: resp.ResponseText,
		Source:       SourceSecondary,
	}, true
}

// promptMessages builds the primary backend prompt: the session
// history with any live injected context folded into the system
// message.
func (o *Orchestrator) promptMessages(sessionID string) []chat.Message {
	history := o.sessions.History(sessionID)
	messages := make([]chat.Message, len(history))
	for i, m := range history {
		messages[i] = chat.Message{Role: m.Role, Content: m.Content}
	}

	if o.contexts != nil && len(messages) > 0 {
		if lines := o.contexts.PromptLines(sessionID); len(lines) > 0 {
			messages[0].Content += "\n\nGüncel müşteri bağlamı:\n" + strings.Join(lines, "\n")
		}
	}
	return messages
}
