// Package reaction routes orchestrator events to actions: canned
// corrective instructions sent back to the agent, or notifications fanned
// out to humans. Rules come from the reactions section of ao.yaml.
package reaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/plugin"
)

// AgentSender delivers a message to a session's agent. The session
// manager implements it.
type AgentSender interface {
	Send(ctx context.Context, sessionID, message string) error
}

// Engine applies reaction rules to published events. Reactions are
// edge-triggered: per (session, event type) only a changed transition
// fires, so a condition re-reported across ticks does not produce a
// storm, while a genuine re-entry from a different predecessor does
// react again.
type Engine struct {
	cfg       *config.ReactionConfig
	sender    AgentSender
	notifiers []plugin.Notifier
	bus       *events.Bus

	mu    sync.Mutex
	fired map[string]string // sessionID|type -> last fired from|edge

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// NewEngine creates a reaction engine. Call Subscribe to attach it to the
// bus and Close on shutdown to drain in-flight retries.
func NewEngine(cfg *config.ReactionConfig, sender AgentSender, notifiers []plugin.Notifier, bus *events.Bus) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		sender:    sender,
		notifiers: notifiers,
		bus:       bus,
		fired:     make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
		logger:    slog.With("component", "reaction"),
	}
}

// Subscribe attaches the engine to the event bus.
func (e *Engine) Subscribe() *events.Subscription {
	return e.bus.Subscribe(e.HandleEvent)
}

// Close cancels in-flight retries and waits for them.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// HandleEvent applies the configured rule for the event type, if any.
func (e *Engine) HandleEvent(evt events.Event) {
	if evt.Type == events.TypeSessionKilled && evt.SessionID != "" {
		e.Forget(evt.SessionID)
	}

	rule := e.cfg.Rules[evt.Type]
	if rule == nil {
		return
	}
	if !e.markFired(evt) {
		return
	}

	switch rule.Action {
	case config.ActionSendToAgent:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.sendToAgent(evt, rule)
		}()
	case config.ActionNotify:
		e.notify(evt, rule)
	default:
		e.logger.Warn("Unknown reaction action",
			"action", rule.Action, "event_type", evt.Type)
	}
}

// Forget drops debounce state for a finished session.
func (e *Engine) Forget(sessionID string) {
	prefix := sessionID + "|"
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.fired {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.fired, key)
		}
	}
}

// markFired reports whether this event carries a transition the session
// has not already fired for its type. Repeats of the same from|edge are
// suppressed; a different predecessor re-arms the rule. Events without a
// session always fire.
func (e *Engine) markFired(evt events.Event) bool {
	if evt.SessionID == "" {
		return true
	}
	key := evt.SessionID + "|" + string(evt.Type)
	transition := fromOf(evt) + "|" + edgeOf(evt)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired[key] == transition {
		return false
	}
	e.fired[key] = transition
	return true
}

// edgeOf extracts the status/activity transition the event rode in on.
func edgeOf(evt events.Event) string {
	for _, key := range []string{"edge", "status", "activity"} {
		if v, ok := evt.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// fromOf extracts the state the session left, when the event carries it.
func fromOf(evt events.Event) string {
	v, _ := evt.Data["from"].(string)
	return v
}

// sendToAgent delivers the canned instruction, retrying on failure with
// exponential backoff, and escalates when the rule's budget is spent.
func (e *Engine) sendToAgent(evt events.Event, rule *config.ReactionRule) {
	message := Instruction(evt)
	failures := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBase
	policy.MaxInterval = e.cfg.RetryCap
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := e.sender.Send(e.ctx, evt.SessionID, message)
		if err != nil {
			failures++
			e.logger.Warn("Reaction send failed",
				"session_id", evt.SessionID, "event_type", evt.Type,
				"attempt", failures, "error", err)
			if rule.EscalateAfter > 0 && failures >= rule.EscalateAfter {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(rule.Retries)), e.ctx))
	if err == nil {
		e.logger.Info("Reaction sent to agent",
			"session_id", evt.SessionID, "event_type", evt.Type)
		return
	}
	if e.ctx.Err() != nil {
		return
	}

	e.bus.Publish(events.New(events.TypeEscalationRequired, events.PriorityUrgent,
		evt.ProjectID, evt.SessionID,
		fmt.Sprintf("failed to deliver %s reaction after %d attempts", evt.Type, failures)).
		WithData(map[string]any{"origin_event": string(evt.Type)}))
}

// notify fans the event out to every configured notifier, attaching
// action buttons for actionable event types.
func (e *Engine) notify(evt events.Event, rule *config.ReactionRule) {
	if rule.Priority != "" {
		evt.Priority = rule.Priority
	}
	actions := ActionsFor(evt)

	for _, notifier := range e.notifiers {
		var err error
		if len(actions) > 0 {
			err = notifier.NotifyWithActions(e.ctx, evt, actions)
		} else {
			err = notifier.Notify(e.ctx, evt)
		}
		if err != nil {
			e.logger.Warn("Notifier failed",
				"notifier", notifier.Manifest().Name,
				"event_type", evt.Type, "error", err)
		}
	}
}
