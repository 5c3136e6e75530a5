// ABOUTME: Dispatch pipeline running one inbound envelope through matching handlers
// ABOUTME: Applies self-handling suppression, response routing, and fault reporting

package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/registry"
)

// HandleEnvelope runs one turn for env. It returns an error only for framework
// faults and for envelopes arriving before activation; handler faults are
// reported to the publisher and the agent carries on.
func (c *Core) HandleEnvelope(ctx context.Context, env *envelope.Envelope) error {
	if env == nil || env.Payload == nil {
		c.logger.Warn("dropping envelope without payload")
		return nil
	}

	c.mu.RLock()
	replayed := c.replayed
	c.mu.RUnlock()
	if !replayed {
		return fmt.Errorf("handling %s on %s: %w", env.Shape(), c.self, ErrNotActivated)
	}

	if c.dedupe != nil && c.dedupe.Seen(c.self, env) {
		c.logger.Debug("dropping duplicate delivery",
			"event_id", env.EventID,
			"shape", env.Shape(),
		)
		return nil
	}

	c.turn.Lock()
	defer c.turn.Unlock()

	c.beginTurn(env.CorrelationID)
	defer c.endTurn()

	ctx, end := c.telemetry.StartDispatch(ctx, c.self.Type, env.Shape())
	err := c.dispatch(ctx, env)
	end(err)
	if err != nil && c.dedupe != nil {
		// A framework fault leaves the turn unfinished, so a redelivery may retry it.
		c.dedupe.Forget(c.self, env)
	}
	return err
}

func (c *Core) dispatch(ctx context.Context, env *envelope.Envelope) error {
	switch msg := env.Payload.(type) {
	case *ParentAssigned:
		return c.onParentAssigned(ctx, msg)
	case *ParentReleased:
		return c.onParentReleased(ctx, msg)
	}

	handlers := c.table.Match(env.Payload)
	if len(handlers) == 0 {
		c.logger.Debug("no handler for envelope",
			"event_id", env.EventID,
			"shape", env.Shape(),
		)
		return nil
	}

	var frameworkErrs []error
	for _, h := range handlers {
		if env.OriginID == c.self && !h.AllowSelfHandling {
			c.logger.Debug("skipping self-originated envelope",
				"handler", h.Name,
				"event_id", env.EventID,
			)
			continue
		}
		if err := c.invoke(ctx, h, env); err != nil {
			frameworkErrs = append(frameworkErrs, err)
		}
	}
	return errors.Join(frameworkErrs...)
}

// invoke runs one handler. It returns only framework faults.
func (c *Core) invoke(ctx context.Context, h *registry.Handler, env *envelope.Envelope) error {
	var arg any = env.Payload
	if h.Shape == registry.ShapeEnvelope {
		arg = env
	}

	call, err := h.Bind(c.impl, arg)
	if err != nil {
		c.reportFramework(ctx, h, env, err)
		return fmt.Errorf("dispatching %s to %s: %w", env.Shape(), h.Name, err)
	}

	result, err := runHandler(ctx, call)
	if err != nil {
		c.reportHandler(ctx, h, env, err)
		return nil
	}

	if !h.Response {
		return nil
	}
	if result == nil {
		c.reportHandler(ctx, h, env, errors.New("response handler returned no result"))
		return nil
	}
	if err := c.reply(ctx, env, result); err != nil {
		c.reportHandler(ctx, h, env, err)
	}
	return nil
}

// runHandler invokes call and converts a panic into an error.
func runHandler(ctx context.Context, call registry.Call) (result envelope.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return call(ctx)
}

// reply sends result to the inbound publisher reusing the inbound EventID.
func (c *Core) reply(ctx context.Context, inbound *envelope.Envelope, result envelope.Event) error {
	if inbound.PublisherID.IsZero() {
		return errors.New("inbound envelope has no publisher to reply to")
	}

	correlation := c.TurnCorrelation()
	result.EventMeta().CorrelationID = correlation
	out := envelope.Wrap(inbound.EventID, result, c.self, c.self, correlation)

	if err := c.SendResponse(ctx, inbound.PublisherID, out); err != nil {
		return err
	}
	c.logger.Debug("sent response",
		"to", inbound.PublisherID.String(),
		"event_id", out.EventID,
		"shape", out.Shape(),
	)
	return nil
}

func (c *Core) reportHandler(ctx context.Context, h *registry.Handler, env *envelope.Envelope, cause error) {
	c.logger.Warn("handler failed",
		"handler", h.Name,
		"event_id", env.EventID,
		"shape", env.Shape(),
		"error", cause,
	)
	c.telemetry.HandlerFault(ctx, c.self.Type, h.Name)
	c.sendFault(ctx, env, &envelope.HandlerException{
		Handler:   h.Name,
		EventType: env.Shape(),
		Cause:     cause.Error(),
		Agent:     c.self,
	})
}

func (c *Core) reportFramework(ctx context.Context, h *registry.Handler, env *envelope.Envelope, cause error) {
	c.logger.Error("handler binding failed",
		"handler", h.Name,
		"event_id", env.EventID,
		"shape", env.Shape(),
		"error", cause,
	)
	c.telemetry.FrameworkFault(ctx, c.self.Type, h.Name)
	c.sendFault(ctx, env, &envelope.FrameworkException{
		Handler:   h.Name,
		EventType: env.Shape(),
		Cause:     cause.Error(),
		Agent:     c.self,
	})
}

// sendFault reports fault to the inbound publisher. Faults about faults are only logged.
func (c *Core) sendFault(ctx context.Context, inbound *envelope.Envelope, fault envelope.Event) {
	if envelope.IsFault(inbound.Payload) {
		c.logger.Debug("not reporting fault raised by a fault envelope", "event_id", inbound.EventID)
		return
	}
	if inbound.PublisherID.IsZero() {
		c.logger.Warn("fault has no publisher to report to", "event_id", inbound.EventID)
		return
	}
	if err := c.SendException(ctx, inbound.PublisherID, fault); err != nil {
		c.logger.Error("reporting fault failed",
			"to", inbound.PublisherID.String(),
			"event_id", inbound.EventID,
			"error", err,
		)
	}
}

// Configure delivers cfg to the agent's configuration entry point as a turn.
func (c *Core) Configure(ctx context.Context, cfg envelope.Event) error {
	if cfg == nil {
		return fmt.Errorf("configuring %s: nil configuration", c.self)
	}
	h := c.table.Config()
	if h == nil {
		return fmt.Errorf("configuring %s: no configuration entry point", c.self)
	}
	if !h.Accepts(reflect.TypeOf(cfg)) {
		return fmt.Errorf("configuring %s with %s: %w", c.self, envelope.TypeName(cfg), registry.ErrBinding)
	}

	call, err := h.Bind(c.impl, cfg)
	if err != nil {
		return fmt.Errorf("configuring %s: %w", c.self, err)
	}
	return c.withTurn(cfg.EventMeta().CorrelationID, func() error {
		if _, err := runHandler(ctx, call); err != nil {
			return fmt.Errorf("configuring %s: %w", c.self, err)
		}
		return nil
	})
}

func (c *Core) onParentAssigned(ctx context.Context, msg *ParentAssigned) error {
	if parent, ok := c.Parent(); ok && parent == msg.Parent {
		return nil
	}
	c.logger.Debug("parent assigned", "parent", msg.Parent.String())
	if err := c.RaiseEvent(ctx, &ParentSet{Parent: msg.Parent}); err != nil {
		return fmt.Errorf("recording parent %s: %w", msg.Parent, err)
	}
	return nil
}

func (c *Core) onParentReleased(ctx context.Context, msg *ParentReleased) error {
	parent, ok := c.Parent()
	if !ok || parent != msg.Parent {
		c.logger.Debug("ignoring release from non-parent", "from", msg.Parent.String())
		return nil
	}
	if err := c.RaiseEvent(ctx, &ParentCleared{}); err != nil {
		return fmt.Errorf("clearing parent %s: %w", msg.Parent, err)
	}
	return nil
}
