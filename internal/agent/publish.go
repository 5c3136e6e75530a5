// ABOUTME: Hierarchical publisher and point-to-point sends
// ABOUTME: Children publish to their parent, roots to their own channel; Register links children

package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/telemetry"
)

// Publish sends ev up the tree: to the parent's channel when the agent has a
// parent, otherwise to its own channel. It returns the new EventID.
func (c *Core) Publish(ctx context.Context, ev envelope.Event) (uuid.UUID, error) {
	correlation := c.chainCorrelation()
	env := envelope.New(ev, c.self, c.self, correlation)

	channel := c.self.Channel()
	if parent, ok := c.Parent(); ok {
		channel = parent.Channel()
	}

	if err := c.transport.Send(ctx, channel, env); err != nil {
		return uuid.Nil, fmt.Errorf("publishing %s from %s to %s: %w", env.Shape(), c.self, channel, err)
	}
	c.telemetry.Sent(ctx, c.self.Type, telemetry.SendPublish)

	c.logger.Debug("published",
		"channel", channel,
		"event_id", env.EventID,
		"shape", env.Shape(),
		"correlation_id", correlation,
	)
	return env.EventID, nil
}

// SendDownward forwards env unchanged to every child. With no children it
// does nothing. A failed child does not stop delivery to the others.
func (c *Core) SendDownward(ctx context.Context, env *envelope.Envelope) error {
	children := c.Children()
	if len(children) == 0 {
		return nil
	}

	var errs []error
	for _, child := range children {
		if err := c.transport.Send(ctx, child.Channel(), env); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s from %s to %s: %w", env.Shape(), c.self, child, err))
			continue
		}
		c.telemetry.Sent(ctx, c.self.Type, telemetry.SendDownward)
	}

	c.logger.Debug("sent downward",
		"children", len(children),
		"failed", len(errs),
		"event_id", env.EventID,
		"shape", env.Shape(),
	)
	return errors.Join(errs...)
}

// SendResponse sends env directly to the agent at to, bypassing the tree.
func (c *Core) SendResponse(ctx context.Context, to envelope.Address, env *envelope.Envelope) error {
	if err := c.transport.Send(ctx, to.Channel(), env); err != nil {
		return fmt.Errorf("responding with %s from %s to %s: %w", env.Shape(), c.self, to, err)
	}
	c.telemetry.Sent(ctx, c.self.Type, telemetry.SendResponse)
	return nil
}

// SendException sends a fault event directly to the agent at to.
func (c *Core) SendException(ctx context.Context, to envelope.Address, fault envelope.Event) error {
	env := envelope.New(fault, c.self, c.self, c.TurnCorrelation())
	if err := c.transport.Send(ctx, to.Channel(), env); err != nil {
		return fmt.Errorf("reporting %s from %s to %s: %w", env.Shape(), c.self, to, err)
	}
	c.telemetry.Sent(ctx, c.self.Type, telemetry.SendException)
	return nil
}

// Register makes child a child of this agent and tells it so.
// Registering an existing child does nothing.
func (c *Core) Register(ctx context.Context, child envelope.Address) error {
	if child == c.self {
		return fmt.Errorf("registering %s as its own child", c.self)
	}
	if slices.Contains(c.Children(), child) {
		c.logger.Debug("child already registered", "child", child.String())
		return nil
	}

	if err := c.RaiseEvent(ctx, &ChildAdded{Child: child}); err != nil {
		return fmt.Errorf("registering child %s: %w", child, err)
	}
	return c.sendControl(ctx, child, &ParentAssigned{Parent: c.self})
}

// Unregister removes child and tells it it no longer has a parent.
func (c *Core) Unregister(ctx context.Context, child envelope.Address) error {
	if !slices.Contains(c.Children(), child) {
		c.logger.Debug("unregistering unknown child", "child", child.String())
		return nil
	}

	if err := c.RaiseEvent(ctx, &ChildRemoved{Child: child}); err != nil {
		return fmt.Errorf("unregistering child %s: %w", child, err)
	}
	return c.sendControl(ctx, child, &ParentReleased{Parent: c.self})
}

func (c *Core) sendControl(ctx context.Context, to envelope.Address, msg envelope.Event) error {
	env := envelope.New(msg, c.self, c.self, c.chainCorrelation())
	if err := c.transport.Send(ctx, to.Channel(), env); err != nil {
		return fmt.Errorf("publishing %s from %s to %s: %w", env.Shape(), c.self, to, err)
	}
	c.telemetry.Sent(ctx, c.self.Type, telemetry.SendControl)
	return nil
}
