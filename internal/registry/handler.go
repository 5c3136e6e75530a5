// ABOUTME: Handler descriptors and the generic registration API
// ABOUTME: Binds method expressions to message shapes with priority and self-handling flags

package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ErrBinding indicates that a handler could not be bound to its receiver or argument.
var ErrBinding = errors.New("handler binding failed")

// Shape is the kind of argument a handler accepts.
type Shape int

const (
	// ShapeEvent handlers receive the unwrapped payload.
	ShapeEvent Shape = iota
	// ShapeEnvelope handlers receive the full envelope and match every message.
	ShapeEnvelope
	// ShapeConfig is the agent's configuration entry point.
	ShapeConfig
)

func (s Shape) String() string {
	switch s {
	case ShapeEvent:
		return "event"
	case ShapeEnvelope:
		return "envelope"
	case ShapeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Call runs a bound handler. The returned event is non-nil only for response handlers.
type Call func(ctx context.Context) (envelope.Event, error)

type binder func(target, arg any) (Call, error)

// Handler describes one registered handler. It is immutable once its table is built.
type Handler struct {
	Name              string
	Shape             Shape
	EventType         reflect.Type
	Priority          int
	AllowSelfHandling bool
	Response          bool

	order int
	bind  binder
}

// Bind prepares a call of h on target with arg.
// A receiver or argument of the wrong type yields an error wrapping ErrBinding.
func (h *Handler) Bind(target, arg any) (Call, error) {
	return h.bind(target, arg)
}

// Accepts reports whether h should receive a payload of type t.
func (h *Handler) Accepts(t reflect.Type) bool {
	switch h.Shape {
	case ShapeEnvelope:
		return true
	case ShapeEvent, ShapeConfig:
		if h.EventType == t {
			return true
		}
		return h.EventType.Kind() == reflect.Interface && t.Implements(h.EventType)
	default:
		return false
	}
}

// Option adjusts a handler at registration.
type Option func(*Handler)

// Priority sets the run order; lower runs first.
func Priority(p int) Option {
	return func(h *Handler) { h.Priority = p }
}

// AllowSelfHandling lets the handler see events whose origin is the agent itself.
func AllowSelfHandling() Option {
	return func(h *Handler) { h.AllowSelfHandling = true }
}

func bindingError(handler string, want reflect.Type, got any) error {
	return fmt.Errorf("%w: %s wants %s, got %T", ErrBinding, handler, want, got)
}

// On registers fn for events of type T. T may be an interface, in which case
// every payload implementing it matches.
func On[A any, T envelope.Event](b *Builder, name string, fn func(A, context.Context, T) error, opts ...Option) {
	if fn == nil {
		b.reject(name, "nil handler func")
		return
	}
	recvType, argType := reflect.TypeFor[A](), reflect.TypeFor[T]()
	b.add(&Handler{
		Name:      name,
		Shape:     ShapeEvent,
		EventType: argType,
		bind: func(target, arg any) (Call, error) {
			recv, ok := target.(A)
			if !ok {
				return nil, bindingError(name, recvType, target)
			}
			ev, ok := arg.(T)
			if !ok {
				return nil, bindingError(name, argType, arg)
			}
			return func(ctx context.Context) (envelope.Event, error) {
				return nil, fn(recv, ctx, ev)
			}, nil
		},
	}, opts)
}

// OnResponse registers a handler whose result is routed back to the publisher
// of the inbound envelope.
func OnResponse[A any, T envelope.Event, R envelope.Event](b *Builder, name string, fn func(A, context.Context, T) (R, error), opts ...Option) {
	if fn == nil {
		b.reject(name, "nil handler func")
		return
	}
	recvType, argType := reflect.TypeFor[A](), reflect.TypeFor[T]()
	b.add(&Handler{
		Name:      name,
		Shape:     ShapeEvent,
		EventType: argType,
		Response:  true,
		bind: func(target, arg any) (Call, error) {
			recv, ok := target.(A)
			if !ok {
				return nil, bindingError(name, recvType, target)
			}
			ev, ok := arg.(T)
			if !ok {
				return nil, bindingError(name, argType, arg)
			}
			return func(ctx context.Context) (envelope.Event, error) {
				result, err := fn(recv, ctx, ev)
				if err != nil {
					return nil, err
				}
				if isNil(result) {
					return nil, nil
				}
				return result, nil
			}, nil
		},
	}, opts)
}

// OnEnvelope registers an accepts-all handler that receives the full envelope.
func OnEnvelope[A any](b *Builder, name string, fn func(A, context.Context, *envelope.Envelope) error, opts ...Option) {
	if fn == nil {
		b.reject(name, "nil handler func")
		return
	}
	recvType := reflect.TypeFor[A]()
	b.add(&Handler{
		Name:  name,
		Shape: ShapeEnvelope,
		bind: func(target, arg any) (Call, error) {
			recv, ok := target.(A)
			if !ok {
				return nil, bindingError(name, recvType, target)
			}
			env, ok := arg.(*envelope.Envelope)
			if !ok {
				return nil, bindingError(name, reflect.TypeFor[*envelope.Envelope](), arg)
			}
			return func(ctx context.Context) (envelope.Event, error) {
				return nil, fn(recv, ctx, env)
			}, nil
		},
	}, opts)
}

// OnConfig registers the agent's configuration entry point. Only one is allowed per agent type.
func OnConfig[A any, C envelope.Event](b *Builder, name string, fn func(A, context.Context, C) error, opts ...Option) {
	if fn == nil {
		b.reject(name, "nil handler func")
		return
	}
	recvType, argType := reflect.TypeFor[A](), reflect.TypeFor[C]()
	b.add(&Handler{
		Name:      name,
		Shape:     ShapeConfig,
		EventType: argType,
		bind: func(target, arg any) (Call, error) {
			recv, ok := target.(A)
			if !ok {
				return nil, bindingError(name, recvType, target)
			}
			cfg, ok := arg.(C)
			if !ok {
				return nil, bindingError(name, argType, arg)
			}
			return func(ctx context.Context) (envelope.Event, error) {
				return nil, fn(recv, ctx, cfg)
			}, nil
		},
	}, opts)
}

// DefaultHandler is the conventional catch-all. Agents implementing it
// receive every event payload through HandleEvent.
type DefaultHandler interface {
	HandleEvent(ctx context.Context, ev envelope.Event) error
}

func defaultHandler() *Handler {
	eventType := reflect.TypeFor[envelope.Event]()
	return &Handler{
		Name:      "HandleEvent",
		Shape:     ShapeEvent,
		EventType: eventType,
		bind: func(target, arg any) (Call, error) {
			recv, ok := target.(DefaultHandler)
			if !ok {
				return nil, bindingError("HandleEvent", reflect.TypeFor[DefaultHandler](), target)
			}
			ev, ok := arg.(envelope.Event)
			if !ok {
				return nil, bindingError("HandleEvent", eventType, arg)
			}
			return func(ctx context.Context) (envelope.Event, error) {
				return nil, recv.HandleEvent(ctx, ev)
			}, nil
		},
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
