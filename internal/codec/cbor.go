// ABOUTME: Deterministic CBOR encoding for events, snapshots, and deep copies
// ABOUTME: Resolves polymorphic events by their registered shape name

package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ErrUnregisteredEvent is returned when an event type has no registered name.
var ErrUnregisteredEvent = errors.New("event type not registered")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeEvent returns the registered shape name and CBOR body of ev.
func EncodeEvent(ev envelope.Event) (string, []byte, error) {
	name := envelope.TypeName(ev)
	if _, ok := envelope.TypeFor(name); !ok {
		return "", nil, fmt.Errorf("encoding %s: %w", name, ErrUnregisteredEvent)
	}

	data, err := encMode.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return name, data, nil
}

// DecodeEvent rebuilds an event from its shape name and CBOR body.
func DecodeEvent(name string, data []byte) (envelope.Event, error) {
	t, ok := envelope.TypeFor(name)
	if !ok {
		return nil, fmt.Errorf("decoding %s: %w", name, ErrUnregisteredEvent)
	}

	ptr := reflect.New(t.Elem())
	if err := decMode.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	ev, ok := ptr.Interface().(envelope.Event)
	if !ok {
		return nil, fmt.Errorf("decoding %s: %s does not implement envelope.Event", name, t)
	}
	return ev, nil
}

// Clone returns a deep copy of v.
func Clone[T any](v T) (T, error) {
	var out T
	data, err := encMode.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("cloning %T: %w", v, err)
	}
	if err := decMode.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cloning %T: %w", v, err)
	}
	return out, nil
}

// Diagnose renders CBOR data in extended diagnostic notation for display.
func Diagnose(data []byte) (string, error) {
	out, err := cbor.Diagnose(data)
	if err != nil {
		return "", fmt.Errorf("diagnosing cbor: %w", err)
	}
	return out, nil
}
