// ABOUTME: Standard fault events reported back to publishers
// ABOUTME: HandlerException for handler errors, FrameworkException for plumbing failures

package envelope

// HandlerException reports that a handler failed while processing a
// correctly shaped message.
type HandlerException struct {
	Meta
	Handler   string  `cbor:"handler"`
	EventType string  `cbor:"event_type"`
	Cause     string  `cbor:"cause"`
	Agent     Address `cbor:"agent"`
}

// FrameworkException reports a binding or dispatch plumbing failure.
type FrameworkException struct {
	Meta
	Handler   string  `cbor:"handler"`
	EventType string  `cbor:"event_type"`
	Cause     string  `cbor:"cause"`
	Agent     Address `cbor:"agent"`
}

func init() {
	RegisterName("envelope.HandlerException", &HandlerException{})
	RegisterName("envelope.FrameworkException", &FrameworkException{})
}

// IsFault reports whether ev is one of the standard fault events.
func IsFault(ev Event) bool {
	switch ev.(type) {
	case *HandlerException, *FrameworkException:
		return true
	}
	return false
}
