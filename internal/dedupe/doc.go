// Package dedupe suppresses repeated deliveries of the same envelope.
//
// Transports deliver at least once, so an agent may see an envelope twice
// after a retry or a resumed subscription. A Window remembers delivery keys
// for a bounded time and count. A key is the receiving agent plus the
// envelope's event id, publisher and payload shape, so one window can be
// shared by every agent of a host: an envelope forwarded unchanged to several
// children is new at each of them, and a response that reuses the inbound
// EventID is still a distinct delivery.
package dedupe
