package wa

import (
	"time"
)

// LifecycleEvent is a tagged variant describing a transport lifecycle
// change. The whatsmeow callback translates raw events into these so
// the state machine never inspects loosely-typed payloads.
type LifecycleEvent interface {
	lifecycleEvent()
}

// QRIssued carries a fresh login challenge to scan.
type QRIssued struct {
	Code string
}

// Opened signals a fully established, authenticated connection.
type Opened struct {
	Account Account
}

// Closed signals that the transport died, with a classified cause.
type Closed struct {
	Cause  CloseCause
	Reason string
}

func (QRIssued) lifecycleEvent() {}
func (Opened) lifecycleEvent()   {}
func (Closed) lifecycleEvent()   {}

// CloseCause classifies why a connection closed.
type CloseCause int

const (
	// CauseConnectionLost covers transient network/stream failures.
	CauseConnectionLost CloseCause = iota
	// CauseConnectFailure is a handshake rejection by the server.
	CauseConnectFailure
	// CauseLoggedOut means the device was unlinked; credentials are gone.
	CauseLoggedOut
	// CauseStreamReplaced means another client took over the session.
	CauseStreamReplaced
)

// Terminal reports whether the cause rules out automatic reconnection.
// Logged-out and replaced sessions wait for an explicit re-init:
// reconnecting would either fail (no credentials) or fight the other
// client for the session.
func (c CloseCause) Terminal() bool {
	return c == CauseLoggedOut || c == CauseStreamReplaced
}

func (c CloseCause) String() string {
	switch c {
	case CauseConnectionLost:
		return "connection lost"
	case CauseConnectFailure:
		return "connect failure"
	case CauseLoggedOut:
		return "logged out"
	case CauseStreamReplaced:
		return "stream replaced"
	default:
		return "unknown"
	}
}

// InboundMessage is a normalized inbound transport message, published
// on the bus for the pipeline.
type InboundMessage struct {
	ID         string
	ChatID     string
	Text       string
	SenderName string // raw push name; pipeline normalizes
	FromMe     bool
	IsGroup    bool
	Timestamp  time.Time
}
