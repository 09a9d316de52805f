package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces used across the daemon.
//
//	conn.*  connection lifecycle (status changes, QR, disconnects)
//	msg.*   message traffic (inbound, outbound, send failures)
//	agent.* responder activity (assignments, replies)
const (
	KindStatusChanged   = "conn.status_changed"
	KindQRIssued        = "conn.qr_issued"
	KindDisconnected    = "conn.disconnected"
	KindInboundMessage  = "msg.inbound"
	KindOutboundMessage = "msg.outbound"
	KindSendFailed      = "msg.send_failed"
	KindAgentAssigned   = "agent.assigned"
	KindAgentReplied    = "agent.replied"
)
