package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zapdesk/zapdesk/internal/bus"
	"github.com/zapdesk/zapdesk/internal/session"
	"github.com/zapdesk/zapdesk/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// ErrNotConnected is returned by SendMessage while the connection is
// not in the connected state.
var ErrNotConnected = errors.New("whatsapp client not connected")

// Status is the connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Account identifies the authenticated WhatsApp account. Present only
// while connected.
type Account struct {
	ID   string
	Name string
}

// DisconnectRecord is the last known disconnect cause, kept for
// diagnostics across reconnect attempts.
type DisconnectRecord struct {
	Reason string
	Date   time.Time
}

// State is a read-only snapshot of the connection.
type State struct {
	Status         Status
	QR             string // PNG data URL, "" when no pending challenge
	Account        *Account
	LastDisconnect *DisconnectRecord
}

// Manager owns the single live WhatsApp connection: its state machine,
// reconnect policy, and the send path. All state mutations are
// serialized behind mu; transport callbacks from a superseded client
// handle are dropped.
type Manager struct {
	sessions       *session.Store
	db             *store.DB
	bus            *bus.Bus
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu             sync.Mutex
	client         *whatsmeow.Client
	container      *sqlstore.Container
	status         Status
	qr             string
	account        *Account
	lastDisconnect *DisconnectRecord
	reconnect      *time.Timer

	// reinit is invoked by the reconnect timer. Overridable in tests.
	reinit func()
}

// NewManager creates a connection manager in the disconnected state.
func NewManager(sessions *session.Store, db *store.DB, b *bus.Bus, reconnectDelay time.Duration, logger *zap.Logger) *Manager {
	m := &Manager{
		sessions:       sessions,
		db:             db,
		bus:            b,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		status:         StatusDisconnected,
	}
	m.reinit = func() {
		if err := m.Init(context.Background()); err != nil {
			m.logger.Error("automatic reconnect failed", zap.Error(err))
		}
	}
	return m
}

// Init establishes the connection: loads or creates credentials, opens
// the transport, and registers event sinks. A no-op while a live client
// handle exists, so concurrent callers (watchdog, reconnect timer,
// external init) cannot create duplicate connections. Transport
// failures land in the error state and are recorded as a
// DisconnectRecord; they are returned for logging but never panic.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.client != nil {
		m.mu.Unlock()
		m.logger.Debug("init skipped, connection handle exists")
		return nil
	}
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	container, device, err := m.sessions.Open(ctx)
	if err != nil {
		m.initFailed("load credentials", err)
		return err
	}

	client := whatsmeow.NewClient(device, nil)
	// The manager owns the reconnect policy; whatsmeow must not race it.
	client.EnableAutoReconnect = false

	m.mu.Lock()
	if m.client != nil {
		// Lost a race with a concurrent Init.
		m.mu.Unlock()
		_ = container.Close()
		return nil
	}
	m.client = client
	m.container = container
	m.mu.Unlock()

	client.AddEventHandler(func(evt any) {
		m.handleTransportEvent(client, evt)
	})

	if err := client.Connect(); err != nil {
		m.mu.Lock()
		if m.client == client {
			m.detachLocked()
		}
		m.mu.Unlock()
		m.initFailed("open transport", err)
		return err
	}

	m.logger.Info("connection initiated")
	return nil
}

func (m *Manager) initFailed(stage string, err error) {
	m.logger.Error("init failed", zap.String("stage", stage), zap.Error(err))
	m.mu.Lock()
	m.lastDisconnect = &DisconnectRecord{
		Reason: fmt.Sprintf("%s: %v", stage, err),
		Date:   time.Now(),
	}
	m.setStatusLocked(StatusError)
	m.mu.Unlock()
}

// Logout tears down any live connection: best-effort protocol logout,
// removal of all event sinks, deletion of persisted credentials, and a
// reset to disconnected. Partial failures are logged and swallowed.
// The last involuntary DisconnectRecord is intentionally retained: a
// deliberate logout is not a diagnostic event worth overwriting it.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	client := m.client
	container := m.container
	m.client = nil
	m.container = nil
	m.account = nil
	m.qr = ""
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if client != nil {
		client.RemoveEventHandlers()
		if err := client.Logout(ctx); err != nil {
			m.logger.Warn("protocol logout failed", zap.Error(err))
			client.Disconnect()
		}
	}
	if container != nil {
		_ = container.Close()
	}
	m.sessions.Clear()
	m.logger.Info("logged out")
}

// Shutdown tears down the transport for process exit. Credentials stay on
// disk, so the next start reattaches without a new QR challenge.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.detachLocked()
	m.qr = ""
	m.setStatusLocked(StatusDisconnected)
	m.logger.Info("connection shut down")
}

// GetState returns a read-only snapshot. Never blocks on I/O and has
// no side effects.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		Status: m.status,
		QR:     m.qr,
	}
	if m.account != nil {
		acc := *m.account
		s.Account = &acc
	}
	if m.lastDisconnect != nil {
		rec := *m.lastDisconnect
		s.LastDisconnect = &rec
	}
	return s
}

// Connected reports whether a live, authenticated connection exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.status == StatusConnected
}

// SendMessage sends text to the given chat JID over the live transport,
// persists the outbound message, and resets the conversation's unread
// counter. Returns the provider's message ID.
func (m *Manager) SendMessage(ctx context.Context, to, text string) (string, error) {
	m.mu.Lock()
	client := m.client
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if client == nil || !connected {
		return "", ErrNotConnected
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	msg := &store.Message{
		ID:         resp.ID,
		ChatID:     to,
		FromMe:     true,
		Text:       text,
		SenderName: "Me",
		Timestamp:  resp.Timestamp.UnixMilli(),
	}
	// The send already happened; persistence problems are logged, not
	// surfaced as a send failure.
	if err := m.db.AddMessage(msg); err != nil {
		m.logger.Error("persist outbound message", zap.Error(err))
	}
	zero := 0
	if err := m.db.UpdateConversation(to, store.ConversationUpdate{
		LastMessage: &store.LastMessage{Text: text, Timestamp: msg.Timestamp},
		UnreadCount: &zero,
	}); err != nil {
		m.logger.Error("update conversation after send", zap.Error(err))
	}
	if err := m.db.IncrementStat(store.StatSent); err != nil {
		m.logger.Error("increment sent counter", zap.Error(err))
	}

	m.bus.Publish(bus.Event{Kind: bus.KindOutboundMessage, Payload: msg})
	return resp.ID, nil
}

// handleTransportEvent translates raw whatsmeow events into lifecycle
// variants and inbound messages. origin pins the client handle the
// event came from.
func (m *Manager) handleTransportEvent(origin *whatsmeow.Client, evt any) {
	switch evt := evt.(type) {
	case *events.QR:
		if len(evt.Codes) > 0 {
			m.applyLifecycle(origin, QRIssued{Code: evt.Codes[0]})
		}
	case *events.Connected:
		m.applyLifecycle(origin, Opened{Account: accountOf(origin)})
	case *events.LoggedOut:
		m.applyLifecycle(origin, Closed{
			Cause:  CauseLoggedOut,
			Reason: evt.Reason.String(),
		})
	case *events.StreamReplaced:
		m.applyLifecycle(origin, Closed{
			Cause:  CauseStreamReplaced,
			Reason: "session replaced by another connection",
		})
	case *events.ConnectFailure:
		cause := CauseConnectFailure
		if evt.Reason.IsLoggedOut() {
			cause = CauseLoggedOut
		}
		m.applyLifecycle(origin, Closed{
			Cause:  cause,
			Reason: fmt.Sprintf("connect failure: %s", evt.Reason),
		})
	case *events.Disconnected:
		m.applyLifecycle(origin, Closed{
			Cause:  CauseConnectionLost,
			Reason: "connection closed",
		})
	case *events.Message:
		m.handleInbound(origin, evt)
	}
}

// applyLifecycle runs the state machine for one lifecycle event.
// Events from a superseded handle are dropped: a dying connection must
// not mutate state owned by its replacement.
func (m *Manager) applyLifecycle(origin *whatsmeow.Client, evt LifecycleEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if origin != m.client {
		m.logger.Debug("dropping event from stale connection handle")
		return
	}

	switch evt := evt.(type) {
	case QRIssued:
		dataURL, err := qrDataURL(evt.Code)
		if err != nil {
			m.logger.Error("render qr", zap.Error(err))
			return
		}
		m.qr = dataURL
		if m.status != StatusConnected {
			m.setStatusLocked(StatusConnecting)
		}
		m.bus.Publish(bus.Event{Kind: bus.KindQRIssued})
		m.logger.Info("login challenge issued")

	case Opened:
		m.qr = ""
		acc := evt.Account
		m.account = &acc
		m.setStatusLocked(StatusConnected)
		m.logger.Info("connected",
			zap.String("account_id", acc.ID),
			zap.String("account_name", acc.Name))

	case Closed:
		m.closedLocked(evt)
	}
}

// closedLocked handles a transport close. Caller holds mu and has
// already verified the handle identity.
func (m *Manager) closedLocked(evt Closed) {
	// Detach all sinks from the dying transport so the next connection
	// never sees duplicate event delivery.
	m.detachLocked()

	m.lastDisconnect = &DisconnectRecord{Reason: evt.Reason, Date: time.Now()}
	m.bus.Publish(bus.Event{Kind: bus.KindDisconnected, Payload: evt.Reason})

	if evt.Cause.Terminal() {
		// A pending reconnect from an earlier transient close must not
		// resurrect a logged-out or replaced session.
		if m.reconnect != nil {
			m.reconnect.Stop()
			m.reconnect = nil
		}
		m.qr = ""
		m.setStatusLocked(StatusDisconnected)
		m.logger.Warn("terminal disconnect, awaiting re-init",
			zap.Stringer("cause", evt.Cause),
			zap.String("reason", evt.Reason))
		return
	}

	m.setStatusLocked(StatusConnecting)
	m.scheduleReconnectLocked()
	m.logger.Warn("transient disconnect, reconnect scheduled",
		zap.Stringer("cause", evt.Cause),
		zap.String("reason", evt.Reason),
		zap.Duration("delay", m.reconnectDelay))
}

// detachLocked removes event sinks and drops the connection handle and
// account. Caller holds mu.
func (m *Manager) detachLocked() {
	if m.client != nil {
		m.client.RemoveEventHandlers()
		m.client.Disconnect()
		m.client = nil
	}
	if m.container != nil {
		_ = m.container.Close()
		m.container = nil
	}
	m.account = nil
}

// scheduleReconnectLocked arms the single reconnect timer. Caller
// holds mu. Logout cancels a pending timer through m.reconnect.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(m.reconnectDelay, m.reinit)
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.bus.Publish(bus.Event{Kind: bus.KindStatusChanged, Payload: string(s)})
}

// handleInbound normalizes a live message event and hands it to the
// pipeline via the bus.
func (m *Manager) handleInbound(origin *whatsmeow.Client, evt *events.Message) {
	m.mu.Lock()
	stale := origin != m.client
	m.mu.Unlock()
	if stale {
		return
	}

	msg := &InboundMessage{
		ID:         evt.Info.ID,
		ChatID:     evt.Info.Chat.String(),
		Text:       extractText(evt.Message),
		SenderName: evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		IsGroup:    evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp,
	}
	m.bus.Publish(bus.Event{Kind: bus.KindInboundMessage, Payload: msg})
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func accountOf(client *whatsmeow.Client) Account {
	acc := Account{Name: client.Store.PushName}
	if client.Store.ID != nil {
		acc.ID = client.Store.ID.User
	}
	if acc.Name == "" {
		acc.Name = "N/A"
	}
	return acc
}
