// Package pipeline turns inbound transport messages into persisted
// records and auto-responses. It consumes msg.inbound events from the
// bus; one malformed message or failed send never aborts a batch or
// crashes the daemon.
package pipeline

import (
	"context"
	"strings"

	"github.com/zapdesk/zapdesk/internal/agent"
	"github.com/zapdesk/zapdesk/internal/ai"
	"github.com/zapdesk/zapdesk/internal/bus"
	"github.com/zapdesk/zapdesk/internal/store"
	"github.com/zapdesk/zapdesk/internal/wa"
	"go.uber.org/zap"
)

// Sender is the outbound path; both auto-responses and manual sends go
// through the same connected-handle check behind it.
type Sender interface {
	SendMessage(ctx context.Context, to, text string) (string, error)
}

// Pipeline processes inbound messages: persist, update conversation,
// route to the assigned responder, and send the reply.
type Pipeline struct {
	db     *store.DB
	router *agent.Router
	ai     ai.Responder
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates a pipeline.
func New(db *store.DB, router *agent.Router, responder ai.Responder, sender Sender, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		router: router,
		ai:     responder,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound message events on the bus. A single
// consumer goroutine serializes record-store writes per conversation.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	sub := p.bus.Subscribe(bus.KindInboundMessage, 256)

	go func() {
		defer sub.Cancel()
		for {
			select {
			case evt := <-sub.C():
				msg, ok := evt.Payload.(*wa.InboundMessage)
				if !ok {
					continue
				}
				p.Process(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the consumer goroutine.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// ProcessBatch handles a batch of messages, isolating each one.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []*wa.InboundMessage) {
	for _, msg := range msgs {
		p.Process(ctx, msg)
	}
}

// Process runs the full pipeline for one message.
func (p *Pipeline) Process(ctx context.Context, msg *wa.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered",
				zap.Any("panic", r),
				zap.String("chat_id", msg.ChatID))
		}
	}()

	// Group traffic and payloads without text or chat are out of scope.
	if msg.Text == "" || msg.ChatID == "" || msg.IsGroup {
		return
	}

	name := normalizeSenderName(msg.SenderName, msg.ChatID)

	record := &store.Message{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		FromMe:     msg.FromMe,
		Text:       msg.Text,
		SenderName: name,
		Timestamp:  msg.Timestamp.UnixMilli(),
	}
	if err := p.db.AddMessage(record); err != nil {
		p.logger.Error("persist message", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}

	update := store.ConversationUpdate{
		Name:            &name,
		LastMessage:     &store.LastMessage{Text: msg.Text, Timestamp: record.Timestamp},
		IncrementUnread: !msg.FromMe,
	}
	if err := p.db.UpdateConversation(msg.ChatID, update); err != nil {
		p.logger.Error("update conversation", zap.Error(err), zap.String("chat_id", msg.ChatID))
	}

	// Never auto-respond to our own messages.
	if msg.FromMe {
		return
	}

	if err := p.db.IncrementStat(store.StatReceived); err != nil {
		p.logger.Error("increment received counter", zap.Error(err))
	}

	responder := p.resolveResponder(msg.ChatID)
	if responder == nil {
		return
	}

	reply := p.composeReply(ctx, responder, msg.Text)
	if reply == "" {
		p.logger.Info("responder produced no reply",
			zap.String("chat_id", msg.ChatID),
			zap.String("agent_id", responder.ID))
		return
	}

	if _, err := p.sender.SendMessage(ctx, msg.ChatID, reply); err != nil {
		p.logger.Error("auto-reply send failed",
			zap.Error(err),
			zap.String("chat_id", msg.ChatID),
			zap.String("agent_id", responder.ID))
		if serr := p.db.IncrementStat(store.StatErrors); serr != nil {
			p.logger.Error("increment errors counter", zap.Error(serr))
		}
		_ = p.db.AddLog(&store.LogEntry{
			User:    responder.Name,
			Action:  "auto_reply_failed",
			Details: err.Error(),
			Type:    "error",
		})
		p.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Payload: msg.ChatID})
		return
	}

	p.logger.Info("auto-reply sent",
		zap.String("chat_id", msg.ChatID),
		zap.String("agent_id", responder.ID))
	_ = p.db.AddLog(&store.LogEntry{
		User:    responder.Name,
		Action:  "auto_reply",
		Details: reply,
		Type:    "success",
	})
	p.bus.Publish(bus.Event{Kind: bus.KindAgentReplied, Payload: responder.ID})
}

// resolveResponder finds the sticky agent for a chat, assigning one on
// first contact.
func (p *Pipeline) resolveResponder(chatID string) *agent.Agent {
	assigned := ""
	conv, err := p.db.GetConversation(chatID)
	if err != nil {
		p.logger.Error("load conversation", zap.Error(err), zap.String("chat_id", chatID))
	} else if conv != nil {
		assigned = conv.AssignedAgentID
	}

	responder, err := p.router.Resolve(chatID, assigned)
	if err != nil {
		p.logger.Error("resolve responder", zap.Error(err), zap.String("chat_id", chatID))
		return nil
	}
	if responder == nil {
		p.logger.Warn("no responder available", zap.String("chat_id", chatID))
		_ = p.db.AddLog(&store.LogEntry{
			Action:  "no_responder",
			Details: chatID,
			Type:    "warning",
		})
		return nil
	}
	return responder
}

// composeReply produces the outbound text. AI mode tries the external
// capability first; an empty or failed answer falls through to rule
// evaluation, and an unmatched rule scan falls back to the agent's
// configured fallback text.
func (p *Pipeline) composeReply(ctx context.Context, responder *agent.Agent, text string) string {
	if responder.Mode == agent.ModeAI {
		out, err := p.ai.GenerateResponse(ctx, text, responder.AISettings)
		if err != nil {
			p.logger.Error("ai generation failed, falling back to rules",
				zap.Error(err),
				zap.String("agent_id", responder.ID))
		} else if out != "" {
			return out
		}
	}

	if rule := agent.Match(responder.Rules, text); rule != nil {
		return agent.PickResponse(rule)
	}
	return responder.FallbackResponse
}

// normalizeSenderName prefers the provided push name unless it is
// empty or a lone placeholder character, in which case the chat ID's
// local part is used.
func normalizeSenderName(pushName, chatID string) string {
	name := strings.TrimSpace(pushName)
	if name != "" && name != "." {
		return name
	}
	if i := strings.IndexByte(chatID, '@'); i > 0 {
		return chatID[:i]
	}
	return chatID
}
