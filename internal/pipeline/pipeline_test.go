package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zapdesk/zapdesk/internal/agent"
	"github.com/zapdesk/zapdesk/internal/bus"
	"github.com/zapdesk/zapdesk/internal/store"
	"github.com/zapdesk/zapdesk/internal/wa"
	"go.uber.org/zap"
)

// fakeSender records sends and returns configurable errors.
type fakeSender struct {
	calls []sendCall
	err   error
}

type sendCall struct {
	To   string
	Text string
}

func (f *fakeSender) SendMessage(_ context.Context, to, text string) (string, error) {
	f.calls = append(f.calls, sendCall{To: to, Text: text})
	if f.err != nil {
		return "", f.err
	}
	return "server-id", nil
}

// fakeAI returns a fixed response or error.
type fakeAI struct {
	response string
	err      error
	calls    int
}

func (f *fakeAI) GenerateResponse(_ context.Context, _ string, _ *agent.AISettings) (string, error) {
	f.calls++
	return f.response, f.err
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testPipeline(t *testing.T, db *store.DB, sender *fakeSender, responder *fakeAI) *Pipeline {
	t.Helper()
	logger := zap.NewNop()
	router := agent.NewRouter(db, nil, logger)
	return New(db, router, responder, sender, bus.New(), logger)
}

func seedAgent(t *testing.T, db *store.DB, a *agent.Agent) {
	t.Helper()
	if err := db.AddAgent(a); err != nil {
		t.Fatal(err)
	}
}

func inbound(chatID, text string) *wa.InboundMessage {
	return &wa.InboundMessage{
		ID:        "m-" + text,
		ChatID:    chatID,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestRuleMatchSendsResponse(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{
		ID:   "a1",
		Name: "Sales",
		Mode: agent.ModeRule,
		Rules: []agent.Rule{
			{ID: "r1", Keywords: "price, cost", Responses: []string{"$10/mo"}},
		},
		FallbackResponse: "Sorry, try again",
	})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "what is the price?"))

	if len(sender.calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.calls))
	}
	if sender.calls[0].Text != "$10/mo" {
		t.Errorf("sent %q, want $10/mo", sender.calls[0].Text)
	}
}

func TestNoRuleMatchUsesFallback(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{
		ID:   "a1",
		Mode: agent.ModeRule,
		Rules: []agent.Rule{
			{ID: "r1", Keywords: "price", Responses: []string{"$10/mo"}},
		},
		FallbackResponse: "Sorry, try again",
	})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hello"))

	if len(sender.calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.calls))
	}
	if sender.calls[0].Text != "Sorry, try again" {
		t.Errorf("sent %q, want fallback", sender.calls[0].Text)
	}
}

func TestAIEmptyFallsThroughToRules(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{
		ID:   "a1",
		Mode: agent.ModeAI,
		Rules: []agent.Rule{
			{ID: "r1", Keywords: "price", Responses: []string{"$10/mo"}},
		},
		FallbackResponse: "Sorry, try again",
		AISettings:       &agent.AISettings{Provider: "gemini"},
	})
	sender := &fakeSender{}
	responder := &fakeAI{response: ""}
	p := testPipeline(t, db, sender, responder)

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "what is the price?"))

	if responder.calls != 1 {
		t.Errorf("AI calls = %d, want 1", responder.calls)
	}
	if len(sender.calls) != 1 || sender.calls[0].Text != "$10/mo" {
		t.Fatalf("sends = %+v, want rule reply after empty AI answer", sender.calls)
	}
}

func TestAIErrorFallsThroughToRules(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{
		ID:               "a1",
		Mode:             agent.ModeAI,
		FallbackResponse: "Sorry, try again",
	})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{err: errors.New("quota exceeded")})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hello"))

	if len(sender.calls) != 1 || sender.calls[0].Text != "Sorry, try again" {
		t.Fatalf("sends = %+v, want fallback after AI error", sender.calls)
	}
}

func TestAISuccessSkipsRules(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{
		ID:   "a1",
		Mode: agent.ModeAI,
		Rules: []agent.Rule{
			{ID: "r1", Keywords: "hello", Responses: []string{"rule reply"}},
		},
	})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{response: "ai reply"})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hello"))

	if len(sender.calls) != 1 || sender.calls[0].Text != "ai reply" {
		t.Fatalf("sends = %+v, want ai reply", sender.calls)
	}
}

func TestGroupMessagesDroppedBeforePersistence(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	msg := inbound("group@g.us", "hi all")
	msg.IsGroup = true
	p.Process(context.Background(), msg)

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("message count = %d, want 0 (group traffic dropped before persistence)", n)
	}
	if len(sender.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(sender.calls))
	}
}

func TestEmptyTextDropped(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", ""))

	n, _ := db.MessageCount()
	if n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
}

func TestOwnMessagesPersistedButNotAnswered(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{ID: "a1", FallbackResponse: "fallback"})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	msg := inbound("c1@s.whatsapp.net", "note to self")
	msg.FromMe = true
	p.Process(context.Background(), msg)

	n, _ := db.MessageCount()
	if n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
	if len(sender.calls) != 0 {
		t.Errorf("sends = %d, want 0 (no auto-response to own messages)", len(sender.calls))
	}
	// Own messages reset nothing but must not count as unread.
	c, err := db.GetConversation("c1@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0 for own message", c.UnreadCount)
	}
}

func TestInboundIncrementsUnread(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{ID: "a1", FallbackResponse: "ok"})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "one"))
	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "two"))

	c, err := db.GetConversation("c1@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", c.UnreadCount)
	}
	if c.LastMessageText != "two" {
		t.Errorf("LastMessageText = %q, want newest", c.LastMessageText)
	}

	stats, _ := db.GetStats()
	if stats.Received != 2 {
		t.Errorf("received counter = %d, want 2", stats.Received)
	}
}

func TestStickyAssignmentPersisted(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{ID: "a1", FallbackResponse: "ok"})
	seedAgent(t, db, &agent.Agent{ID: "a2", FallbackResponse: "ok"})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hi"))

	c, err := db.GetConversation("c1@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.AssignedAgentID != "a1" {
		t.Errorf("AssignedAgentID = %q, want a1 (first agent)", c.AssignedAgentID)
	}

	// Later messages keep the binding even though another agent exists.
	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "again"))
	c, _ = db.GetConversation("c1@s.whatsapp.net")
	if c.AssignedAgentID != "a1" {
		t.Errorf("AssignedAgentID = %q, want sticky a1", c.AssignedAgentID)
	}
}

func TestNoResponderLogsWarningAndStops(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hi"))

	if len(sender.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(sender.calls))
	}
	logs, err := db.RecentLogs(10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range logs {
		if e.Action == "no_responder" && e.Type == "warning" {
			found = true
		}
	}
	if !found {
		t.Error("no_responder warning not logged")
	}
}

func TestSendFailureCountsErrorNoRetry(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{ID: "a1", Name: "Sales", FallbackResponse: "ok"})
	sender := &fakeSender{err: errors.New("socket closed")}
	p := testPipeline(t, db, sender, &fakeAI{})

	p.Process(context.Background(), inbound("c1@s.whatsapp.net", "hi"))

	if len(sender.calls) != 1 {
		t.Errorf("sends = %d, want exactly 1 (no retry)", len(sender.calls))
	}
	stats, _ := db.GetStats()
	if stats.Errors != 1 {
		t.Errorf("errors counter = %d, want 1", stats.Errors)
	}
}

func TestNormalizeSenderName(t *testing.T) {
	tests := []struct {
		pushName string
		chatID   string
		want     string
	}{
		{"Alice", "5511999@s.whatsapp.net", "Alice"},
		{"", "5511999@s.whatsapp.net", "5511999"},
		{".", "5511999@s.whatsapp.net", "5511999"},
		{"  ", "5511999@s.whatsapp.net", "5511999"},
		{"", "noatsign", "noatsign"},
	}
	for _, tt := range tests {
		if got := normalizeSenderName(tt.pushName, tt.chatID); got != tt.want {
			t.Errorf("normalizeSenderName(%q, %q) = %q, want %q", tt.pushName, tt.chatID, got, tt.want)
		}
	}
}

func TestBatchIsolation(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, &agent.Agent{ID: "a1", FallbackResponse: "ok"})
	sender := &fakeSender{}
	p := testPipeline(t, db, sender, &fakeAI{})

	// A group message in the middle of a batch must not stop the rest.
	groupMsg := inbound("g@g.us", "group noise")
	groupMsg.IsGroup = true
	p.ProcessBatch(context.Background(), []*wa.InboundMessage{
		inbound("c1@s.whatsapp.net", "one"),
		groupMsg,
		inbound("c2@s.whatsapp.net", "two"),
	})

	n, _ := db.MessageCount()
	if n != 2 {
		t.Errorf("message count = %d, want 2", n)
	}
	if len(sender.calls) != 2 {
		t.Errorf("sends = %d, want 2", len(sender.calls))
	}
}
