package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
)

type recordingChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (r *recordingChannel) Start(context.Context) error { r.setRunning(true); return nil }
func (r *recordingChannel) Stop(context.Context) error  { r.setRunning(false); return nil }
func (r *recordingChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	open := NewBaseChannel("test", nil, nil)
	if !open.IsAllowed("anyone") {
		t.Fatalf("expected empty allowlist to admit everyone")
	}

	c := NewBaseChannel("test", nil, []string{"@alice", "12345"})
	cases := map[string]bool{
		"alice":       true,
		"12345":       true,
		"12345|bob":   true,
		"999|alice":   true,
		"999|mallory": false,
		"mallory":     false,
		"":            false,
	}
	for sender, want := range cases {
		if got := c.IsAllowed(sender); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", sender, got, want)
		}
	}
}

func TestBaseChannel_HandleMessagePublishes(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("discord", mb, []string{"42"})

	if c.HandleMessage("7", "general", "Hello", nil) {
		t.Fatalf("expected disallowed sender to be dropped")
	}
	if c.HandleMessage("42", "general", "   ", nil) {
		t.Fatalf("expected blank content to be dropped")
	}
	if !c.HandleMessage("42", "general", "Hello", map[string]string{"message_id": "m1"}) {
		t.Fatalf("expected allowed message to publish")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatalf("expected inbound message")
	}
	if msg.Channel != "discord" || msg.SenderID != "42" || msg.ChatID != "general" || msg.Metadata["message_id"] != "m1" {
		t.Fatalf("unexpected inbound message %+v", msg)
	}
}

func TestBaseChannel_CompoundSenderKeepsIDOnly(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("discord", mb, []string{"@greg"})

	if !c.HandleMessage("42|greg", "general", "Hello", nil) {
		t.Fatalf("expected username allowlist entry to admit compound sender")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok || msg.SenderID != "42" {
		t.Fatalf("expected sender id 42, got %+v ok=%v", msg, ok)
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		in        string
		text      string
		mentioned bool
	}{
		{"<@99> tell me about family", "tell me about family", true},
		{"hey <@!99>,  how are you?", "hey , how are you?", true},
		{"<@12> not me", "<@12> not me", false},
		{"  plain\ttext  ", "plain text", false},
	}
	for _, tc := range cases {
		text, mentioned := stripMention(tc.in, "99")
		if text != tc.text || mentioned != tc.mentioned {
			t.Errorf("stripMention(%q) = %q, %v; want %q, %v", tc.in, text, mentioned, tc.text, tc.mentioned)
		}
	}
}

func TestDiscordAdmit(t *testing.T) {
	c := &DiscordChannel{BaseChannel: NewBaseChannel("discord", nil, nil), requireMention: true}

	if _, ok := c.admit("guild", "Hello everyone", "99"); ok {
		t.Fatalf("expected unmentioned guild message to be ignored")
	}
	if text, ok := c.admit("guild", "<@99> Hello", "99"); !ok || text != "Hello" {
		t.Fatalf("expected mentioned guild message, got %q ok=%v", text, ok)
	}
	if text, ok := c.admit("", "Hello", "99"); !ok || text != "Hello" {
		t.Fatalf("expected direct message to pass, got %q ok=%v", text, ok)
	}
	if _, ok := c.admit("", "<@99>", "99"); ok {
		t.Fatalf("expected bare mention to be ignored")
	}

	c.requireMention = false
	if _, ok := c.admit("guild", "Hello everyone", "99"); !ok {
		t.Fatalf("expected guild message to pass without mention requirement")
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("  ", 10); len(got) != 0 {
		t.Fatalf("expected no chunks for blank content, got %v", got)
	}
	if got := splitMessage("short reply", 100); len(got) != 1 || got[0] != "short reply" {
		t.Fatalf("unexpected single chunk %v", got)
	}

	long := strings.Repeat("word ", 50)
	chunks := splitMessage(long, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Fatalf("chunk not trimmed: %q", c)
		}
	}
	if strings.Join(chunks, " ") != strings.TrimSpace(long) {
		t.Fatalf("chunks lost content")
	}
}

func TestManager_DispatchesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	m, err := NewManager(config.DefaultConfig(), mb)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	rc := &recordingChannel{BaseChannel: NewBaseChannel("fake", mb, nil)}
	m.RegisterChannel("fake", rc)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	mb.PublishOutbound(bus.OutboundMessage{Channel: "fake", ChatID: "c", Content: "Hello there."})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "missing", ChatID: "c", Content: "lost"})

	deadline := time.Now().Add(2 * time.Second)
	for rc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rc.count() != 1 {
		t.Fatalf("expected one delivered message, got %d", rc.count())
	}

	if names := m.GetEnabledChannels(); len(names) != 1 || names[0] != "fake" {
		t.Fatalf("unexpected enabled channels %v", names)
	}

	status := m.GetStatus()
	if st, ok := status["fake"].(map[string]any); !ok || st["running"] != true {
		t.Fatalf("unexpected status %v", status)
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if rc.IsRunning() {
		t.Fatalf("expected channel stopped")
	}
}

func TestNewManager_DiscordRequiresToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discord.Enabled = true
	if _, err := NewManager(cfg, bus.NewMessageBus()); err == nil {
		t.Fatalf("expected error for discord without token")
	}
}
