package telegram

import (
	"strings"
	"testing"

	"miniroute/pkg/config"

	"github.com/mymmrac/telego"
)

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestSessionKey(t *testing.T) {
	if got := sessionKey(" 42 "); got != "telegram:42" {
		t.Fatalf("sessionKey = %q, want %q", got, "telegram:42")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestNewAdapterValidatesConfig(t *testing.T) {
	if _, err := NewAdapter(config.TelegramConfig{}, nil); err == nil {
		t.Fatal("expected missing token error")
	}
	if _, err := NewAdapter(config.TelegramConfig{Token: "t", Proxy: "http://[::1"}, nil); err == nil {
		t.Fatal("expected invalid proxy error")
	}

	adapter, err := NewAdapter(config.TelegramConfig{Token: "t", Proxy: "http://127.0.0.1:8080"}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}
	if got := len(adapter.botOptions()); got != 1 {
		t.Fatalf("botOptions len = %d, want 1", got)
	}
}

func TestInboundFromUpdate(t *testing.T) {
	adapter, err := NewAdapter(config.TelegramConfig{Token: "t", AllowFrom: []string{"7"}}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}

	update := telego.Update{
		UpdateID: 11,
		Message: &telego.Message{
			From:    &telego.User{ID: 7, Username: "ann"},
			Chat:    telego.Chat{ID: -100, Type: "group"},
			Caption: " look ",
			Photo: []telego.PhotoSize{
				{FileID: "small"},
				{FileID: "large"},
			},
		},
	}

	inbound, ok := adapter.inbound(update)
	if !ok {
		t.Fatal("inbound() skipped a captioned photo")
	}
	if inbound.Content != "look" || inbound.SenderID != "7" || inbound.ChatID != "-100" {
		t.Fatalf("inbound = %+v", inbound)
	}
	if inbound.SessionKey != "telegram:-100" {
		t.Fatalf("session key = %q", inbound.SessionKey)
	}
	if len(inbound.Media) != 1 || inbound.Media[0] != "large" {
		t.Fatalf("media = %v", inbound.Media)
	}
	if inbound.Metadata["username"] != "ann" || inbound.Metadata["chat_type"] != "group" || inbound.Metadata["update_id"] != "11" {
		t.Fatalf("metadata = %v", inbound.Metadata)
	}
}

func TestInboundSkipsUnroutableUpdates(t *testing.T) {
	adapter, err := NewAdapter(config.TelegramConfig{Token: "t", AllowFrom: []string{"7"}}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}

	tests := map[string]telego.Update{
		"no message":   {UpdateID: 1},
		"no sender":    {Message: &telego.Message{Text: "hi"}},
		"not allowed":  {Message: &telego.Message{Text: "hi", From: &telego.User{ID: 8}}},
		"empty update": {Message: &telego.Message{Text: "  ", From: &telego.User{ID: 7}}},
	}
	for name, update := range tests {
		if _, ok := adapter.inbound(update); ok {
			t.Fatalf("%s: inbound() ok = true, want false", name)
		}
	}
}
