package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/config"

	"github.com/gorilla/websocket"
)

func startServer(t *testing.T, cfg config.WebSocketConfig, handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)) (*httptest.Server, string) {
	t.Helper()

	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(adapter.HTTPHandler(ctx, handler))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAdapterRoutesFrames(t *testing.T) {
	inbound := make(chan bus.InboundMessage, 2)
	_, wsURL := startServer(t, config.WebSocketConfig{}, func(_ context.Context, msg bus.InboundMessage) (bus.OutboundMessage, error) {
		inbound <- msg
		if msg.Content == "fail" {
			return bus.OutboundMessage{RequestID: "r2", Status: "failed", Error: "boom"}, errors.New("boom")
		}
		return bus.OutboundMessage{RequestID: "r1", Status: "matched", Content: "pong"}, nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(ClientFrame{Text: "ping", From: "alice", Metadata: map[string]string{"lang": "en"}}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	var reply ServerFrame
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if reply != (ServerFrame{RequestID: "r1", Status: "matched", Reply: "pong"}) {
		t.Fatalf("reply = %+v", reply)
	}

	first := <-inbound
	if first.Channel != channelName || first.SenderID != "alice" || first.Metadata["lang"] != "en" {
		t.Fatalf("inbound = %+v", first)
	}
	if !strings.HasPrefix(first.SessionKey, "websocket:") || first.ChatID == "" {
		t.Fatalf("session = %q chat = %q", first.SessionKey, first.ChatID)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("fail")); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if reply.Status != "failed" || reply.Error != "boom" {
		t.Fatalf("reply = %+v", reply)
	}

	second := <-inbound
	if second.SessionKey != first.SessionKey || second.SenderID != first.ChatID {
		t.Fatalf("second inbound = %+v, want same session and session sender", second)
	}
}

func TestAdapterRejectsUnknownOrigins(t *testing.T) {
	_, wsURL := startServer(t, config.WebSocketConfig{AllowedOrigins: []string{"https://chat.example.com/"}}, func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error) {
		return bus.OutboundMessage{}, nil
	})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("Dial() with foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() with allowed origin error: %v", err)
	}
	_ = conn.Close()
}

func TestNewAdapterDefaults(t *testing.T) {
	adapter, err := NewAdapter(config.WebSocketConfig{Port: 8090, Path: "chat"}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}
	if adapter.Addr() != "127.0.0.1:8090" || adapter.cfg.Path != "/chat" {
		t.Fatalf("addr = %q path = %q", adapter.Addr(), adapter.cfg.Path)
	}

	if _, err := NewAdapter(config.WebSocketConfig{Port: 70000}, nil); err == nil {
		t.Fatal("expected port range error")
	}
}

func TestDecodeFrame(t *testing.T) {
	if got := decodeFrame([]byte(`{"text":"hi","from":"bob"}`)); got.Text != "hi" || got.From != "bob" {
		t.Fatalf("json frame = %+v", got)
	}
	if got := decodeFrame([]byte(`{"other":1}`)); got.Text != `{"other":1}` {
		t.Fatalf("json without text = %+v", got)
	}
	if got := decodeFrame([]byte("plain words")); got.Text != "plain words" {
		t.Fatalf("plain frame = %+v", got)
	}
}
