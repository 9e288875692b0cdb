package cmd

import (
	"context"
	"testing"

	channelpkg "miniroute/pkg/channel"
	"miniroute/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersBuildsConfiguredChannels(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Channels: config.ChannelsConfig{
		Telegram:  config.TelegramConfig{Enabled: true, Token: "123:abc"},
		WebSocket: config.WebSocketConfig{Enabled: true, Port: 8090},
	}}

	adapters, err := enabledAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "telegram,websocket" {
		t.Fatalf("enabled channels = %q", got)
	}

	cfg.Channels.Telegram.Token = ""
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	if got := enabledChannelNames(adapters); got != "telegram,slack" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,slack")
	}
}
