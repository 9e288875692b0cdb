// Package provider connects route tables to an LLM fallback responder.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"miniroute/pkg/config"
	provideropenai "miniroute/pkg/provider/openai"
)

// ErrDisabled is returned by New when the assistant is not enabled.
var ErrDisabled = errors.New("assistant is disabled")

// Client answers prompts within a conversation identified by sessionKey.
type Client interface {
	Health(ctx context.Context) error
	Reply(ctx context.Context, sessionKey string, prompt string) (string, error)
}

func New(cfg *config.Config) (Client, error) {
	if !cfg.Assistant.Enabled {
		return nil, ErrDisabled
	}

	providerID := strings.TrimSpace(cfg.Assistant.Provider)
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "openai":
		client, err := provideropenai.New(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
