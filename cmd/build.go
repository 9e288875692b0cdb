package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"miniroute/pkg/config"
	"miniroute/pkg/logger"
	"miniroute/pkg/provider"
	"miniroute/pkg/router"
	"miniroute/pkg/routes"
	"miniroute/pkg/runtime"
)

var errAssistantNotConnected = errors.New("assistant is not connected")

// loadConfig reads the --config file or the discovered config.json. When a
// route table is given on the command line the config file is optional.
func loadConfig(routesOverride string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil && strings.TrimSpace(routesOverride) != "" {
		return &config.Config{}, nil
	}
	return cfg, err
}

func setupLogger(cfg *config.Config, component string) (*slog.Logger, error) {
	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return appLogger.With("component", component), nil
}

// buildRouter compiles the route table with the built-in helpers. When
// connect is set and the assistant is enabled, the provider client backs
// `ask` rules; otherwise they compile against a stub that fails when called.
func buildRouter(cfg *config.Config, routesOverride string, connect bool, log *slog.Logger) (*router.Router, provider.Client, error) {
	path := strings.TrimSpace(routesOverride)
	if path == "" {
		path = cfg.RoutesPath()
	}
	if path == "" {
		return nil, nil, errors.New("no route table configured: set router.routes_file or pass --routes")
	}

	opts := []routes.Option{
		routes.WithCapabilities(runtime.Capabilities()),
		routes.WithDefaultAttribute(cfg.Router.DefaultAttribute),
	}
	if log != nil {
		opts = append(opts, routes.WithLogger(log))
	}
	if cfg.Router.CopyMessage {
		opts = append(opts, routes.WithCopyMessage())
	}

	var client provider.Client
	if cfg.Assistant.Enabled {
		if connect {
			var err error
			client, err = provider.New(cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("initialize provider: %w", err)
			}
			opts = append(opts, routes.WithCapability(routes.AssistantCapability, provider.Capability(client, "")))
		} else {
			opts = append(opts, routes.WithCapability(routes.AssistantCapability, router.Nullary(func(*router.Run) (any, error) {
				return nil, errAssistantNotConnected
			})))
		}
	}

	rt, err := routes.Load(path, opts...)
	if err != nil {
		return nil, nil, err
	}

	return rt, client, nil
}
