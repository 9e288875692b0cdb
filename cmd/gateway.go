package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"miniroute/pkg/channel"
	"miniroute/pkg/channel/telegram"
	"miniroute/pkg/channel/websocket"
	"miniroute/pkg/config"
	"miniroute/pkg/gateway"

	"github.com/spf13/cobra"
)

const (
	telegramChannelName  = "telegram"
	websocketChannelName = "websocket"
)

var gatewayRoutesFile string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs miniroute as a channel gateway with health, readiness and metrics endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfig("")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log, err := setupLogger(cfg, "cmd.gateway")
		if err != nil {
			return err
		}

		adapters, err := enabledAdapters(cfg, slog.Default())
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		rt, client, err := buildRouter(cfg, gatewayRoutesFile, true, slog.Default())
		if err != nil {
			log.Error("Failed to compile route table", "error", err)
			return err
		}

		var opts []gateway.ServiceOption
		if client != nil {
			opts = append(opts, gateway.WithHealthCheck(client))
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, rt, adapters, slog.Default(), opts...)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway starting", "channels", enabledChannelNames(adapters), "router", rt.Name(), "assistant", client != nil)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().StringVarP(&gatewayRoutesFile, "routes", "r", "", "route table file (overrides router.routes_file)")
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.WebSocket.Enabled {
		adapter, err := websocket.NewAdapter(cfg.Channels.WebSocket, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", websocketChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
