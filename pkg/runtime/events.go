package runtime

import (
	"context"
	"log/slog"

	"miniroute/pkg/bus"
)

// ObserveEvents logs route events from mb until ctx is done or the bus
// closes.
func ObserveEvents(ctx context.Context, mb *bus.MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	// Slow consumers drop events in the bus layer rather than blocking dispatch.
	events, unsubscribe := mb.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"chat_id", event.ChatID,
		"session_key", event.SessionKey,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventRouteFailed:
		log.Error("Route event", append(attrs, "error", event.Error)...)
	case bus.EventRouteReceived, bus.EventRouteMatched, bus.EventRouteHalted, bus.EventRouteMissed:
		log.Info("Route event", attrs...)
	default:
		log.Debug("Route event", attrs...)
	}
}
