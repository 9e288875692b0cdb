// Package channel defines the transports that feed messages into the router.
package channel

import (
	"context"

	"miniroute/pkg/bus"
)

// Handler routes one inbound channel message and returns the outbound reply.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the
// router.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// ReplyText returns the text an adapter should send back for outbound, or
// "" when nothing should be sent.
func ReplyText(outbound bus.OutboundMessage) string {
	if text := outbound.Content; text != "" {
		return text
	}
	return outbound.Error
}
