// Package runtime connects the message bus and channel adapters to a
// compiled router.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/router"
	"miniroute/pkg/routes"

	"github.com/google/uuid"
)

// Message fields set from an inbound message. Metadata keys are copied as
// extra fields unless they collide with one of these.
const (
	FieldBody       = "body"
	FieldFrom       = "from"
	FieldTo         = "to"
	FieldChannel    = "channel"
	FieldSessionKey = "session_key"
	FieldRequestID  = "request_id"
	FieldMedia      = "media"
)

// Outbound metadata keys.
const (
	MetaRouteStatus = "route_status"
	MetaRouteError  = "route_error_phase"
)

// Recorder receives dispatch measurements.
type Recorder interface {
	RecordDispatch(channel string, status string, duration time.Duration)
	RecordError(channel string, phase string)
	Begin() func()
}

// Dispatcher routes inbound messages through a router and turns outcomes
// into outbound replies. It is safe for concurrent use.
type Dispatcher struct {
	router   *router.Router
	events   *bus.MessageBus
	recorder Recorder
	log      *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithEvents publishes route lifecycle events on mb.
func WithEvents(mb *bus.MessageBus) DispatcherOption {
	return func(d *Dispatcher) {
		d.events = mb
	}
}

func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func NewDispatcher(rt *router.Router, opts ...DispatcherOption) (*Dispatcher, error) {
	if rt == nil {
		return nil, errors.New("router is required")
	}

	d := &Dispatcher{router: rt, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "runtime.dispatcher")

	return d, nil
}

// Handle dispatches one inbound message. It has the channel.Handler shape.
// A dispatch error is returned together with an outbound message carrying
// the error text.
func (d *Dispatcher) Handle(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	if inbound.RequestID == "" {
		inbound.RequestID = uuid.NewString()
	}
	if d.recorder != nil {
		defer d.recorder.Begin()()
	}

	d.publish(ctx, inbound, bus.EventRouteReceived, 0, map[string]string{
		"content_length": strconv.Itoa(len(inbound.Content)),
	}, "")

	startedAt := time.Now()
	outcome, err := d.router.Dispatch(ctx, MessageFromInbound(inbound))
	elapsed := time.Since(startedAt)

	if err != nil {
		phase := errorPhase(err)
		if d.recorder != nil {
			d.recorder.RecordDispatch(inbound.Channel, "failed", elapsed)
			d.recorder.RecordError(inbound.Channel, phase)
		}
		d.publish(ctx, inbound, bus.EventRouteFailed, elapsed, map[string]string{"phase": phase}, err.Error())

		outbound := replyTo(inbound)
		outbound.Status = "failed"
		outbound.Error = err.Error()
		outbound.Metadata = map[string]string{MetaRouteStatus: "failed", MetaRouteError: phase}
		return outbound, fmt.Errorf("dispatch %s: %w", inbound.RequestID, err)
	}

	status := outcome.Status.String()
	if d.recorder != nil {
		d.recorder.RecordDispatch(inbound.Channel, status, elapsed)
	}

	outbound := replyTo(inbound)
	outbound.Status = status
	outbound.Content = ReplyText(outcome)
	outbound.Metadata = map[string]string{MetaRouteStatus: status}

	d.publish(ctx, inbound, eventFor(outcome.Status), elapsed, map[string]string{
		"reply_length": strconv.Itoa(len(outbound.Content)),
	}, "")
	d.log.Debug("Message routed", "request_id", inbound.RequestID, "status", status, "reply", outbound.Content)

	return outbound, nil
}

func (d *Dispatcher) publish(ctx context.Context, inbound bus.InboundMessage, eventType bus.EventType, elapsed time.Duration, payload map[string]string, errText string) {
	if d.events == nil {
		return
	}

	_ = d.events.PublishEvent(ctx, bus.Event{
		Type:       eventType,
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		RequestID:  inbound.RequestID,
		Duration:   elapsed,
		Payload:    payload,
		Error:      errText,
	})
}

// MessageFromInbound builds the router message for inbound.
func MessageFromInbound(inbound bus.InboundMessage) router.Message {
	msg := router.Message{
		FieldBody:       inbound.Content,
		FieldFrom:       inbound.SenderID,
		FieldTo:         inbound.ChatID,
		FieldChannel:    inbound.Channel,
		FieldSessionKey: inbound.SessionKey,
		FieldRequestID:  inbound.RequestID,
	}
	if len(inbound.Media) > 0 {
		msg[FieldMedia] = append([]string(nil), inbound.Media...)
	}

	for key, value := range inbound.Metadata {
		if _, taken := msg[key]; taken || key == routes.ReplyField {
			continue
		}
		msg[key] = value
	}

	return msg
}

// ReplyText returns the reply a dispatch produced: the reply field when a
// route set one, otherwise a string outcome value.
func ReplyText(outcome router.Outcome) string {
	if reply, ok := outcome.Message[routes.ReplyField].(string); ok && outcome.Status != router.NoMatch {
		return reply
	}
	if text, ok := outcome.Value.(string); ok {
		return text
	}
	return ""
}

func replyTo(inbound bus.InboundMessage) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		RequestID:  inbound.RequestID,
	}
}

func eventFor(status router.Status) bus.EventType {
	switch status {
	case router.Matched:
		return bus.EventRouteMatched
	case router.Halted:
		return bus.EventRouteHalted
	default:
		return bus.EventRouteMissed
	}
}

func errorPhase(err error) string {
	var evalErr *router.EvaluationError
	if errors.As(err, &evalErr) {
		return string(evalErr.Phase)
	}
	return "internal"
}
