package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"miniroute/pkg/bus"
	"miniroute/pkg/router"

	"github.com/google/uuid"
)

const (
	cliChannelName = "cli"
	cliChatID      = "local"
	cliSessionKey  = "local"
	cliSenderID    = "local"
)

// LocalSession routes messages typed at the terminal.
//
// It owns one in-process message bus and one worker goroutine that feeds
// inbound messages to a Dispatcher, so the CLI shares the transport path
// the gateway uses.
type LocalSession struct {
	dispatcher   *Dispatcher
	messageBus   *bus.MessageBus
	log          *slog.Logger
	cancelWorker context.CancelFunc
	workerDone   chan struct{}

	// sendMu keeps request/reply pairs from interleaving on the bus.
	sendMu sync.Mutex
}

func StartLocalSession(ctx context.Context, rt *router.Router, log *slog.Logger, observeEvents bool, opts ...DispatcherOption) (*LocalSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	messageBus := bus.NewMessageBus()
	dispatcher, err := NewDispatcher(rt, append([]DispatcherOption{WithLogger(log), WithEvents(messageBus)}, opts...)...)
	if err != nil {
		messageBus.Close()
		return nil, err
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	session := &LocalSession{
		dispatcher:   dispatcher,
		messageBus:   messageBus,
		log:          log,
		cancelWorker: cancelWorker,
		workerDone:   make(chan struct{}),
	}

	go func() {
		defer close(session.workerDone)
		runBusWorker(workerCtx, dispatcher, messageBus)
	}()
	if observeEvents {
		go ObserveEvents(workerCtx, messageBus, log)
	}

	return session, nil
}

// Send routes text as a message from the local user and waits for the reply.
// Replies left over from earlier sends that gave up waiting are discarded.
func (s *LocalSession) Send(ctx context.Context, text string) (bus.OutboundMessage, error) {
	if s == nil {
		return bus.OutboundMessage{}, errors.New("local session is nil")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	inbound := bus.InboundMessage{
		Channel:    cliChannelName,
		SenderID:   cliSenderID,
		ChatID:     cliChatID,
		SessionKey: cliSessionKey,
		RequestID:  uuid.NewString(),
		Content:    text,
	}
	if ok := s.messageBus.PublishInbound(ctx, inbound); !ok {
		if err := ctx.Err(); err != nil {
			return bus.OutboundMessage{}, err
		}
		return bus.OutboundMessage{}, errors.New("unable to enqueue message")
	}

	var outbound bus.OutboundMessage
	for {
		var ok bool
		outbound, ok = s.messageBus.ConsumeOutbound(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return bus.OutboundMessage{}, err
			}
			return bus.OutboundMessage{}, errors.New("unable to receive route result")
		}
		if outbound.RequestID == inbound.RequestID {
			break
		}
		s.log.Debug("Dropping stale route result", "request_id", outbound.RequestID)
	}
	if outbound.Error != "" {
		return outbound, errors.New(outbound.Error)
	}

	return outbound, nil
}

// Events subscribes to the session's route events.
func (s *LocalSession) Events(ctx context.Context) (<-chan bus.Event, func()) {
	return s.messageBus.SubscribeEvents(ctx, 0)
}

// Close stops the worker and closes the bus.
func (s *LocalSession) Close() {
	if s == nil {
		return
	}

	s.cancelWorker()
	s.messageBus.Close()
	<-s.workerDone
}

func runBusWorker(ctx context.Context, dispatcher *Dispatcher, messageBus *bus.MessageBus) {
	for {
		inbound, ok := messageBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		// Dispatch errors travel on the outbound message.
		outbound, _ := dispatcher.Handle(ctx, inbound)
		if ok := messageBus.PublishOutbound(ctx, outbound); !ok {
			return
		}
	}
}
