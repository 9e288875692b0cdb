package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/channel"
)

// sessionManager serializes dispatches per session key so replies within one
// chat keep their order. Different sessions dispatch concurrently.
type sessionManager struct {
	next channel.Handler
	log  *slog.Logger

	mu    sync.Mutex
	lanes map[string]*sessionLane
}

// sessionLane is the dispatch slot for one session key.
type sessionLane struct {
	slot     chan struct{}
	lastUsed time.Time
}

func newSessionManager(next channel.Handler, log *slog.Logger) *sessionManager {
	if log == nil {
		log = slog.Default()
	}

	return &sessionManager{
		next:  next,
		log:   log.With("component", "gateway.sessions"),
		lanes: make(map[string]*sessionLane),
	}
}

// Handle waits for the session's slot and dispatches inbound. It gives up
// when ctx is done before the slot frees up.
func (m *sessionManager) Handle(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	lane := m.laneForSession(inbound.SessionKey)

	select {
	case lane.slot <- struct{}{}:
	case <-ctx.Done():
		return bus.OutboundMessage{
			Channel:    inbound.Channel,
			ChatID:     inbound.ChatID,
			SessionKey: inbound.SessionKey,
			RequestID:  inbound.RequestID,
			Status:     "failed",
			Error:      ctx.Err().Error(),
		}, ctx.Err()
	}
	defer func() { <-lane.slot }()

	return m.next(ctx, inbound)
}

// laneForSession returns an existing lane or lazily creates a new one.
func (m *sessionManager) laneForSession(sessionKey string) *sessionLane {
	m.mu.Lock()
	defer m.mu.Unlock()

	lane, ok := m.lanes[sessionKey]
	if !ok {
		lane = &sessionLane{slot: make(chan struct{}, 1)}
		m.lanes[sessionKey] = lane
		m.log.Debug("Session opened", "session_key", sessionKey)
	}
	lane.lastUsed = time.Now()

	return lane
}

// Prune drops idle lanes not used since before cutoff and returns how many
// were dropped.
func (m *sessionManager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for sessionKey, lane := range m.lanes {
		if len(lane.slot) > 0 || !lane.lastUsed.Before(cutoff) {
			continue
		}
		delete(m.lanes, sessionKey)
		dropped++
	}

	return dropped
}

func (m *sessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}

// Close drops every tracked session.
func (m *sessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionKey := range m.lanes {
		delete(m.lanes, sessionKey)
	}
}
