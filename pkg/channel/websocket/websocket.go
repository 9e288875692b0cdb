// Package websocket serves a chat endpoint where each frame a client sends
// is routed and answered on the same connection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"miniroute/pkg/bus"
	"miniroute/pkg/channel"
	"miniroute/pkg/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	channelName     = "websocket"
	defaultHost     = "127.0.0.1"
	defaultPath     = "/ws"
	maxFrameBytes   = 64 << 10
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ClientFrame is a message sent by a client. Plain text frames are treated
// as Text.
type ClientFrame struct {
	Text     string            `json:"text"`
	From     string            `json:"from,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ServerFrame is the reply to one client frame.
type ServerFrame struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Adapter accepts websocket connections and routes their frames.
type Adapter struct {
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewAdapter(cfg config.WebSocketConfig, log *slog.Logger) (*Adapter, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("channels.websocket.port %d is out of range", cfg.Port)
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultHost
	}
	if path := strings.TrimSpace(cfg.Path); path == "" {
		cfg.Path = defaultPath
	} else if !strings.HasPrefix(path, "/") {
		cfg.Path = "/" + path
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		cfg: cfg,
		log: log.With("component", "channel.websocket"),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return a, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Addr returns the configured listen address.
func (a *Adapter) Addr() string {
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
}

// Run serves the endpoint until ctx is done.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a.HTTPHandler(ctx, handler))

	server := &http.Server{
		Addr:              a.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Websocket channel started", "addr", server.Addr, "path", a.cfg.Path)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown websocket server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket server failed: %w", err)
	}
}

// HTTPHandler upgrades requests and serves one session per connection.
// Connections close when ctx is done.
func (a *Adapter) HTTPHandler(ctx context.Context, handler channel.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			a.log.Debug("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-connCtx.Done()
			_ = conn.Close()
		}()

		a.serve(connCtx, conn, r.RemoteAddr, handler)
	})
}

func (a *Adapter) serve(ctx context.Context, conn *websocket.Conn, remoteAddr string, handler channel.Handler) {
	session := uuid.NewString()
	log := a.log.With("session_key", sessionKey(session))
	log.Info("Websocket client connected", "remote_addr", remoteAddr)
	defer log.Info("Websocket client disconnected")

	conn.SetReadLimit(maxFrameBytes)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Warn("Websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame := decodeFrame(data)
		if strings.TrimSpace(frame.Text) == "" {
			continue
		}

		inbound := inboundFromFrame(frame, session, remoteAddr)
		outbound, err := handler(ctx, inbound)
		if err != nil {
			log.Error("Failed to route inbound message", "request_id", outbound.RequestID, "error", err)
		}

		reply := ServerFrame{
			RequestID: outbound.RequestID,
			Status:    outbound.Status,
			Reply:     outbound.Content,
			Error:     outbound.Error,
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn("Websocket write failed", "error", err)
			return
		}
	}
}

// decodeFrame accepts a JSON ClientFrame or plain text.
func decodeFrame(data []byte) ClientFrame {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Text != "" {
		return frame
	}

	return ClientFrame{Text: string(data)}
}

func inboundFromFrame(frame ClientFrame, session string, remoteAddr string) bus.InboundMessage {
	senderID := strings.TrimSpace(frame.From)
	if senderID == "" {
		senderID = session
	}

	metadata := make(map[string]string, len(frame.Metadata)+1)
	for key, value := range frame.Metadata {
		metadata[key] = value
	}
	metadata["remote_addr"] = remoteAddr

	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     session,
		SessionKey: sessionKey(session),
		Content:    strings.TrimSpace(frame.Text),
		Metadata:   metadata,
	}
}

func sessionKey(session string) string {
	return "websocket:" + session
}

// originChecker allows the listed origins. "*" allows any origin and an
// empty list falls back to a same-host check.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(set) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}

		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
