package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	socketMaxBackoff    = 30 * time.Second
	socketDialTimeout   = 10 * time.Second
	socketWriteDeadline = 10 * time.Second
)

// Swapped by tests to compress stream timing.
var (
	socketReadIdle    = 60 * time.Second
	socketPingPeriod  = 25 * time.Second
	socketBaseBackoff = 1 * time.Second
)

// StreamEventKind classifies a translated socket-mode event.
type StreamEventKind int

const (
	EventMessage StreamEventKind = iota
	EventTyping
	EventChannelJoined
	EventChannelLeft
	EventConnected
	EventDisconnected
)

// StreamEvent is one UI-ready event from the live stream.
type StreamEvent struct {
	Kind    StreamEventKind
	Channel string
	User    string
	Message Message
}

// errServerDisconnect marks a server-initiated teardown frame. The stream
// reconnects with a fresh URL rather than treating it as fatal.
var errServerDisconnect = errors.New("server requested disconnect")

// SocketClient maintains the live event stream over socket mode. It owns its
// connection lifecycle entirely: callers start Run once and read translated
// events from Events until the context ends.
type SocketClient struct {
	api       *Client
	appToken  string
	userToken string
	events    chan StreamEvent
	logger    zerolog.Logger
}

func NewSocketClient(api *Client, appToken, userToken string, logger zerolog.Logger) *SocketClient {
	return &SocketClient{
		api:       api,
		appToken:  appToken,
		userToken: userToken,
		events:    make(chan StreamEvent, 64),
		logger:    logger,
	}
}

// Events is the translated event feed. It closes when Run returns, so an
// armed reader never leaks past the stream's lifetime.
func (s *SocketClient) Events() <-chan StreamEvent {
	return s.events
}

// Run connects and reconnects forever. Backoff starts at one second and
// doubles up to thirty; a session that completed the hello handshake resets
// it back to one second. Cancelling ctx is the only way out.
func (s *SocketClient) Run(ctx context.Context) {
	defer close(s.events)
	backoff := socketBaseBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		handshook, err := s.connectAndListen(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn().Str("error", Redact(err.Error())).Dur("backoff", backoff).Msg("event stream dropped, reconnecting")
		}
		s.emit(ctx, StreamEvent{Kind: EventDisconnected})
		if handshook {
			backoff = socketBaseBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > socketMaxBackoff {
			backoff = socketMaxBackoff
		}
	}
}

// connectAndListen runs one stream session: mint a single-use URL, dial,
// complete the hello handshake, then read frames until the connection dies
// or the server asks to disconnect. It reports whether the handshake
// completed so the caller can reset its backoff.
func (s *SocketClient) connectAndListen(ctx context.Context) (bool, error) {
	wsURL, err := s.api.ConnectionURL(ctx, s.appToken)
	if err != nil {
		return false, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: socketDialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial event stream: %w", err)
	}

	// Unblock the read loop when ctx ends; the deferred close handles
	// normal teardown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	// Periodic pings keep a quiet stream alive. Each pong pushes the
	// read deadline out; a failed read ends the session.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketReadIdle))
	})
	go func() {
		ticker := time.NewTicker(socketPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteDeadline)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(socketReadIdle)); err != nil {
		return false, err
	}
	handshook := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return handshook, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(socketReadIdle)); err != nil {
			return handshook, err
		}
		hello, err := s.handleFrame(ctx, conn, raw)
		if err != nil {
			return handshook, err
		}
		if hello {
			handshook = true
		}
	}
}

type socketFrame struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id"`
	Payload    struct {
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

// handleFrame dispatches one raw frame. Any enveloped frame is acknowledged
// before its payload is processed, whatever its type, so a translation
// failure or an unhandled frame kind never loses the ack. The bool reports
// whether this frame completed the hello handshake.
func (s *SocketClient) handleFrame(ctx context.Context, conn *websocket.Conn, raw []byte) (bool, error) {
	var frame socketFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Debug().Str("error", err.Error()).Msg("unparsable stream frame")
		return false, nil
	}

	if frame.EnvelopeID != "" {
		if err := s.ack(conn, frame.EnvelopeID); err != nil {
			return false, err
		}
	}

	switch frame.Type {
	case "hello":
		s.logger.Info().Msg("event stream connected")
		s.emit(ctx, StreamEvent{Kind: EventConnected})
		return true, nil
	case "disconnect":
		return false, errServerDisconnect
	case "events_api":
		if ev, ok := s.translate(ctx, frame.Payload.Event); ok {
			s.emit(ctx, ev)
		}
		return false, nil
	default:
		return false, nil
	}
}

func (s *SocketClient) ack(conn *websocket.Conn, envelopeID string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(socketWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(map[string]string{"envelope_id": envelopeID})
}

type wireEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	User    string `json:"user"`
	wireMessage
}

// translate turns a raw event payload into a StreamEvent. Message events
// with a subtype (edits, deletes, joins rendered as messages) are skipped;
// unknown event types are dropped silently.
func (s *SocketClient) translate(ctx context.Context, raw json.RawMessage) (StreamEvent, bool) {
	if len(raw) == 0 {
		return StreamEvent{}, false
	}
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, false
	}

	switch ev.Type {
	case "message":
		if ev.Subtype != "" {
			return StreamEvent{}, false
		}
		// The outer "user" field shadows the embedded one during decode.
		ev.wireMessage.User = ev.User
		users := s.api.Users(ctx, s.userToken)
		msg, ok := ev.wireMessage.toMessage(users)
		if !ok {
			return StreamEvent{}, false
		}
		return StreamEvent{Kind: EventMessage, Channel: ev.Channel, User: ev.User, Message: msg}, true
	case "user_typing":
		if ev.Channel == "" || ev.User == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{Kind: EventTyping, Channel: ev.Channel, User: ev.User}, true
	case "member_joined_channel":
		return StreamEvent{Kind: EventChannelJoined, Channel: ev.Channel, User: ev.User}, true
	case "member_left_channel":
		return StreamEvent{Kind: EventChannelLeft, Channel: ev.Channel, User: ev.User}, true
	default:
		return StreamEvent{}, false
	}
}

// emit delivers without blocking past context cancellation.
func (s *SocketClient) emit(ctx context.Context, ev StreamEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
