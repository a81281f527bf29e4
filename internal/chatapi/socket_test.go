package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func prewarmedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient("http://localhost:0", zerolog.Nop())
	c.users.users = map[string]User{"U1": {ID: "U1", Name: "ana", DisplayName: "Ana"}}
	c.users.fetchedAt = time.Now()
	return c
}

func TestTranslateMessageEvent(t *testing.T) {
	s := NewSocketClient(prewarmedClient(t), "xapp-tok", "xoxp-tok", zerolog.Nop())

	raw := json.RawMessage(`{"type":"message","channel":"C1","user":"U1","ts":"1700000000.000100","text":"hi"}`)
	ev, ok := s.translate(context.Background(), raw)
	if !ok {
		t.Fatal("translate dropped a plain message")
	}
	if ev.Kind != EventMessage || ev.Channel != "C1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Message.Username != "Ana" || ev.Message.Text != "hi" {
		t.Fatalf("message = %+v", ev.Message)
	}
}

func TestTranslateSkipsSubtypedMessages(t *testing.T) {
	s := NewSocketClient(prewarmedClient(t), "xapp-tok", "xoxp-tok", zerolog.Nop())

	raw := json.RawMessage(`{"type":"message","subtype":"channel_join","channel":"C1","user":"U1","ts":"1700000000.000100"}`)
	if _, ok := s.translate(context.Background(), raw); ok {
		t.Fatal("translate accepted a subtyped message")
	}
}

func TestTranslatePresenceEvents(t *testing.T) {
	s := NewSocketClient(prewarmedClient(t), "xapp-tok", "xoxp-tok", zerolog.Nop())

	cases := []struct {
		raw  string
		kind StreamEventKind
	}{
		{`{"type":"user_typing","channel":"C1","user":"U1"}`, EventTyping},
		{`{"type":"member_joined_channel","channel":"C1","user":"U2"}`, EventChannelJoined},
		{`{"type":"member_left_channel","channel":"C1","user":"U2"}`, EventChannelLeft},
	}
	for _, tc := range cases {
		ev, ok := s.translate(context.Background(), json.RawMessage(tc.raw))
		if !ok || ev.Kind != tc.kind {
			t.Fatalf("translate(%s) = %+v, %v", tc.raw, ev, ok)
		}
	}

	if _, ok := s.translate(context.Background(), json.RawMessage(`{"type":"reaction_added"}`)); ok {
		t.Fatal("translate accepted an unhandled event type")
	}
	if _, ok := s.translate(context.Background(), json.RawMessage(`{"type":"user_typing","channel":"","user":""}`)); ok {
		t.Fatal("translate accepted a typing event with no channel")
	}
}

// TestStreamSessionAcksAndTranslates runs one full session against a local
// socket server: hello handshake, one events_api frame acknowledged by
// envelope id, then a server-initiated disconnect.
func TestStreamSessionAcksAndTranslates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	acks := make(chan string, 1)
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{"type": "hello"})
		conn.WriteJSON(map[string]any{
			"type":        "events_api",
			"envelope_id": "env-1",
			"payload": map[string]any{
				"event": map[string]any{
					"type":    "message",
					"channel": "C1",
					"user":    "U1",
					"ts":      "1700000000.000100",
					"text":    "live",
				},
			},
		})

		var ack struct {
			EnvelopeID string `json:"envelope_id"`
		}
		if err := conn.ReadJSON(&ack); err == nil {
			acks <- ack.EnvelopeID
		}
		conn.WriteJSON(map[string]any{"type": "disconnect"})
		time.Sleep(100 * time.Millisecond)
	}))
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps.connections.open" {
			t.Errorf("unexpected call %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"ok":true,"url":%q}`, wsURL)
	}))
	defer restSrv.Close()

	api := NewClient(restSrv.URL, zerolog.Nop())
	api.users.users = map[string]User{"U1": {ID: "U1", Name: "ana", DisplayName: "Ana"}}
	api.users.fetchedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := NewSocketClient(api, "xapp-tok", "xoxp-tok", zerolog.Nop())
	go s.Run(ctx)

	waitFor := func(want StreamEventKind) StreamEvent {
		for {
			select {
			case ev := <-s.Events():
				if ev.Kind == want {
					return ev
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for event kind %d", want)
			}
		}
	}

	waitFor(EventConnected)
	ev := waitFor(EventMessage)
	if ev.Channel != "C1" || ev.Message.Username != "Ana" || ev.Message.Text != "live" {
		t.Fatalf("event = %+v", ev)
	}

	select {
	case id := <-acks:
		if id != "env-1" {
			t.Fatalf("acked %q, want env-1", id)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the ack")
	}

	waitFor(EventDisconnected)
	cancel()
}

func swapStreamTimings(t *testing.T, idle, ping, backoff time.Duration) {
	t.Helper()
	oldIdle, oldPing, oldBackoff := socketReadIdle, socketPingPeriod, socketBaseBackoff
	socketReadIdle, socketPingPeriod, socketBaseBackoff = idle, ping, backoff
	t.Cleanup(func() {
		socketReadIdle, socketPingPeriod, socketBaseBackoff = oldIdle, oldPing, oldBackoff
	})
}

func streamWaiter(t *testing.T, ctx context.Context, s *SocketClient) func(StreamEventKind) StreamEvent {
	t.Helper()
	return func(want StreamEventKind) StreamEvent {
		for {
			select {
			case ev, ok := <-s.Events():
				if !ok {
					t.Fatalf("event feed closed while waiting for kind %d", want)
				}
				if ev.Kind == want {
					return ev
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for event kind %d", want)
			}
		}
	}
}

// TestStreamSurvivesIdleWindows keeps the connection silent for several idle
// windows and expects the session to ride it out on pings, then still
// deliver the next message.
func TestStreamSurvivesIdleWindows(t *testing.T) {
	swapStreamTimings(t, 150*time.Millisecond, 50*time.Millisecond, 20*time.Millisecond)

	upgrader := websocket.Upgrader{}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Service pings and swallow acks while the writer stays quiet.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		conn.WriteJSON(map[string]any{"type": "hello"})
		time.Sleep(500 * time.Millisecond)
		conn.WriteJSON(map[string]any{
			"type":        "events_api",
			"envelope_id": "env-quiet",
			"payload": map[string]any{
				"event": map[string]any{
					"type":    "message",
					"channel": "C1",
					"user":    "U1",
					"ts":      "1700000000.000200",
					"text":    "after the quiet spell",
				},
			},
		})
		time.Sleep(200 * time.Millisecond)
	}))
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ok":true,"url":%q}`, wsURL)
	}))
	defer restSrv.Close()

	api := NewClient(restSrv.URL, zerolog.Nop())
	api.users.users = map[string]User{"U1": {ID: "U1", Name: "ana", DisplayName: "Ana"}}
	api.users.fetchedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := NewSocketClient(api, "xapp-tok", "xoxp-tok", zerolog.Nop())
	go s.Run(ctx)
	waitFor := streamWaiter(t, ctx, s)

	waitFor(EventConnected)
	ev := waitFor(EventMessage)
	if ev.Message.Text != "after the quiet spell" {
		t.Fatalf("message after idle = %+v", ev.Message)
	}
}

// TestStreamAcksEveryEnvelopedFrame sends an enveloped frame of a kind the
// client does not translate and still expects an ack for it.
func TestStreamAcksEveryEnvelopedFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	acks := make(chan string, 1)
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{"type": "hello"})
		conn.WriteJSON(map[string]any{"type": "slash_commands", "envelope_id": "env-sc"})

		var ack struct {
			EnvelopeID string `json:"envelope_id"`
		}
		if err := conn.ReadJSON(&ack); err == nil {
			acks <- ack.EnvelopeID
		}
		time.Sleep(100 * time.Millisecond)
	}))
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ok":true,"url":%q}`, wsURL)
	}))
	defer restSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := NewSocketClient(NewClient(restSrv.URL, zerolog.Nop()), "xapp-tok", "xoxp-tok", zerolog.Nop())
	go s.Run(ctx)

	select {
	case id := <-acks:
		if id != "env-sc" {
			t.Fatalf("acked %q, want env-sc", id)
		}
	case <-ctx.Done():
		t.Fatal("no ack for the enveloped frame")
	}
}

// TestStreamBackoffResetsAfterSession escalates backoff over two failed
// attempts, completes one handshake, and expects the next reconnect to come
// at the base delay again.
func TestStreamBackoffResetsAfterSession(t *testing.T) {
	swapStreamTimings(t, 150*time.Millisecond, 50*time.Millisecond, 20*time.Millisecond)

	upgrader := websocket.Upgrader{}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "hello"})
		conn.Close()
	}))
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	var mu sync.Mutex
	var mints []time.Time
	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		mints = append(mints, time.Now())
		n := len(mints)
		mu.Unlock()
		if n == 3 {
			fmt.Fprintf(w, `{"ok":true,"url":%q}`, wsURL)
			return
		}
		// A dead endpoint so the dial fails fast.
		fmt.Fprint(w, `{"ok":true,"url":"ws://127.0.0.1:1"}`)
	}))
	defer restSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSocketClient(NewClient(restSrv.URL, zerolog.Nop()), "xapp-tok", "xoxp-tok", zerolog.Nop())
	go s.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(mints)
		mu.Unlock()
		if n >= 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d connection attempts before the deadline", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	mu.Lock()
	escalated := mints[2].Sub(mints[1])
	afterSession := mints[3].Sub(mints[2])
	mu.Unlock()
	if escalated < 40*time.Millisecond {
		t.Fatalf("second retry gap = %v, want the doubled backoff of at least 40ms", escalated)
	}
	if afterSession >= 80*time.Millisecond {
		t.Fatalf("reconnect after a completed session took %v, want the base backoff again", afterSession)
	}
}

// TestStreamEventsCloseWhenRunStops arms a reader on the event feed and
// expects it to unblock once Run exits.
func TestStreamEventsCloseWhenRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSocketClient(NewClient("http://127.0.0.1:0", zerolog.Nop()), "xapp-tok", "xoxp-tok", zerolog.Nop())
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event feed never closed after Run stopped")
		}
	}
}
