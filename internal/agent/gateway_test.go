package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func gatewayFor(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGateway(0)
	g.base = srv.URL
	return g
}

func TestPairStoresToken(t *testing.T) {
	g := gatewayFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pair" || r.Method != http.MethodPost {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		if code := r.Header.Get("X-Pairing-Code"); code != "482913" {
			t.Errorf("X-Pairing-Code = %q", code)
		}
		w.Write([]byte(`{"token":"agent-bearer-1"}`))
	}))

	if err := g.Pair(context.Background(), "482913"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if !g.Paired() || g.Bearer() != "agent-bearer-1" {
		t.Fatalf("gateway did not store the token: %+v", g)
	}
}

func TestPairRejectsBadCode(t *testing.T) {
	g := gatewayFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	if err := g.Pair(context.Background(), "000000"); err == nil {
		t.Fatal("expected an error for a rejected code")
	}
	if g.Paired() {
		t.Fatal("a failed exchange must not mark the gateway paired")
	}
}

func TestHealthDistinguishesDownFromUnhealthy(t *testing.T) {
	up := gatewayFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if ok, err := up.Health(context.Background()); err != nil || !ok {
		t.Fatalf("Health = %v, %v; want true, nil", ok, err)
	}

	down := NewGateway(1) // nothing listens on port 1
	if ok, err := down.Health(context.Background()); err != nil || ok {
		t.Fatalf("Health against a dead port = %v, %v; want false, nil", ok, err)
	}
}

func TestSendRequiresPairing(t *testing.T) {
	g := NewGateway(1)
	if _, err := g.Send(context.Background(), Payload{Command: "resume"}); err == nil {
		t.Fatal("expected an error before pairing")
	}
}

func TestSendPostsPayloadWithBearer(t *testing.T) {
	g := gatewayFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer agent-bearer-1" {
			t.Errorf("Authorization = %q", auth)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if p.Command != "resume" || p.Channel != "C1" || p.RequestID == "" {
			t.Errorf("payload = %+v", p)
		}
		w.Write([]byte("here is the summary"))
	}))
	g = g.WithBearer("agent-bearer-1")

	reply, err := g.Send(context.Background(), Command{Kind: CommandResume}.WebhookPayload("U1", "C1", ""))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "here is the summary" {
		t.Fatalf("reply = %q", reply)
	}
}
