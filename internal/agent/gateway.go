package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// gatewayTimeout bounds every agent round trip. The agent may run a model
// call behind /webhook, so this is deliberately generous.
const gatewayTimeout = 15 * time.Second

// Gateway is the HTTP client for a helper gateway on loopback. Pairing
// trades a scraped code for a bearer token; all later calls carry it.
type Gateway struct {
	base   string
	http   *http.Client
	bearer string
}

func NewGateway(port int) *Gateway {
	return &Gateway{
		base: fmt.Sprintf("http://localhost:%d", port),
		http: &http.Client{Timeout: gatewayTimeout},
	}
}

// WithBearer returns a gateway that skips pairing, for reattaching to an
// already-paired helper.
func (g *Gateway) WithBearer(token string) *Gateway {
	return &Gateway{base: g.base, http: g.http, bearer: token}
}

func (g *Gateway) Paired() bool {
	return g.bearer != ""
}

func (g *Gateway) Bearer() string {
	return g.bearer
}

// Pair exchanges the pairing code for a bearer token and stores it.
func (g *Gateway) Pair(ctx context.Context, code string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/pair", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Pairing-Code", code)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("pair with agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pair with agent: http %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("pair with agent: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("pair with agent: empty token")
	}
	g.bearer = out.Token
	return nil
}

// Health reports whether the helper answers on loopback. A transport
// failure means not running, not an error.
func (g *Gateway) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+"/health", nil)
	if err != nil {
		return false, err
	}
	if g.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+g.bearer)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Send posts one command payload to the helper and returns its plain-text
// reply.
func (g *Gateway) Send(ctx context.Context, payload Payload) (string, error) {
	if g.bearer == "" {
		return "", fmt.Errorf("agent not paired")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/webhook", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send to agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send to agent: http %d", resp.StatusCode)
	}
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}
