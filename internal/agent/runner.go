package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	pairingDeadline = 5 * time.Second
	spawnSettle     = 500 * time.Millisecond
)

// pairingPattern matches the six-digit code the helper prints on startup.
var pairingPattern = regexp.MustCompile(`(?i)pairing\s+code[:\s]+(\d{6})`)

// Status is the derived helper state. It is never stored, only computed
// from the process handle and the pairing state.
type Status int

const (
	StatusUnavailable Status = iota
	StatusPairing
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusPairing:
		return "pairing"
	case StatusActive:
		return "active"
	default:
		return "unavailable"
	}
}

// Runner supervises the helper subprocess and its gateway client.
type Runner struct {
	mu      sync.Mutex
	bin     string
	gateway *Gateway
	cmd     *exec.Cmd
	exited  bool
	logger  zerolog.Logger
}

func NewRunner(bin string, logger zerolog.Logger) *Runner {
	r := &Runner{bin: bin, logger: logger}
	// Best effort only. Shutdown is the real teardown path.
	runtime.SetFinalizer(r, func(r *Runner) { r.kill() })
	return r
}

// Gateway returns the paired gateway client, nil before a successful start.
func (r *Runner) Gateway() *Gateway {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gateway
}

// CheckBinary probes whether the helper binary is installed and runnable.
func (r *Runner) CheckBinary(ctx context.Context) error {
	if err := exec.CommandContext(ctx, r.bin, "--version").Run(); err != nil {
		return fmt.Errorf("agent binary %q not available: %w", r.bin, err)
	}
	return nil
}

func (r *Runner) spawn(port int) (*exec.Cmd, io.ReadCloser, error) {
	cmd := exec.Command(r.bin, "gateway", "--port", strconv.Itoa(port))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start agent: %w", err)
	}
	go func() {
		cmd.Wait()
		r.mu.Lock()
		if r.cmd == cmd {
			r.exited = true
		}
		r.mu.Unlock()
	}()
	return cmd, stdout, nil
}

// StartAndPair launches the helper, scrapes the pairing code from its
// stdout, and completes the pairing exchange. When the code never shows up
// within the deadline the start fails closed; the child is left running so
// its output stays inspectable, and Shutdown still reaps it.
func (r *Runner) StartAndPair(ctx context.Context, port int) error {
	cmd, stdout, err := r.spawn(port)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cmd = cmd
	r.exited = false
	r.gateway = nil
	r.mu.Unlock()

	code, err := scanPairingCode(stdout, pairingDeadline)
	if err != nil {
		return err
	}
	// Keep the pipe moving so the child never blocks on a full buffer.
	go io.Copy(io.Discard, stdout)

	gw := NewGateway(port)
	if err := gw.Pair(ctx, code); err != nil {
		return err
	}
	r.mu.Lock()
	r.gateway = gw
	r.mu.Unlock()
	r.logger.Info().Int("port", port).Msg("agent started and paired")
	return nil
}

// StartWithBearer relaunches the helper for a saved bearer token, skipping
// the pairing exchange. A failed health probe kills the fresh child before
// reporting the error.
func (r *Runner) StartWithBearer(ctx context.Context, port int, bearer string) error {
	cmd, stdout, err := r.spawn(port)
	if err != nil {
		return err
	}
	go io.Copy(io.Discard, stdout)
	r.mu.Lock()
	r.cmd = cmd
	r.exited = false
	r.gateway = nil
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		r.kill()
		return ctx.Err()
	case <-time.After(spawnSettle):
	}

	gw := NewGateway(port).WithBearer(bearer)
	healthy, err := gw.Health(ctx)
	if err != nil {
		r.kill()
		return err
	}
	if !healthy {
		r.kill()
		return fmt.Errorf("agent did not come up healthy on port %d", port)
	}
	r.mu.Lock()
	r.gateway = gw
	r.mu.Unlock()
	r.logger.Info().Int("port", port).Msg("agent reattached with saved token")
	return nil
}

// Status derives the helper state from the process and pairing handles.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.exited {
		return StatusUnavailable
	}
	if r.gateway != nil && r.gateway.Paired() {
		return StatusActive
	}
	return StatusPairing
}

func (r *Runner) kill() {
	r.mu.Lock()
	cmd := r.cmd
	r.cmd = nil
	r.gateway = nil
	r.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// Shutdown stops the helper subprocess if one is running.
func (r *Runner) Shutdown() {
	r.kill()
	r.logger.Debug().Msg("agent stopped")
}

// scanPairingCode reads lines until the pairing code appears or the
// deadline passes. The reader goroutine exits on its own when the pipe
// closes.
func scanPairingCode(stdout io.Reader, deadline time.Duration) (string, error) {
	found := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if m := pairingPattern.FindStringSubmatch(scanner.Text()); m != nil {
				found <- m[1]
				return
			}
		}
	}()

	select {
	case code := <-found:
		return code, nil
	case <-time.After(deadline):
		return "", fmt.Errorf("no pairing code within %s", deadline)
	}
}
