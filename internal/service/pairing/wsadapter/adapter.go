// Package wsadapter implements the pairing adapter over a websocket
// connection to the upstream pairing gateway. One adapter owns one
// connection and serves exactly one linking session.
package wsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexlink/pairbroker/internal/service/pairing"
)

// Options configures the gateway connection.
type Options struct {
	GatewayURL       string
	HandshakeTimeout time.Duration
	MaxDialRetries   int
}

// DefaultOptions returns production connection settings for url.
func DefaultOptions(url string) Options {
	return Options{
		GatewayURL:       url,
		HandshakeTimeout: 30 * time.Second,
		MaxDialRetries:   3,
	}
}

// frame is the gateway wire envelope. The gateway multiplexes readiness,
// pairing codes, connection updates and credential material over one
// message type.
type frame struct {
	Type        string          `json:"type"`
	Target      string          `json:"target,omitempty"`
	Code        string          `json:"code,omitempty"`
	State       string          `json:"state,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
	Message     string          `json:"message,omitempty"`
}

const (
	frameRegister    = "register"
	frameReady       = "ready"
	frameRequestCode = "request-code"
	framePairingCode = "pairing-code"
	frameConnection  = "connection"
	frameCredentials = "credentials"
	frameError       = "error"
)

// Adapter is a websocket-backed pairing.Adapter.
type Adapter struct {
	conn    *websocket.Conn
	target  string
	workDir string

	writeMu sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}
	events    chan pairing.Event
	codeCh    chan codeResult

	credMu sync.Mutex
	creds  json.RawMessage

	closeOnce sync.Once
}

type codeResult struct {
	code string
	err  error
}

// Factory returns a pairing.AdapterFactory that dials the gateway for each
// new session.
func Factory(opts Options) pairing.AdapterFactory {
	return func(target, workDir string) (pairing.Adapter, error) {
		return Dial(context.Background(), opts, target, workDir)
	}
}

// Dial connects to the gateway, registers the target account and starts the
// read loop feeding the event stream.
func Dial(ctx context.Context, opts Options, target, workDir string) (*Adapter, error) {
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		conn:    conn,
		target:  target,
		workDir: workDir,
		ready:   make(chan struct{}),
		events:  make(chan pairing.Event, 8),
		codeCh:  make(chan codeResult, 1),
	}

	if err := a.writeFrame(frame{Type: frameRegister, Target: target}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register target: %w", err)
	}

	go a.readLoop()
	return a, nil
}

// dialWithRetry establishes the connection, backing off between attempts.
func dialWithRetry(ctx context.Context, opts Options) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	var lastErr error
	for i := 0; i < opts.MaxDialRetries; i++ {
		conn, _, err := dialer.DialContext(ctx, opts.GatewayURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("dial gateway after %d attempts: %w", opts.MaxDialRetries, lastErr)
}

// readLoop turns gateway frames into adapter events until the connection
// dies. It owns the events channel and closes it on exit.
func (a *Adapter) readLoop() {
	defer close(a.events)

	for {
		var f frame
		if err := a.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[wsadapter] target %s: read: %v", a.target, err)
			}
			return
		}

		switch f.Type {
		case frameReady:
			a.readyOnce.Do(func() { close(a.ready) })
		case framePairingCode:
			select {
			case a.codeCh <- codeResult{code: f.Code}:
			default:
			}
		case frameError:
			select {
			case a.codeCh <- codeResult{err: errors.New(f.Message)}:
			default:
			}
		case frameConnection:
			a.events <- pairing.Event{
				Kind:        pairing.EventConnectionUpdate,
				State:       pairing.ConnectionState(f.State),
				CloseReason: f.Reason,
			}
		case frameCredentials:
			a.credMu.Lock()
			a.creds = append(json.RawMessage(nil), f.Credentials...)
			a.credMu.Unlock()
			a.events <- pairing.Event{Kind: pairing.EventCredentialsUpdated}
		default:
			log.Printf("[wsadapter] target %s: unknown frame type %q", a.target, f.Type)
		}
	}
}

// WaitReady blocks until the gateway acknowledges registration.
func (a *Adapter) WaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestLinkingCode asks the gateway for a one-time pairing code.
func (a *Adapter) RequestLinkingCode(ctx context.Context, target string) (string, error) {
	if err := a.writeFrame(frame{Type: frameRequestCode, Target: target}); err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}

	select {
	case res := <-a.codeCh:
		if res.err != nil {
			return "", res.err
		}
		return res.code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Events returns the connection-state stream.
func (a *Adapter) Events() <-chan pairing.Event {
	return a.events
}

// PersistCredentials writes the most recent credential material from the
// gateway into the session workspace.
func (a *Adapter) PersistCredentials() error {
	a.credMu.Lock()
	creds := a.creds
	a.credMu.Unlock()

	if len(creds) == 0 {
		return errors.New("no credential material received yet")
	}
	return os.WriteFile(filepath.Join(a.workDir, pairing.ArtifactFile), creds, 0o600)
}

// Teardown closes the gateway connection. Safe to call repeatedly.
func (a *Adapter) Teardown() error {
	var err error
	a.closeOnce.Do(func() {
		a.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
		a.writeMu.Unlock()
		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) writeFrame(f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(f)
}
