package pairing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexlink/pairbroker/internal/model/session"
)

var (
	ErrInvalidTarget  = errors.New("target must contain at least 8 digits")
	ErrPairingTimeout = errors.New("pairing code not issued in time")
	ErrAdapterFailure = errors.New("pairing handler failure")
)

// Config holds the timing policy of the session lifecycle.
type Config struct {
	// MaxSessionAge is how long a session may live before the sweep
	// reclaims it, connected or not.
	MaxSessionAge time.Duration
	// SweepInterval is the period of the expiry sweep.
	SweepInterval time.Duration
	// AdapterSettleDelay bounds the wait for the adapter's ready signal
	// before the linking code is requested.
	AdapterSettleDelay time.Duration
	// CodeWaitWindow bounds the synchronous part of session creation.
	CodeWaitWindow time.Duration
	// PostConnectTeardownDelay is how long after a successful handshake
	// the adapter transport is closed.
	PostConnectTeardownDelay time.Duration
	// PostRetrievalCleanupDelay is the grace window between disclosing a
	// credential and destroying the session. A client that polls twice in
	// quick succession sees the same credential both times.
	PostRetrievalCleanupDelay time.Duration
}

// DefaultConfig returns the production timing policy.
func DefaultConfig() Config {
	return Config{
		MaxSessionAge:             5 * time.Minute,
		SweepInterval:             time.Minute,
		AdapterSettleDelay:        2 * time.Second,
		CodeWaitWindow:            3 * time.Second,
		PostConnectTeardownDelay:  2 * time.Second,
		PostRetrievalCleanupDelay: 5 * time.Second,
	}
}

// liveSession is the registry entry for one in-flight linking session. All
// mutable fields are guarded by the manager mutex; workDir, adapter, token,
// target and createdAt are set once at creation and read-only afterwards.
type liveSession struct {
	token     string
	target    string
	createdAt time.Time
	workDir   string
	adapter   Adapter

	state       session.State
	linkingCode string
	artifact    string
	connected   bool
	disclosed   bool
	destroyed   bool

	teardownTimer *time.Timer
	cleanupTimer  *time.Timer
}

// Manager owns the registry of linking sessions and every state transition
// in their lifecycle: creation, pairing coordination, one-time disclosure,
// expiry and destruction.
type Manager struct {
	cfg        Config
	store      *Store
	newAdapter AdapterFactory

	mu       sync.Mutex
	sessions map[string]*liveSession

	now func() time.Time
}

// NewManager wires the lifecycle manager to its scratch store and the
// factory that produces a protocol adapter per session.
func NewManager(cfg Config, store *Store, factory AdapterFactory) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      store,
		newAdapter: factory,
		sessions:   make(map[string]*liveSession),
		now:        time.Now,
	}
}

// NormalizeTarget strips everything but digits from a target identifier.
func NormalizeTarget(target string) string {
	out := make([]byte, 0, len(target))
	for i := 0; i < len(target); i++ {
		if target[i] >= '0' && target[i] <= '9' {
			out = append(out, target[i])
		}
	}
	return string(out)
}

func newToken(now time.Time) string {
	return fmt.Sprintf("%s-%d", uuid.NewString(), now.UnixMilli())
}

// Create provisions a new linking session for target and blocks until the
// external handler issues a pairing code, or the wait window elapses. The
// target must contain at least 8 digits after normalization. On any failure
// past registration the session is destroyed eagerly rather than left for
// the sweep.
func (m *Manager) Create(ctx context.Context, target string) (token, code string, err error) {
	digits := NormalizeTarget(target)
	if len(digits) < 8 {
		return "", "", ErrInvalidTarget
	}

	now := m.now()
	token = newToken(now)

	workDir, err := m.store.CreateWorkspace(token)
	if err != nil {
		return "", "", err
	}

	adapter, err := m.newAdapter(digits, workDir)
	if err != nil {
		if rmErr := m.store.Remove(workDir); rmErr != nil {
			log.Printf("[pairing] remove workspace after failed adapter init: %v", rmErr)
		}
		return "", "", fmt.Errorf("%w: %v", ErrAdapterFailure, err)
	}

	sess := &liveSession{
		token:     token,
		target:    digits,
		createdAt: now,
		workDir:   workDir,
		adapter:   adapter,
		state:     session.StateCreated,
	}

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	go m.consumeEvents(sess)

	// The code must not be requested before the adapter has initialized
	// its registration state. Gateways that never signal readiness are
	// covered by the settle window elapsing.
	readyCtx, cancelReady := context.WithTimeout(ctx, m.cfg.AdapterSettleDelay)
	readyErr := adapter.WaitReady(readyCtx)
	cancelReady()
	if readyErr != nil && ctx.Err() != nil {
		m.destroy(sess, "creation canceled")
		return "", "", ctx.Err()
	}

	m.setState(sess, session.StatePairingRequested)

	codeCtx, cancelCode := context.WithTimeout(ctx, m.cfg.CodeWaitWindow)
	code, err = adapter.RequestLinkingCode(codeCtx, digits)
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(codeCtx.Err(), context.DeadlineExceeded)
	cancelCode()
	if err != nil {
		m.destroy(sess, "pairing failed")
		if timedOut {
			return "", "", ErrPairingTimeout
		}
		return "", "", fmt.Errorf("%w: %v", ErrAdapterFailure, err)
	}

	m.mu.Lock()
	sess.linkingCode = code
	sess.state = session.StateCodeIssued
	m.mu.Unlock()

	log.Printf("[pairing] session %s: code issued for target %s", token, digits)
	return token, code, nil
}

// consumeEvents processes the adapter's event stream for the lifetime of
// one session. Events are handled in emission order; the loop ends when the
// adapter is torn down and closes its channel.
func (m *Manager) consumeEvents(sess *liveSession) {
	for ev := range sess.adapter.Events() {
		switch ev.Kind {
		case EventConnectionUpdate:
			switch ev.State {
			case ConnectionOpened:
				m.handleOpened(sess)
			case ConnectionClosed:
				if ev.CloseReason == CloseReasonLoggedOut {
					log.Printf("[pairing] session %s: remote logged out", sess.token)
				} else {
					// Non-logout closes may precede an adapter
					// retry; the session stays up.
					log.Printf("[pairing] session %s: transport closed (%s)", sess.token, ev.CloseReason)
				}
			}
		case EventCredentialsUpdated:
			if err := sess.adapter.PersistCredentials(); err != nil {
				log.Printf("[pairing] session %s: persist credentials: %v", sess.token, err)
			}
		}
	}
}

// handleOpened runs the read-encode-store cycle exactly once per session.
// Duplicate opened events trip the connected latch and return early.
func (m *Manager) handleOpened(sess *liveSession) {
	m.mu.Lock()
	if sess.connected || sess.destroyed {
		m.mu.Unlock()
		return
	}
	sess.connected = true
	workDir := sess.workDir
	m.mu.Unlock()

	raw, err := m.store.ReadArtifact(workDir)
	if err != nil {
		// The session stays pending and is reclaimed by the sweep.
		log.Printf("[pairing] session %s: %v", sess.token, err)
		return
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	m.mu.Lock()
	if sess.destroyed {
		m.mu.Unlock()
		return
	}
	sess.artifact = encoded
	sess.state = session.StateConnected
	sess.teardownTimer = time.AfterFunc(m.cfg.PostConnectTeardownDelay, func() {
		if err := sess.adapter.Teardown(); err != nil {
			log.Printf("[pairing] session %s: post-connect teardown: %v", sess.token, err)
		}
	})
	m.mu.Unlock()

	log.Printf("[pairing] session %s: connected, credential cached", sess.token)
}

// Retrieve implements one-time disclosure. The first Found schedules the
// delayed destruction of the session; repeat polls inside the grace window
// observe the same credential, polls after it observe NotFound.
func (m *Manager) Retrieve(token string) session.RetrievalResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok || sess.destroyed {
		return session.RetrievalResult{Status: session.StatusNotFound}
	}
	if sess.artifact == "" {
		return session.RetrievalResult{Status: session.StatusPending}
	}

	if !sess.disclosed {
		sess.disclosed = true
		sess.state = session.StateDisclosed
		sess.cleanupTimer = time.AfterFunc(m.cfg.PostRetrievalCleanupDelay, func() {
			m.destroy(sess, "post-retrieval cleanup")
		})
	}

	return session.RetrievalResult{
		Status:     session.StatusFound,
		Credential: sess.artifact,
		Target:     sess.target,
	}
}

// Run drives the expiry sweep until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep destroys every session older than MaxSessionAge. A failure on one
// session never stops the sweep from reclaiming the others.
func (m *Manager) Sweep() {
	cutoff := m.now().Add(-m.cfg.MaxSessionAge)

	m.mu.Lock()
	var expired []*liveSession
	for _, sess := range m.sessions {
		if sess.createdAt.Before(cutoff) {
			sess.state = session.StateExpired
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		log.Printf("[pairing] session %s: expired, reclaiming", sess.token)
		m.destroy(sess, "expiry sweep")
	}
}

// DrainAll destroys every live session. Called on graceful shutdown.
func (m *Manager) DrainAll() {
	m.mu.Lock()
	all := make([]*liveSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.Unlock()

	for _, sess := range all {
		m.destroy(sess, "shutdown")
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) setState(sess *liveSession, st session.State) {
	m.mu.Lock()
	if !sess.destroyed {
		sess.state = st
	}
	m.mu.Unlock()
}

// destroy removes the session from the registry, tears down its adapter and
// deletes its working directory. The destroyed latch makes the sweep, the
// retrieval cleanup, the creation failure path and the shutdown drain
// mutually exclusive: whichever gets here first wins, the rest no-op.
func (m *Manager) destroy(sess *liveSession, reason string) {
	m.mu.Lock()
	if sess.destroyed {
		m.mu.Unlock()
		return
	}
	sess.destroyed = true
	delete(m.sessions, sess.token)
	if sess.teardownTimer != nil {
		sess.teardownTimer.Stop()
	}
	if sess.cleanupTimer != nil {
		sess.cleanupTimer.Stop()
	}
	m.mu.Unlock()

	if err := sess.adapter.Teardown(); err != nil {
		log.Printf("[pairing] session %s: teardown during %s: %v", sess.token, reason, err)
	}
	if err := m.store.Remove(sess.workDir); err != nil {
		log.Printf("[pairing] session %s: remove workspace during %s: %v", sess.token, reason, err)
	}
	log.Printf("[pairing] session %s: destroyed (%s)", sess.token, reason)
}
