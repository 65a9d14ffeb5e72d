package pairing

import "context"

// ConnectionState mirrors the connection lifecycle reported by the external
// pairing protocol handler.
type ConnectionState string

const (
	ConnectionOpened ConnectionState = "open"
	ConnectionClosed ConnectionState = "close"
)

// CloseReasonLoggedOut marks a close caused by a deliberate logout on the
// remote side. Any other close reason may precede a transport retry and must
// not tear the session down.
const CloseReasonLoggedOut = "logged-out"

// EventKind discriminates adapter events.
type EventKind int

const (
	EventConnectionUpdate EventKind = iota
	EventCredentialsUpdated
)

// Event is one item of the adapter's asynchronous event stream. For
// connection updates State and CloseReason are set; credential updates carry
// no extra payload, the adapter exposes its rotated material through
// PersistCredentials.
type Event struct {
	Kind        EventKind
	State       ConnectionState
	CloseReason string
}

// Adapter drives the external pairing handshake for a single session. The
// session manager is the sole owner of an adapter instance and is
// responsible for tearing it down.
type Adapter interface {
	// WaitReady blocks until the adapter's internal registration state is
	// initialized, or ctx is done. Requesting a linking code before
	// readiness is a protocol error on some gateways.
	WaitReady(ctx context.Context) error

	// RequestLinkingCode asks the remote service for a one-time code the
	// account holder types on their device to approve the link.
	RequestLinkingCode(ctx context.Context, target string) (string, error)

	// Events returns the connection-state stream. The channel is closed
	// when the adapter is torn down.
	Events() <-chan Event

	// PersistCredentials flushes rotated credential material to the
	// session's working directory. Invoked on EventCredentialsUpdated.
	PersistCredentials() error

	// Teardown closes the handshake transport and releases resources.
	// Best-effort; callers log failures and move on. Must be safe to
	// call more than once: the post-connect teardown and the session
	// destruction path can both reach it.
	Teardown() error
}

// AdapterFactory builds an adapter bound to a target identifier and a
// working directory where the adapter materializes credential state.
type AdapterFactory func(target, workDir string) (Adapter, error)
