package session

// State tracks where a linking session is in its lifecycle.
type State string

const (
	StateCreated          State = "created"
	StatePairingRequested State = "pairing_requested"
	StateCodeIssued       State = "code_issued"
	StateConnected        State = "connected"
	StateDisclosed        State = "disclosed"
	StateExpired          State = "expired"
)

// Status classifies the outcome of a credential retrieval attempt.
type Status int

const (
	// StatusNotFound means no live session owns the token: it never
	// existed, expired, or was already disclosed and cleaned up.
	StatusNotFound Status = iota
	// StatusPending means the session exists but the handshake has not
	// produced a credential yet.
	StatusPending
	// StatusFound means a credential is available and has been disclosed.
	StatusFound
)

// RetrievalResult carries the outcome of a retrieval attempt. Credential is
// populated only when Status is StatusFound.
type RetrievalResult struct {
	Status     Status
	Credential string
	Target     string
}
