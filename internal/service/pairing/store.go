package pairing

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactFile is the credential bundle the external handler materializes
// inside a session's working directory once the handshake completes.
const ArtifactFile = "creds.json"

// Store manages per-session scratch directories on the local filesystem.
// Each session exclusively owns one directory under the base path; it is
// created before the adapter is instantiated and removed when the session
// is destroyed.
type Store struct {
	base string
}

// NewStore prepares a scratch store rooted at base, creating it if needed.
func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch root %s: %w", base, err)
	}
	return &Store{base: base}, nil
}

// CreateWorkspace allocates an isolated directory for one session.
func (s *Store) CreateWorkspace(token string) (string, error) {
	dir := filepath.Join(s.base, token)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// ReadArtifact returns the raw credential bundle from a workspace.
func (s *Store) ReadArtifact(workDir string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(workDir, ArtifactFile))
	if err != nil {
		return nil, fmt.Errorf("read credential artifact: %w", err)
	}
	return raw, nil
}

// Remove deletes a workspace and everything in it.
func (s *Store) Remove(workDir string) error {
	if workDir == "" {
		return nil
	}
	return os.RemoveAll(workDir)
}
