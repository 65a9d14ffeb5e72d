package session_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nexlink/pairbroker/internal/handler"
	"github.com/nexlink/pairbroker/internal/service/pairing"
)

// stubAdapter satisfies pairing.Adapter without a gateway connection.
type stubAdapter struct {
	workDir string
	events  chan pairing.Event
	once    sync.Once
}

func (a *stubAdapter) WaitReady(context.Context) error { return nil }

func (a *stubAdapter) RequestLinkingCode(context.Context, string) (string, error) {
	return "WXYZ-7890", nil
}

func (a *stubAdapter) Events() <-chan pairing.Event { return a.events }

func (a *stubAdapter) PersistCredentials() error { return nil }

func (a *stubAdapter) Teardown() error {
	a.once.Do(func() { close(a.events) })
	return nil
}

func (a *stubAdapter) connect(t *testing.T, creds string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(a.workDir, pairing.ArtifactFile), []byte(creds), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	a.events <- pairing.Event{Kind: pairing.EventConnectionUpdate, State: pairing.ConnectionOpened}
}

func newTestServer(t *testing.T) (*httptest.Server, *stubAdapter) {
	t.Helper()

	store, err := pairing.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore err: %v", err)
	}

	adapter := &stubAdapter{events: make(chan pairing.Event, 4)}
	factory := func(_, workDir string) (pairing.Adapter, error) {
		adapter.workDir = workDir
		return adapter, nil
	}

	cfg := pairing.DefaultConfig()
	cfg.AdapterSettleDelay = 10 * time.Millisecond
	cfg.PostRetrievalCleanupDelay = time.Second

	manager := pairing.NewManager(cfg, store, factory)
	srv := httptest.NewServer(handler.NewRouter(manager))
	t.Cleanup(srv.Close)
	t.Cleanup(manager.DrainAll)
	return srv, adapter
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestGenerateSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/generate-session", map[string]string{"phoneNumber": "+1 555 123 4567"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	if body["sessionToken"] == "" || body["pairingCode"] != "WXYZ-7890" {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestGenerateSessionInvalidTarget(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/generate-session", map[string]string{"phoneNumber": "123"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}

func TestGenerateSessionMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/generate-session", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestCheckSessionFlow(t *testing.T) {
	srv, adapter := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/generate-session", map[string]string{"phoneNumber": "15551234567"})
	body := decodeBody(t, resp)
	token, _ := body["sessionToken"].(string)
	if token == "" {
		t.Fatalf("missing session token in %v", body)
	}

	// Not connected yet: the caller sees a waiting response.
	resp, err := http.Get(srv.URL + "/api/check-session/" + token)
	if err != nil {
		t.Fatalf("GET check-session: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	waiting := decodeBody(t, resp)
	if waiting["success"] != false || waiting["waiting"] != true {
		t.Fatalf("expected waiting response, got %v", waiting)
	}

	adapter.connect(t, `{"session":"material"}`)

	var found map[string]any
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(srv.URL + "/api/check-session/" + token)
		if err != nil {
			t.Fatalf("GET check-session: %v", err)
		}
		found = decodeBody(t, resp)
		if found["success"] == true {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	want := base64.StdEncoding.EncodeToString([]byte(`{"session":"material"}`))
	if found["sessionId"] != want {
		t.Fatalf("unexpected sessionId: %v", found["sessionId"])
	}
	if found["phoneNumber"] != "15551234567" {
		t.Fatalf("unexpected phoneNumber: %v", found["phoneNumber"])
	}
}

func TestCheckSessionUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/check-session/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", body)
	}
	if _, ok := body["activeSessions"]; !ok {
		t.Fatalf("missing activeSessions in %v", body)
	}
	if _, ok := body["memory"]; !ok {
		t.Fatalf("missing memory in %v", body)
	}
}
