package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/himecorleone/course-registration-system/internal/account"
)

// stubDriver fakes the WebDriver slice one full scheduler cycle touches: a
// session, the listing navigation, and an empty course listing.
type stubDriver struct {
	mu        sync.Mutex
	sessions  int
	navigates int
}

func (s *stubDriver) handler() http.Handler {
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": v})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.sessions++
		s.mu.Unlock()
		write(w, map[string]any{"sessionId": "sess-1", "capabilities": map[string]any{}})
	})
	mux.HandleFunc("POST /session/sess-1/timeouts", func(w http.ResponseWriter, r *http.Request) {
		write(w, nil)
	})
	mux.HandleFunc("POST /session/sess-1/url", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.navigates++
		s.mu.Unlock()
		write(w, nil)
	})
	mux.HandleFunc("GET /session/sess-1/window", func(w http.ResponseWriter, r *http.Request) {
		write(w, "home")
	})
	mux.HandleFunc("POST /session/sess-1/elements", func(w http.ResponseWriter, r *http.Request) {
		write(w, []any{})
	})
	mux.HandleFunc("DELETE /session/sess-1", func(w http.ResponseWriter, r *http.Request) {
		write(w, nil)
	})
	return mux
}

func (s *stubDriver) navigateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigates
}

func writeStandaloneConfig(t *testing.T, driverURL string) string {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "booking": {"url": "https://example.org/booking", "page_settle": "1ms"},
  "driver": {"url": %q, "http_timeout": "2s"},
  "credentials_dir": %q
}`, driverURL, dir)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunStandaloneStaysResidentUntilCanceled(t *testing.T) {
	t.Parallel()
	stub := &stubDriver{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfgPath := writeStandaloneConfig(t, srv.URL)
	recordPath := filepath.Join(t.TempDir(), "a@example.org")
	if err := os.WriteFile(recordPath, []byte("a@example.org\npw\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunStandalone(ctx, cfgPath, recordPath) }()

	// The startup attempt must reach the driver.
	deadline := time.Now().Add(5 * time.Second)
	for stub.navigateCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stub.navigateCount() == 0 {
		t.Fatal("startup attempt never navigated to the booking page")
	}

	// After the attempt the loop stays up, waiting for armed fires.
	select {
	case err := <-done:
		t.Fatalf("standalone scheduler exited after one attempt: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunStandalone returned %v on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("standalone scheduler did not stop on cancel")
	}
}

func TestRunStandaloneFailsOnMissingRecord(t *testing.T) {
	t.Parallel()
	cfgPath := writeStandaloneConfig(t, "http://127.0.0.1:1") // never dialed

	err := RunStandalone(context.Background(), cfgPath, filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
