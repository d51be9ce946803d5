package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewServerRequiresHTTPAddr(t *testing.T) {
	if _, err := NewServer(Config{UploadDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty HTTP address")
	}
}

func TestNewServerRequiresContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test.
	if _, err := NewServerWithContext(nil, Config{HTTPAddr: "127.0.0.1:0", UploadDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestNewServerRejectsUnknownUploadBackend(t *testing.T) {
	_, err := NewServer(Config{HTTPAddr: "127.0.0.1:0", UploadBackend: "s3"})
	if err == nil {
		t.Fatal("expected error for unknown upload backend")
	}
	if !strings.Contains(err.Error(), "s3") {
		t.Fatalf("error = %v, want backend name", err)
	}
}

func TestNewServerRequiresUploadLocation(t *testing.T) {
	if _, err := NewServer(Config{HTTPAddr: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected error for missing upload directory")
	}
	if _, err := NewServer(Config{HTTPAddr: "127.0.0.1:0", UploadBackend: UploadBackendSQLite}); err == nil {
		t.Fatal("expected error for missing upload database path")
	}
}

func TestNewServerOpensSQLiteUploads(t *testing.T) {
	server, err := NewServer(Config{
		HTTPAddr:      "127.0.0.1:0",
		UploadBackend: "SQLite",
		UploadDBPath:  filepath.Join(t.TempDir(), "uploads", "uploads.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server.Close()
}

func TestListenAndServeNilServer(t *testing.T) {
	var s *Server
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error for nil server")
	}
	s.Close()
}

func TestNewHandlerUpEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/up", nil)

	NewHandler(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if strings.TrimSpace(rr.Body.String()) != "OK" {
		t.Fatalf("body = %q, want OK", rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestNewHandlerWSEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ws", nil)

	NewHandler(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodGet {
		t.Fatalf("Allow = %q, want GET", got)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(Config{HTTPAddr: "127.0.0.1:0", UploadDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func TestRunFailsWithoutAddress(t *testing.T) {
	if err := Run(context.Background(), Config{UploadDir: t.TempDir()}); err == nil {
		t.Fatal("expected run error for empty HTTP address")
	}
}
