package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/officecollab/internal/platform/timeouts"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
	"github.com/louisbranch/officecollab/internal/services/editor/storage"
	"github.com/louisbranch/officecollab/internal/services/editor/storage/filesystem"
	uploadsqlite "github.com/louisbranch/officecollab/internal/services/editor/storage/sqlite"
)

const tracerName = "github.com/louisbranch/officecollab/internal/services/editor/app"

const (
	maxFramePayloadBytes   = 8 * 1024 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	maxQueuedFrames        = 64

	defaultMaxUploadBytes = 32 * 1024 * 1024
	defaultIdentityHeader = "X-Forwarded-User"

	// Position descriptors recorded when a client does not report one.
	positionJoined          = "start of document"
	positionUnspecified     = "unspecified position"
	positionStructureChange = "changed table structure"
)

// Upload backends accepted by Config.UploadBackend.
const (
	UploadBackendFilesystem = "filesystem"
	UploadBackendSQLite     = "sqlite"
)

// Config defines the inputs for the editor HTTP/WebSocket process.
type Config struct {
	HTTPAddr          string
	UploadBackend     string
	UploadDir         string
	UploadDBPath      string
	MaxUploadBytes    int64
	IdentityHeader    string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the editor HTTP/WebSocket process.
//
// Document state lives in memory for the lifetime of the process; only the
// original upload bytes go to the configured upload store.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	uploads         storage.UploadStore
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// documentRef names the target document. Older clients send file_id.
type documentRef struct {
	DocumentID string `json:"document_id"`
	FileID     string `json:"file_id"`
}

func (r documentRef) id() string {
	if id := strings.TrimSpace(r.DocumentID); id != "" {
		return id
	}
	return strings.TrimSpace(r.FileID)
}

type editPayload struct {
	documentRef
	Content  json.RawMessage `json:"content"`
	Position json.RawMessage `json:"position"`
	Action   json.RawMessage `json:"action"`
}

type currentContentPayload struct {
	DocumentID string            `json:"document_id"`
	Content    document.Content  `json:"content"`
	Editors    map[string]string `json:"editors"`
}

type presencePayload struct {
	DocumentID string            `json:"document_id"`
	Username   string            `json:"username"`
	Editors    map[string]string `json:"editors"`
}

type contentUpdatedPayload struct {
	DocumentID string            `json:"document_id"`
	Content    document.Content  `json:"content"`
	Editors    map[string]string `json:"editors"`
	Username   string            `json:"username"`
}

type structureUpdatedPayload struct {
	DocumentID string            `json:"document_id"`
	Content    document.Content  `json:"content"`
	Editors    map[string]string `json:"editors"`
	Action     json.RawMessage   `json:"action"`
	Username   string            `json:"username"`
}

type syncCompletePayload struct {
	DocumentID string `json:"document_id"`
}

// NewServer builds a configured editor server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured editor server with an explicit
// context.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	uploads, err := openUploadStore(config)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr: httpAddr,
		Handler: newHandler(handlerConfig{
			docs:           document.NewStore(),
			uploads:        uploads,
			identityHeader: config.IdentityHeader,
			maxUploadBytes: config.MaxUploadBytes,
		}),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		uploads:         uploads,
	}, nil
}

func openUploadStore(config Config) (storage.UploadStore, error) {
	switch backend := strings.ToLower(strings.TrimSpace(config.UploadBackend)); backend {
	case "", UploadBackendFilesystem:
		store, err := filesystem.Open(config.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("open filesystem upload store: %w", err)
		}
		return store, nil
	case UploadBackendSQLite:
		store, err := uploadsqlite.Open(config.UploadDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite upload store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", config.UploadBackend)
	}
}

// Run creates and serves an editor server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init editor server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve editor: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("editor server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("editor: server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.uploads != nil {
		if err := s.uploads.Close(); err != nil {
			log.Printf("editor: close upload store: %v", err)
		}
	}
}
