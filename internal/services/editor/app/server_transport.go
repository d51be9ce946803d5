package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/platform/httpx"
	"github.com/louisbranch/officecollab/internal/platform/requestctx"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
	"github.com/louisbranch/officecollab/internal/services/editor/storage"
)

type handlerConfig struct {
	docs           *document.Store
	uploads        storage.UploadStore
	identityHeader string
	maxUploadBytes int64
}

type editorHandler struct {
	docs           *document.Store
	uploads        storage.UploadStore
	hub            *roomHub
	maxUploadBytes int64
}

// NewHandler creates editor routes over an empty document store.
func NewHandler(uploads storage.UploadStore) http.Handler {
	return newHandler(handlerConfig{uploads: uploads})
}

func newHandler(config handlerConfig) http.Handler {
	if config.docs == nil {
		config.docs = document.NewStore()
	}
	if config.maxUploadBytes <= 0 {
		config.maxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(config.identityHeader) == "" {
		config.identityHeader = defaultIdentityHeader
	}
	h := &editorHandler{
		docs:           config.docs,
		uploads:        config.uploads,
		hub:            newRoomHub(),
		maxUploadBytes: config.maxUploadBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(h.handleWSConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if requestctx.UserIDFromContext(r.Context()) == "" {
			log.Printf("editor: websocket without identity host=%q remote=%s; events will be dropped", r.Host, r.RemoteAddr)
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("POST /upload", h.handleUpload)
	mux.HandleFunc("GET /files", h.handleListFiles)
	mux.HandleFunc("GET /download/{id}", h.handleDownload)

	return httpx.Chain(
		mux,
		httpx.RecoverPanic(),
		httpx.RequestID(),
		httpx.LogRequests(),
		requestctx.FromHeader(config.identityHeader),
	)
}

func (h *editorHandler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}
	peer := newWSPeer(maxQueuedFrames)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		peer.writeLoop(conn)
	}()

	session := newWSSession(requestctx.UserIDFromContext(ctx), peer)
	defer func() {
		if room := session.setRoom(nil); room != nil {
			h.leaveRoom(room, peer)
		}
		peer.finish()
		<-writerDone
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) && !peer.isClosed() {
				session.replyError("", apperrors.CodeInvalidArgument, "payload too large")
				continue
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			decodeErrors++
			session.replyError("", apperrors.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			session.replyError(frame.RequestID, apperrors.CodeResourceExhausted, "rate limit exceeded")
			return
		}

		h.dispatchFrame(ctx, session, frame)
	}
}

func (h *editorHandler) dispatchFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	_, span := otel.Tracer(tracerName).Start(ctx, "editor.frame",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("frame.type", frame.Type)),
	)
	defer span.End()

	if session.userID == "" {
		log.Printf("editor: dropping %s frame from unauthenticated connection", frame.Type)
		return
	}

	switch frame.Type {
	case "join_editor":
		h.handleJoinEditor(session, frame)
	case "editor_action":
		h.handleEditorAction(session, frame)
	case "excel_structure_change":
		h.handleStructureChange(session, frame)
	case "leave_editor":
		h.handleLeaveEditor(session, frame)
	default:
		writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "unsupported frame type")
	}
}

// parseDocumentID accepts a bare JSON string or an object carrying
// document_id.
func parseDocumentID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var documentID string
		if err := json.Unmarshal(raw, &documentID); err != nil {
			return "", err
		}
		documentID = strings.TrimSpace(documentID)
		if documentID == "" {
			return "", errors.New("document_id is required")
		}
		return documentID, nil
	}
	var ref documentRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", err
	}
	if ref.id() == "" {
		return "", errors.New("document_id is required")
	}
	return ref.id(), nil
}

func (h *editorHandler) handleJoinEditor(session *wsSession, frame wsFrame) {
	documentID, err := parseDocumentID(frame.Payload)
	if err != nil {
		writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid join payload: "+err.Error())
		return
	}
	if _, err := h.docs.Get(documentID); err != nil {
		log.Printf("editor: join ignored user=%q document=%q err=%v", session.userID, documentID, err)
		return
	}

	if previous := session.currentRoom(); previous != nil && previous.documentID != documentID {
		session.setRoom(nil)
		h.leaveRoom(previous, session.peer)
	}

	for {
		room := h.hub.room(documentID)
		err := room.join(h.docs, session.peer, session.userID)
		if errors.Is(err, errRoomClosed) {
			continue
		}
		if err != nil {
			log.Printf("editor: join failed user=%q document=%q err=%v", session.userID, documentID, err)
			return
		}
		session.setRoom(room)
		log.Printf("editor: user=%q joined document=%q", session.userID, documentID)
		return
	}
}

func (h *editorHandler) handleEditorAction(session *wsSession, frame wsFrame) {
	h.applyEdit(session, frame, positionUnspecified, func(doc document.Document, identity string, _ json.RawMessage) wsFrame {
		return wsFrame{
			Type: "content_updated",
			Payload: mustJSON(contentUpdatedPayload{
				DocumentID: doc.ID,
				Content:    doc.Content,
				Editors:    doc.Editors,
				Username:   identity,
			}),
		}
	})
}

// handleStructureChange relays spreadsheet structure edits. The document kind
// is not checked against the event; content must still fit the document.
func (h *editorHandler) handleStructureChange(session *wsSession, frame wsFrame) {
	h.applyEdit(session, frame, positionStructureChange, func(doc document.Document, identity string, action json.RawMessage) wsFrame {
		return wsFrame{
			Type: "excel_structure_updated",
			Payload: mustJSON(structureUpdatedPayload{
				DocumentID: doc.ID,
				Content:    doc.Content,
				Editors:    doc.Editors,
				Action:     action,
				Username:   identity,
			}),
		}
	})
}

func (h *editorHandler) applyEdit(session *wsSession, frame wsFrame, defaultPosition string, frameFor func(document.Document, string, json.RawMessage) wsFrame) {
	var payload editPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid edit payload")
		return
	}
	documentID := payload.id()
	if documentID == "" {
		writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "document_id is required")
		return
	}

	room := session.roomFor(documentID)
	if room == nil {
		log.Printf("editor: %s ignored user=%q document=%q: not in room", frame.Type, session.userID, documentID)
		return
	}
	doc, err := h.docs.Get(documentID)
	if err != nil {
		log.Printf("editor: %s ignored user=%q document=%q err=%v", frame.Type, session.userID, documentID, err)
		return
	}
	content, err := document.ParseContent(doc.Kind, payload.Content)
	if err != nil {
		writeWSError(session.peer, frame.RequestID, apperrors.CodeOf(err), err.Error())
		return
	}

	position := positionFromPayload(payload.Position, defaultPosition)
	action := payload.Action
	err = room.edit(h.docs, session.peer, content, position, frame.RequestID, func(doc document.Document, identity string) wsFrame {
		return frameFor(doc, identity, action)
	})
	switch {
	case err == nil:
	case errors.Is(err, errNotInRoom), apperrors.CodeOf(err) == apperrors.CodeNotFound:
		log.Printf("editor: %s ignored user=%q document=%q err=%v", frame.Type, session.userID, documentID, err)
	default:
		writeWSError(session.peer, frame.RequestID, apperrors.CodeOf(err), err.Error())
	}
}

// positionFromPayload keeps string positions as sent and stores any other
// JSON value in compact form. Missing or null positions take fallback.
func positionFromPayload(raw json.RawMessage, fallback string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback
	}
	var position string
	if err := json.Unmarshal(raw, &position); err == nil {
		return position
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return fallback
	}
	return compact.String()
}

func (h *editorHandler) handleLeaveEditor(session *wsSession, frame wsFrame) {
	documentID, err := parseDocumentID(frame.Payload)
	if err != nil {
		writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid leave payload: "+err.Error())
		return
	}
	room := session.roomFor(documentID)
	if room == nil {
		log.Printf("editor: leave ignored user=%q document=%q: not in room", session.userID, documentID)
		return
	}
	session.setRoom(nil)
	h.leaveRoom(room, session.peer)
	log.Printf("editor: user=%q left document=%q", session.userID, documentID)
}

func (h *editorHandler) leaveRoom(room *editorRoom, peer *wsPeer) {
	if room == nil || peer == nil {
		return
	}
	if room.leave(h.docs, peer) {
		h.hub.release(room)
	}
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) {
	if code == "" {
		code = apperrors.CodeUnknown
	}
	peer.enqueue(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:    string(code),
				Message: message,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("editor: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
