package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/platform/timeouts"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

var (
	errRoomClosed = errors.New("room closed")
	errNotInRoom  = errors.New("connection is not in room")
)

type wsSession struct {
	mu     sync.Mutex
	userID string
	room   *editorRoom
	peer   *wsPeer
}

func newWSSession(userID string, peer *wsPeer) *wsSession {
	return &wsSession{
		userID: userID,
		peer:   peer,
	}
}

func (s *wsSession) setRoom(next *editorRoom) *editorRoom {
	s.mu.Lock()
	previous := s.room
	s.room = next
	s.mu.Unlock()
	return previous
}

func (s *wsSession) currentRoom() *editorRoom {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return room
}

// replyError sends an error frame to the connection. Connections without an
// identity get nothing back; the failure is only logged.
func (s *wsSession) replyError(requestID string, code apperrors.Code, message string) {
	if s.userID == "" {
		log.Printf("editor: dropping %s reply to unauthenticated connection: %s", code, message)
		return
	}
	writeWSError(s.peer, requestID, code, message)
}

// roomFor returns the session's room when it serves documentID.
func (s *wsSession) roomFor(documentID string) *editorRoom {
	room := s.currentRoom()
	if room == nil || room.documentID != documentID {
		return nil
	}
	return room
}

// wsPeer owns one connection's outbound queue. Frames are written by a
// single writer goroutine so room broadcasts never block on a slow client.
type wsPeer struct {
	mu     sync.Mutex
	out    chan wsFrame
	abort  chan struct{}
	closed bool
}

func newWSPeer(queueSize int) *wsPeer {
	if queueSize <= 0 {
		queueSize = maxQueuedFrames
	}
	return &wsPeer{
		out:   make(chan wsFrame, queueSize),
		abort: make(chan struct{}),
	}
}

// enqueue queues frame without blocking. A full queue aborts the peer and
// reports false.
func (p *wsPeer) enqueue(frame wsFrame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.out <- frame:
		return true
	default:
		p.closed = true
		close(p.abort)
		return false
	}
}

// finish stops accepting frames and lets the writer drain what is queued.
func (p *wsPeer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.out)
}

func (p *wsPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// writeLoop encodes queued frames to w until the queue is finished or the
// peer is aborted. It closes w on return.
func (p *wsPeer) writeLoop(w io.WriteCloser) {
	defer func() {
		_ = w.Close()
	}()
	encoder := json.NewEncoder(w)
	deadliner, _ := w.(interface{ SetWriteDeadline(time.Time) error })
	for {
		select {
		case <-p.abort:
			log.Printf("editor: outbound queue full, dropping connection")
			return
		case frame, ok := <-p.out:
			if !ok {
				return
			}
			if deadliner != nil {
				_ = deadliner.SetWriteDeadline(time.Now().Add(timeouts.WSWrite))
			}
			if err := encoder.Encode(frame); err != nil {
				p.mu.Lock()
				if !p.closed {
					p.closed = true
					close(p.abort)
				}
				p.mu.Unlock()
				return
			}
		}
	}
}

type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*editorRoom
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]*editorRoom)}
}

func (h *roomHub) room(documentID string) *editorRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[documentID]
	if ok {
		return room
	}

	room = newEditorRoom(documentID)
	h.rooms[documentID] = room
	return room
}

// release drops room from the hub once it has no members. A released room
// refuses further joins so callers fetch a fresh one.
func (h *roomHub) release(room *editorRoom) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.members) > 0 || room.closed {
		return
	}
	room.closed = true
	if h.rooms[room.documentID] == room {
		delete(h.rooms, room.documentID)
	}
}

func (h *roomHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// editorRoom is the set of connections editing one document. Every store
// mutation for the document made through the room happens under mu together
// with queueing the frames it produces, so members observe commits in order.
type editorRoom struct {
	mu         sync.Mutex
	documentID string
	members    map[*wsPeer]string
	closed     bool
}

func newEditorRoom(documentID string) *editorRoom {
	return &editorRoom{
		documentID: documentID,
		members:    make(map[*wsPeer]string),
	}
}

// join admits peer, records identity at the start of the document, sends
// the joiner the current state and tells everyone else.
func (r *editorRoom) join(docs *document.Store, peer *wsPeer, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRoomClosed
	}

	doc, err := docs.SetEditorPosition(r.documentID, identity, positionJoined)
	if err != nil {
		return err
	}
	r.members[peer] = identity

	peer.enqueue(wsFrame{
		Type: "current_content",
		Payload: mustJSON(currentContentPayload{
			DocumentID: doc.ID,
			Content:    doc.Content,
			Editors:    doc.Editors,
		}),
	})
	r.broadcastLocked(peer, wsFrame{
		Type: "user_joined_editor",
		Payload: mustJSON(presencePayload{
			DocumentID: doc.ID,
			Username:   identity,
			Editors:    doc.Editors,
		}),
	})
	return nil
}

// edit applies a full content replacement from peer. frameFor builds the
// broadcast for the committed snapshot; the sender gets sync_complete.
func (r *editorRoom) edit(docs *document.Store, peer *wsPeer, content document.Content, position, requestID string, frameFor func(document.Document, string) wsFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.members[peer]
	if !ok {
		return errNotInRoom
	}
	doc, err := docs.ApplyEdit(r.documentID, identity, content, position)
	if err != nil {
		return err
	}

	r.broadcastLocked(peer, frameFor(doc, identity))
	peer.enqueue(wsFrame{
		Type:      "sync_complete",
		RequestID: requestID,
		Payload:   mustJSON(syncCompletePayload{DocumentID: doc.ID}),
	})
	return nil
}

// leave removes peer. When its identity was an editor, the remaining members
// learn the updated mapping. The bool reports whether the room is now empty.
func (r *editorRoom) leave(docs *document.Store, peer *wsPeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.members[peer]
	if !ok {
		return len(r.members) == 0
	}
	delete(r.members, peer)

	doc, removed, err := docs.RemoveEditor(r.documentID, identity)
	if err != nil {
		log.Printf("editor: remove editor user=%q document=%q err=%v", identity, r.documentID, err)
		return len(r.members) == 0
	}
	if removed {
		r.broadcastLocked(nil, wsFrame{
			Type: "user_left_editor",
			Payload: mustJSON(presencePayload{
				DocumentID: doc.ID,
				Username:   identity,
				Editors:    doc.Editors,
			}),
		})
	}
	return len(r.members) == 0
}

// broadcastLocked queues frame for every member except skip. Callers must
// hold r.mu.
func (r *editorRoom) broadcastLocked(skip *wsPeer, frame wsFrame) {
	for member := range r.members {
		if member == skip {
			continue
		}
		member.enqueue(frame)
	}
}

func (r *editorRoom) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
