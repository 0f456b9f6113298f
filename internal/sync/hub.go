package sync

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arduinohub/pkg/models"
)

const writeWait = 2 * time.Second

// Hub fans task events out. TCP listeners get every event; websocket
// subscribers only get events for the session they joined.
type Hub struct {
	mu      sync.Mutex
	clients map[net.Conn]struct{}
	rooms   map[string]map[*websocket.Conn]*subscriber
}

// subscriber remembers the newest Seq delivered per section so a snapshot
// that raced a publish cannot roll a section back.
type subscriber struct {
	seen map[models.Section]uint64
}

func (s *subscriber) accept(ev models.TaskEvent) bool {
	sec := ev.State.Section
	if ev.Seq < s.seen[sec] {
		return false
	}
	s.seen[sec] = ev.Seq
	return true
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
	Sessions   int `json:"sessions"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[net.Conn]struct{}),
		rooms:   make(map[string]map[*websocket.Conn]*subscriber),
	}
}

func (h *Hub) Add(conn net.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Remove(conn net.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Join subscribes ws to one session's events.
func (h *Hub) Join(sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*websocket.Conn]*subscriber)
		h.rooms[sessionID] = room
	}
	room[ws] = &subscriber{seen: make(map[models.Section]uint64)}
}

func (h *Hub) Leave(sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	h.leaveLocked(sessionID, ws)
	h.mu.Unlock()
	_ = ws.Close()
}

// Publish sends ev to every TCP client and to the websocket subscribers of
// ev.SessionID. It satisfies generate.Notifier.
func (h *Hub) Publish(ev models.TaskEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[sync] encode event: %v", err)
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeTCPLocked(b)
	h.writeRoomLocked(ev, b)
}

// Replay sends a snapshot to one subscriber of sessionID. Events older than
// what ws already received are skipped.
func (h *Hub) Replay(sessionID string, ws *websocket.Conn, events []models.TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.rooms[sessionID][ws]
	if !ok {
		return
	}
	for _, ev := range events {
		if !sub.accept(ev) {
			continue
		}
		b, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[sync] encode event: %v", err)
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, append(b, '\n')); err != nil {
			return
		}
	}
}

// FeedJSON sends v to the TCP feed only. Websocket subscribers are scoped to
// one session and never see it.
func (h *Hub) FeedJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeTCPLocked(b)
}

// Send writes v to a single websocket, serialized with broadcasts.
func (h *Hub) Send(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, append(b, '\n'))
}

// CloseSession notifies and disconnects every subscriber of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	b, err := json.Marshal(SessionClosed{Type: "session.closed", SessionID: sessionID, At: time.Now().UTC()})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	for ws := range room {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, append(b, '\n'))
		_ = ws.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{TCPClients: len(h.clients), Sessions: len(h.rooms)}
	for _, room := range h.rooms {
		st.WSClients += len(room)
	}
	return st
}

func (h *Hub) Welcome(conn net.Conn) {
	b, _ := json.Marshal(Welcome{Type: "welcome", Transport: "tcp", Clients: h.Count()})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, _ = conn.Write(append(b, '\n'))
}

func (h *Hub) writeTCPLocked(b []byte) {
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		w := bufio.NewWriter(c)
		if _, err := w.Write(b); err != nil {
			_ = c.Close()
			delete(h.clients, c)
			continue
		}
		if err := w.Flush(); err != nil {
			_ = c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) writeRoomLocked(ev models.TaskEvent, b []byte) {
	sessionID := ev.SessionID
	for ws, sub := range h.rooms[sessionID] {
		if !sub.accept(ev) {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = ws.Close()
			h.leaveLocked(sessionID, ws)
		}
	}
}

func (h *Hub) leaveLocked(sessionID string, ws *websocket.Conn) {
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, ws)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}
