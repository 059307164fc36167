// Package notification delivers user-addressed messages over websocket
// sessions and queues them while the user is offline.
package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	stripes    = 64
)

type session struct {
	userID  string
	conn    *websocket.Conn
	send    chan *Notification
	backlog []*Notification
}

// Hub tracks live sessions per user. mu guards the session map only. Each
// user also maps to one of a fixed set of stripe locks, held by Notify across
// the live-or-queue decision and by Serve across draining and registering, so
// a message is either queued before a session drains the queue or handed to
// that session directly. Only users sharing a stripe wait on each other's
// queue writes.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[*session]struct{}
	stripes  [stripes]sync.Mutex
	repo     Repository
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewHub(repo Repository, log logrus.FieldLogger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*session]struct{}),
		repo:     repo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
		now: time.Now,
	}
}

func stripeOf(userID string) int { return int(xxhash.Sum64String(userID) % stripes) }

// Notify hands message to every live session of userID and reports whether
// any took it. Otherwise the message is queued and false is returned.
func (h *Hub) Notify(ctx context.Context, userID, message string) bool {
	n := &Notification{ID: uuid.NewString(), UserID: userID, Message: message, CreatedAt: h.now()}

	stripe := &h.stripes[stripeOf(userID)]
	stripe.Lock()
	defer stripe.Unlock()

	if h.deliver(n) {
		metrics.RecordNotification("live")
		return true
	}
	if err := h.repo.Enqueue(ctx, n); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("queue notification")
		return false
	}
	metrics.RecordNotification("queued")
	return false
}

func (h *Hub) deliver(n *Notification) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	for s := range h.sessions[n.UserID] {
		select {
		case s.send <- n:
			delivered = true
		default:
			h.log.WithField("user_id", n.UserID).Warn("notification buffer full, dropping session")
			h.dropLocked(s)
		}
	}
	return delivered
}

// Pending lists what is queued for userID.
func (h *Hub) Pending(ctx context.Context, userID string) ([]*Notification, error) {
	return h.repo.Pending(ctx, userID)
}

// Online reports whether userID has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[userID]) > 0
}

// Serve upgrades the request to a websocket session for userID, first
// replaying anything queued while the user was away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &session{userID: userID, conn: conn, send: make(chan *Notification, sendBuffer)}

	stripe := &h.stripes[stripeOf(userID)]
	stripe.Lock()
	backlog, err := h.repo.Take(r.Context(), userID)
	if err != nil {
		stripe.Unlock()
		conn.Close()
		return err
	}
	s.backlog = backlog
	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.mu.Unlock()
	stripe.Unlock()

	metrics.SessionOpened()
	h.log.WithFields(logrus.Fields{"user_id": userID, "backlog": len(backlog)}).Debug("notification session opened")

	go h.writePump(s)
	go h.readPump(s)
	return nil
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

func (h *Hub) dropLocked(s *session) {
	set, ok := h.sessions[s.userID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.userID)
	}
	close(s.send)
	metrics.SessionClosed()
}

// readPump only watches for the peer going away; clients never send data.
func (h *Hub) readPump(s *session) {
	defer func() {
		h.drop(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for _, n := range s.backlog {
		if err := h.write(s, n); err != nil {
			return
		}
	}
	s.backlog = nil

	for {
		select {
		case n, ok := <-s.send:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := h.write(s, n); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(s *session, n *Notification) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(n); err != nil {
		h.log.WithError(err).WithField("user_id", s.userID).Debug("notification write failed")
		return err
	}
	return nil
}
