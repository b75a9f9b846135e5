package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/session"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a silent peer stays connected.
	pongWait = 60 * time.Second
	// pingPeriod must be under pongWait so pings keep the read
	// deadline fresh.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The engine binds to loopback; same-origin enforcement is left to
	// any fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades the connection and forwards the session's hub
// events until either side goes away. A dropped viewer only prunes its
// subscription; the session keeps running.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	sess, err := s.registry.Get(ticket)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	sub := s.hub.Subscribe(ticket)
	log := s.log.WithTicket(ticket)
	log.Debug("stream opened")

	go s.writePump(conn, sub, sess)
	s.readPump(conn)

	s.hub.Unsubscribe(sub)
	log.Debug("stream closed")
}

// readPump discards inbound frames; it exists to process control
// messages and to notice the peer going away.
func (s *Server) readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub events as JSON frames and keeps the peer alive
// with pings. A quiet interval gets a state snapshot instead, so a
// freshly connected viewer sees where the session stands without
// waiting for the next change. It exits when the subscription closes or
// a write fails.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscription, sess *session.Session) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	snapshot := time.NewTicker(s.cfg.StreamInterval())
	defer snapshot.Stop()
	defer conn.Close()

	quiet := true
	for {
		select {
		case ev, ok := <-sub.Events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session destroyed; tell the peer and go.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session destroyed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.WithTicket(sess.Ticket).Debug("stream write failed", "error", err.Error())
				return
			}
			quiet = false
		case <-snapshot.C:
			if !quiet {
				quiet = true
				continue
			}
			snap := sess.Snapshot()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(hub.Event{
				Type:           hub.EventState,
				Ticket:         snap.Ticket,
				Stage:          snap.Stage,
				Mode:           snap.Mode,
				NeedsAttention: snap.NeedsAttention,
				Reason:         snap.AttentionReason,
				Timestamp:      time.Now(),
			}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
