package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
)

// Websocket keepalive timing
const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsResyncEvery  = 2 * time.Second
)

// jobEvent is one message on the job stream
type jobEvent struct {
	Type     string     `json:"type"` // "update" or "final"
	Download *async.Job `json:"download"`
}

// HandleJobStream upgrades to a websocket and pushes every change of one
// job until it reaches a terminal status, then closes.
func (s *Server) HandleJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Registry.Get(id)
	if err != nil {
		s.handleError(w, r, err, "Stream lookup failed")
		return
	}

	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", logger.FieldJobID, id, logger.FieldError, err)
		return
	}

	updates := s.deps.Registry.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.deps.Registry.Unsubscribe(updates)
		defer conn.Close()
		s.streamJob(conn, job, updates)
	}()
}

func (s *Server) streamJob(conn *websocket.Conn, job *async.Job, updates chan *async.Job) {
	log := s.logger.With(logger.FieldJobID, job.ID)

	// Reader: only pongs and close frames are expected
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(j *async.Job) bool {
		event := jobEvent{Type: "update", Download: j}
		if j.Status.IsTerminal() {
			event.Type = "final"
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(event); err != nil {
			log.Debugw("Websocket write failed", logger.FieldError, err)
			return false
		}
		return !j.Status.IsTerminal()
	}

	last := job.UpdatedAt
	if !send(job) {
		s.closeStream(conn, "download finished")
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	resync := time.NewTicker(wsResyncEvery)
	defer resync.Stop()

	for {
		var next *async.Job
		select {
		case <-s.ctx.Done():
			s.closeStream(conn, "server shutting down")
			return
		case <-closed:
			return
		case update := <-updates:
			if update.ID != job.ID {
				continue
			}
			next = update
		case <-resync.C:
			// Subscriptions drop updates when full; re-read to catch up
			current, err := s.deps.Registry.Get(job.ID)
			if err != nil {
				s.closeStream(conn, "download deleted")
				return
			}
			if !current.UpdatedAt.After(last) {
				continue
			}
			next = current
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		if next.UpdatedAt.Before(last) {
			continue
		}
		last = next.UpdatedAt
		if !send(next) {
			s.closeStream(conn, "download finished")
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
