package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
)

const writeWait = 5 * time.Second

// watchSession upgrades to a websocket and pushes a snapshot whenever the
// session changes. The socket is closed normally once the session is terminal.
// Lifecycle events trigger an immediate re-read; the ticker covers missed or
// absent events.
func (s *Server) watchSession(c echo.Context) error {
	id := c.Param("id")
	snap, err := s.sessions.Status(c.Request().Context(), id)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		log.Debug().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var changes <-chan events.Event
	if s.events != nil {
		if changes, err = s.events.Subscribe(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("watch falling back to polling")
			changes = nil
		}
	}
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	if err := writeSnapshot(conn, snap); err != nil {
		return nil
	}
	last := snap
	for !last.Status.Terminal() {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if e.SessionID != id {
				continue
			}
		case <-ticker.C:
		}

		snap, err := s.sessions.Status(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("session_id", id).Msg("watch read failed")
			continue
		}
		if !changed(last, snap) {
			continue
		}
		if err := writeSnapshot(conn, snap); err != nil {
			return nil
		}
		last = snap
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return nil
}

func writeSnapshot(conn *websocket.Conn, snap pipeline.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

func changed(a, b pipeline.Snapshot) bool {
	return a.Status != b.Status ||
		a.Transcript != b.Transcript ||
		a.AnswerText != b.AnswerText ||
		a.AnswerAudioURL != b.AnswerAudioURL ||
		a.FailureReason != b.FailureReason
}
