package server

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/MRT0B13/novaos/internal/events"
)

// opsStreamBuffer bounds how far a slow client may lag before events are
// dropped for it. Event handlers run on the publisher's goroutine, so the
// subscription must never block.
const opsStreamBuffer = 64

// handleOpsStream upgrades to a websocket and forwards every in-process
// event to the client as JSON until it disconnects.
func (s *Server) handleOpsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Ops stream upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := make(chan *events.Event, opsStreamBuffer)
	sub := s.deps.Events.SubscribeAll(func(e *events.Event) {
		select {
		case ch <- e:
		default:
			// Slow consumer; drop rather than stall the publisher.
		}
	})
	defer s.deps.Events.Unsubscribe(sub)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Ops stream connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-ch:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				s.log.Debug().Err(err).Msg("Ops stream write failed; closing")
				return
			}
		}
	}
}
