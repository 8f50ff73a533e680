package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsWriteTimeout bounds how long a single event send may block before the
// connection is considered dead.
const wsWriteTimeout = 5 * time.Second

// wsCatchupLimit caps how many recent runs have their events replayed to a
// freshly connected client before it starts receiving live broadcasts.
const wsCatchupLimit = 100

// handleWS handles GET /api/ws: upgrades to a WebSocket, replays a bounded
// window of recent events (catchup), then streams everything the Supervisor
// broadcasts from here forward until the client disconnects.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()

	// Subscribe before catchup so no event can land in the gap between the
	// catchup query and the live feed starting.
	sub := s.sup.Subscribe(64)
	defer s.sup.Unsubscribe(sub)

	s.sendCatchup(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendCatchup replays the events of up to wsCatchupLimit most recent runs,
// as GetRecentRuns groups them, so a newly connected client isn't starting
// from a blank slate.
func (s *Server) sendCatchup(ctx context.Context, conn *websocket.Conn) {
	summaries, err := s.sup.GetRecentRuns(ctx, wsCatchupLimit)
	if err != nil {
		return
	}
	for _, sum := range summaries {
		for _, e := range sum.Events {
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
