package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamWriteTimeout = 10 * time.Second

// StreamMessage is one websocket frame: a segment or an event.
type StreamMessage struct {
	Type    string              `json:"type"`
	Segment *transcript.Segment `json:"segment,omitempty"`
	Event   *orchestrator.Event `json:"event,omitempty"`
}

// handleStream pushes segments and events of the current (or next) session
// until it ends or the client goes away.
// GET /api/v1/session/stream
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	segs := s.pipeline.Subscribe()
	events := s.pipeline.SubscribeEvents()
	defer segs.Close()
	defer events.Close()

	// the reader only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	segC, evC := segs.C, events.C
	for segC != nil || evC != nil {
		var msg StreamMessage
		select {
		case <-gone:
			return
		case seg, ok := <-segC:
			if !ok {
				segC = nil
				continue
			}
			msg = StreamMessage{Type: "segment", Segment: &seg}
		case ev, ok := <-evC:
			if !ok {
				evC = nil
				continue
			}
			msg = StreamMessage{Type: "event", Event: &ev}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("stream client write failed", "error", err)
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
}
