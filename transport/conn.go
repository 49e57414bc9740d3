package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
)

// wsSink adapts one websocket connection to the EventSink the registry and
// router push into. Consume never blocks: events go into a buffered channel
// drained by the write pump, and a full buffer drops the event for this
// connection only, as if it were offline.
type wsSink struct {
	conn *domain.Connection
	ws   *websocket.Conn
	out  chan event.ServerEvent
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWSSink(log *slog.Logger, conn *domain.Connection, ws *websocket.Conn, bufferSize int) *wsSink {
	return &wsSink{
		conn: conn,
		ws:   ws,
		out:  make(chan event.ServerEvent, bufferSize),
		log:  log,
		done: make(chan struct{}),
	}
}

func (s *wsSink) Consume(ctx context.Context, e event.ServerEvent) error {
	select {
	case <-s.done:
		return errs.ErrClosed
	case s.out <- e:
		return nil
	default:
		return fmt.Errorf("%w: outbound buffer full for %s", errs.ErrTransport, s.conn.ID)
	}
}

// writePump owns all writes to the websocket: queued events and heartbeat
// pings. Gorilla permits a single concurrent writer, so nothing else may
// call a Write method on s.ws.
func (s *wsSink) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.ws.Close()

	for {
		select {
		case <-s.done:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case evt := <-s.out:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(ToFrame(evt)); err != nil {
				s.log.Debug("Write failed, closing connection",
					"connection_id", s.conn.ID, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *wsSink) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
