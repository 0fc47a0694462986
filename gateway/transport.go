package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/parley/core/frame"
)

// ErrConnClosed is returned by Send once the connection's write loop has
// terminated.
var ErrConnClosed = errors.New("connection closed")

// wsTransport adapts one WebSocket connection to the session.Transport
// contract. All writes funnel through a single write loop; Send only
// encodes and enqueues, so it is safe for the orchestrator's concurrent
// goroutines (filler, tool narration) to call.
type wsTransport struct {
	conn *websocket.Conn
	cfg  Config

	send chan []byte
	stop chan struct{} // closed by the read loop on exit
	done chan struct{} // closed when the write loop terminates
}

func newWSTransport(conn *websocket.Conn, cfg Config) *wsTransport {
	return &wsTransport{
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendQueue),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// shutdown asks the write loop to terminate. Called by the read loop.
func (t *wsTransport) shutdown() {
	close(t.stop)
}

// Send encodes the frame and enqueues it for the write loop.
func (t *wsTransport) Send(ctx context.Context, f frame.Outbound) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}

	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the sole writer on the connection. It drains the send queue
// and keeps the connection alive with periodic pings; any write failure
// terminates the loop, which surfaces to the reader as a closed connection.
func (t *wsTransport) writeLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(t.done)
		_ = t.conn.Close()
	}()

	for {
		select {
		case data := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.stop:
			return
		}
	}
}
