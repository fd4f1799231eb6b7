package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

var errSlowConsumer = errors.New("send buffer full")

// clientConn owns all writes to one websocket connection. Sends are queued
// and drained by a single writer goroutine, so room fan-outs never block on a
// slow client; a full queue drops the frame and the participant is pruned
// when its connection dies.
type clientConn struct {
	rawConn *websocket.Conn
	out     chan []byte
	done    chan struct{}
}

func newClientConn(rawConn *websocket.Conn) *clientConn {
	c := &clientConn{
		rawConn: rawConn,
		out:     make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop drains the send queue and keeps the connection alive with pings.
// It exits on the first failed write; the reader notices the dead connection
// and detaches the participant.
func (c *clientConn) writeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.out:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.rawConn.Close()
				return
			}
		case <-ticker.C:
			if err := c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.rawConn.Close()
				return
			}
		}
	}
}

// enqueue hands a frame to the writer without blocking.
func (c *clientConn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.out <- b:
		return nil
	default:
		return errSlowConsumer
	}
}

// Send implements room.ChatClient: one named event pushed to this client.
func (c *clientConn) Send(event string, body any) error {
	b, err := json.Marshal(outEnvelope{Event: event, Body: body})
	if err != nil {
		return err
	}
	return c.enqueue(b)
}
