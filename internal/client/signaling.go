package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// SignalClient is the endpoint's connection to the signaling relay.
// One read pump decoding envelopes onto Incoming, one write pump with a
// ping ticker.
type SignalClient struct {
	conn     *websocket.Conn
	incoming chan core.Envelope
	outgoing chan core.Envelope
	done     chan struct{}

	closeOnce sync.Once
}

func NewSignalClient() *SignalClient {
	return &SignalClient{
		incoming: make(chan core.Envelope, 32),
		outgoing: make(chan core.Envelope, 32),
		done:     make(chan struct{}),
	}
}

// Dial connects to the relay's websocket endpoint and starts the pumps.
func (c *SignalClient) Dial(serverURL string) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return nil
}

// Incoming is the stream of decoded envelopes from the relay. Closed
// when the socket dies.
func (c *SignalClient) Incoming() <-chan core.Envelope { return c.incoming }

// Send queues an envelope for the relay. Best effort: a dead client
// reports an error instead of blocking forever.
func (c *SignalClient) Send(env core.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling client closed")
	}
}

// Close shuts the socket down. Idempotent.
func (c *SignalClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *SignalClient) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "client.signaling").Msg("bad frame from server")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *SignalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			frame, err := env.Encode()
			if err != nil {
				log.Error().Err(err).Str("module", "client.signaling").Msg("encode outgoing")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
