package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/app"
	"github.com/roomlink/roomlink/internal/config"
	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket side of the signaling relay: one socket
// per participant, one read pump and one write pump per socket.
type Controller struct {
	Relay   *app.Relay
	Cfg     *config.Config
	limiter *JoinRateLimiter
}

func NewController(relay *app.Relay, cfg *config.Config) *Controller {
	return &Controller{
		Relay:   relay,
		Cfg:     cfg,
		limiter: NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
	}
}

// wsConn adapts one gorilla socket to core.SignalConnection. Sends are
// buffered and non-blocking; a full buffer drops the frame rather than
// stalling the relay.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, mints a connection id and runs the
// pumps until the socket dies. Socket death carries leave semantics.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.ConnectionID(uuid.NewString())
	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Relay.Store().Register(id, conn)
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		// Unblocks a read pump parked in ReadMessage on shutdown.
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.readPump(ctx, id, conn)
}
