package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ConnectionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		ctl.Relay.Disconnect(id)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(id, c, data)
		}
	}
}

// dispatch routes one inbound frame. A handler failure is that
// connection's problem only; nothing here may take down another
// member's state.
func (ctl *Controller) dispatch(id domain.ConnectionID, c *wsConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json frame")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case core.MsgJoinRoom:
		ctl.handleJoin(id, c, env)
	case core.MsgLeaveRoom:
		ctl.handleLeave(id)
	case core.MsgOffer, core.MsgAnswer, core.MsgICECandidate:
		ctl.handleSignalRoute(id, c, env)
	case core.MsgMediaState:
		ctl.handleMediaState(id, c, env)
	case core.MsgExistingUsers, core.MsgUserJoined, core.MsgUserLeft, core.MsgRoomInfo, core.MsgError:
		// Server-to-client kinds; a client sending them is misbehaving.
		log.Warn().Str("module", "signal").Str("conn", string(id)).
			Str("type", string(env.Type)).Msg("client sent server-bound message")
	default:
		log.Warn().Str("module", "signal").Str("conn", string(id)).
			Str("type", string(env.Type)).Msg("unknown signal type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, t core.MessageType, payload any) {
	env, err := core.NewEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON encode")
		return
	}
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON encode envelope")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, core.MsgError, core.ErrorPayload{Error: msg})
}
