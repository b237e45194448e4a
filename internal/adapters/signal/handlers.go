package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

func (ctl *Controller) handleJoin(id domain.ConnectionID, c *wsConn, env core.Envelope) {
	var p core.JoinRoomPayload
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if p.Room == "" {
		ctl.sendError(c, "empty room")
		return
	}
	if !ctl.limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("join rate limited")
		ctl.sendError(c, "too_many_joins")
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(id)).
		Str("room", p.Room).Str("name", p.DisplayName).Msg("join")
	if err := ctl.Relay.Join(id, p.Room, p.DisplayName); err != nil {
		ctl.sendError(c, err.Error())
	}
}

func (ctl *Controller) handleLeave(id domain.ConnectionID) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	ctl.Relay.Leave(id)
}

func (ctl *Controller) handleSignalRoute(id domain.ConnectionID, c *wsConn, env core.Envelope) {
	var p core.SignalPayload
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).
			Str("type", string(env.Type)).Msg("bad signal payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.Relay.RouteSignal(id, env.Type, p)
}

func (ctl *Controller) handleMediaState(id domain.ConnectionID, c *wsConn, env core.Envelope) {
	var p core.MediaStatePayload
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad media-state payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.Relay.MediaState(id, p)
}
