package signal

import (
	"context"

	"github.com/dkeye/collab/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId"`
		Username string `json:"username,omitempty"`
	}
	var p joinPayload
	if !ctl.decode(conn, data, &p) {
		return
	}

	if err := ctl.Orch.Join(ctx, sid, p.RoomID, p.Username); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("join rejected")
		ctl.sendError(conn, errorCode(err))
		return
	}
}

// handleLeave tears the whole connection down; the read loop then runs
// the Disconnect transition.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Registry.Cancel(sid)
	conn.Close()
}
