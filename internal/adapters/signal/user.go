package signal

import (
	"github.com/dkeye/collab/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}
	var p renamePayload
	if !ctl.decode(conn, data, &p) {
		return
	}

	if err := ctl.Orch.Rename(sid, p.Username); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("rename rejected")
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, ctl.Orch.WhoAmI(sid))
}
