package signal

import (
	"context"

	"github.com/dkeye/collab/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleChat(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Message string `json:"message"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	msg, err := ctl.Orch.SendChat(ctx, sid, p.Message)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("chat rejected")
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, core.ChatSentEvent{Type: core.EventChatSent, CreatedAt: msg.CreatedAt})
}
