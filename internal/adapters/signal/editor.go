package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/collab/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCodeUpdate(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Code string `json:"code"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.PublishCode(sid, p.Code); err != nil {
		ctl.sendError(conn, errorCode(err))
	}
}

// handleSyncCode forwards a peer's answer to a sync_request. A target that
// has gone away is dropped without telling anyone.
func (ctl *SignalWSController) handleSyncCode(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		SocketID core.SessionID `json:"socketId"`
		Code     string         `json:"code"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	err := ctl.Orch.SyncCode(sid, p.SocketID, p.Code)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnknownTarget), errors.Is(err, core.ErrBackpressure), errors.Is(err, core.ErrConnectionClosed):
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("target", string(p.SocketID)).Msg("sync code dropped")
	default:
		ctl.sendError(conn, errorCode(err))
	}
}

func (ctl *SignalWSController) handleOutput(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Output string `json:"output"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.PublishOutput(sid, p.Output); err != nil {
		ctl.sendError(conn, errorCode(err))
	}
}

// handleAnnotation accepts the position under "position" or under the
// event's own name ("cursor" / "selection").
func (ctl *SignalWSController) handleAnnotation(sid core.SessionID, conn *WsSignalConn, kind string, data []byte) {
	var p struct {
		Position  json.RawMessage `json:"position"`
		Cursor    json.RawMessage `json:"cursor"`
		Selection json.RawMessage `json:"selection"`
		Color     string          `json:"color"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	pos := p.Position
	if len(pos) == 0 {
		if kind == core.EventCursor {
			pos = p.Cursor
		} else {
			pos = p.Selection
		}
	}
	// best effort; annotations outside a room are ignored
	_ = ctl.Orch.PublishAnnotation(sid, kind, pos, p.Color)
}
