package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/collab/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump owns the connection's inbound stream; events are handled in
// receipt order. Any exit is a Disconnect.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		ctl.Orch.Disconnect(ctx, sid)
		cancel()
		c.Close()
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, codeBadPayload)
		return
	}

	switch env.Type {
	case core.EventJoin:
		ctl.handleJoin(ctx, sid, c, data)
	case eventLeave:
		ctl.handleLeave(sid, c)
	case core.EventPing:
		ctl.handlePing(c)
	case core.EventRename:
		ctl.handleRename(sid, c, data)
	case core.EventWhoAmI:
		ctl.handleWhoAmI(sid, c)
	case core.EventCodeUpdate:
		ctl.handleCodeUpdate(sid, c, data)
	case core.EventSyncCode:
		ctl.handleSyncCode(sid, c, data)
	case core.EventExecutionOutput:
		ctl.handleOutput(sid, c, data)
	case core.EventCursor, core.EventSelection:
		ctl.handleAnnotation(sid, c, env.Type, data)
	case core.EventChatSend:
		ctl.handleChat(ctx, sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, codeUnknownType)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(f)
}

// decode unmarshals a typed payload, answering bad_payload on failure.
func (ctl *SignalWSController) decode(c *WsSignalConn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad payload")
		ctl.sendError(c, codeBadPayload)
		return false
	}
	return true
}
