package signal

import (
	"errors"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
)

const eventLeave = "leave"

// Error codes sent in {"type":"error"} frames, to the originating
// connection only.
const (
	codeInvalidRoom    = "invalid_room"
	codeEmptyMessage   = "empty_message"
	codeDeliveryFailed = "delivery_failed"
	codeNotInRoom      = "not_in_room"
	codeAlreadyInRoom  = "already_in_room"
	codeIdentityFixed  = "identity_fixed"
	codeInvalidName    = "invalid_name"
	codeBadPayload     = "bad_payload"
	codeUnknownType    = "unknown_type"
	codeInternal       = "internal_error"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRoom):
		return codeInvalidRoom
	case errors.Is(err, domain.ErrEmptyMessage):
		return codeEmptyMessage
	case errors.Is(err, chat.ErrPersistence):
		return codeDeliveryFailed
	case errors.Is(err, app.ErrNotInRoom), errors.Is(err, app.ErrUnknownSession):
		return codeNotInRoom
	case errors.Is(err, app.ErrAlreadyInRoom):
		return codeAlreadyInRoom
	case errors.Is(err, app.ErrIdentityFixed):
		return codeIdentityFixed
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong):
		return codeInvalidName
	default:
		return codeInternal
	}
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string) {
	ctl.sendJSON(conn, core.ErrorEvent{Type: core.EventError, Error: code})
}

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: core.EventPong,
	}
	ctl.sendJSON(conn, resp)
}
