package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionNameKey is the gin context key holding the display name remembered
// in the cookie session.
const SessionNameKey = "display_name"

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	cfg  Config
}

func NewSignalWSController(o *orch.Orchestrator, cfg Config) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		cfg:  cfg.withDefaults(),
	}
}

// WsSignalConn is the outbound half of a websocket session. Frames queue
// on send and are written by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	sess, err := ctl.Orch.Connect(conn, cancel)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejecting WS connection")
		cancel()
		conn.Close()
		return
	}
	sid := sess.ID()
	if name := c.GetString(SessionNameKey); name != "" {
		if err := ctl.Orch.Rename(sid, name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ignoring session name")
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
