package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
)

// Channel timing defaults.
const (
	DefaultKeepalive   = 25 * time.Second
	DefaultIdleTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
)

// Handler upgrades HTTP requests into session channels.
type Handler struct {
	svc         *Service
	secret      []byte
	keepalive   time.Duration
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
	log         *logging.Logger
}

// HandlerConfig holds handler construction parameters.
type HandlerConfig struct {
	Service     *Service
	JWTSecret   []byte
	Keepalive   time.Duration
	IdleTimeout time.Duration
	Logger      *logging.Logger
}

// NewHandler creates a session Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	keepalive := cfg.Keepalive
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		svc:         cfg.Service,
		secret:      cfg.JWTSecret,
		keepalive:   keepalive,
		idleTimeout: idle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth replaces origin checks; the channel carries no cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Register mounts the channel endpoint on the router.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/session", h.handle)
}

func (h *Handler) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	auth, err := Authenticate(h.secret, bearerToken(c))
	if err != nil {
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	metrics.SessionConnections.Inc()
	defer metrics.SessionConnections.Dec()

	h.serve(c.Request.Context(), conn, auth)
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// serve runs the channel loop: one reader goroutine processing frames in
// order, plus a keepalive ticker. Frames are handled strictly sequentially.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, auth AuthContext) {
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = writeJSON(Outbound{Type: FrameError, Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case FramePing:
			if err := writeJSON(Outbound{Type: FramePong}); err != nil {
				return
			}

		case FramePrepare:
			pack, err := h.svc.Prepare(ctx, auth, frame.Op, frame.Params)
			if err != nil {
				h.log.Info(ctx, "prepare failed", logging.Fields{
					"op": frame.Op, "user": auth.UserID, "error": err.Error(),
				})
				if werr := writeJSON(errorFrame(err)); werr != nil {
					return
				}
				continue
			}
			if err := writeJSON(Outbound{Type: FramePrepareReady, Pack: pack}); err != nil {
				return
			}

		case FrameSubmit:
			res, err := h.svc.Submit(ctx, auth, frame.InternalID, frame.SignedTransactions)
			if err != nil {
				h.log.Info(ctx, "submit failed", logging.Fields{
					"internal_id": frame.InternalID, "user": auth.UserID, "error": err.Error(),
				})
				if werr := writeJSON(errorFrame(err)); werr != nil {
					return
				}
				continue
			}
			if err := writeJSON(Outbound{Type: FrameSubmitOK, TxID: res.TxID, InternalID: frame.InternalID}); err != nil {
				return
			}

		default:
			if err := writeJSON(Outbound{Type: FrameError, Message: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}
