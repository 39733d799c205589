package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/ingest"
	"proctor-stream/internal/session"
)

type StreamHandler struct {
	Sessions      *session.Registry
	Loop          *ingest.Loop
	TokenConfig   auth.TokenConfig
	MaxFrameBytes int64
	Logger        *zap.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errIdentityMismatch = errors.New("token subject does not match stream user")

// Serve upgrades first so that authorization failures reach the client as a
// policy violation close frame.
func (h *StreamHandler) Serve(c *gin.Context) {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	userID := c.Param("userId")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("stream upgrade failed", zap.Error(err))
		return
	}

	claims, err := h.authorize(c.Query("token"), userID)
	if err != nil {
		log.Info("stream rejected", zap.String("user_id", userID), zap.Error(err))
		closeWith(ws, websocket.ClosePolicyViolation, "Invalid authentication token")
		return
	}

	if h.MaxFrameBytes > 0 {
		ws.SetReadLimit(h.MaxFrameBytes)
	}
	sess, conn, err := h.Sessions.Connect(userID, claims.SessionID, newWSTransport(ws))
	switch {
	case errors.Is(err, session.ErrSessionStopped):
		log.Info("stream rejected", zap.String("user_id", userID), zap.String("session_id", claims.SessionID), zap.Error(err))
		closeWith(ws, websocket.ClosePolicyViolation, "Session stopped")
		return
	case err != nil:
		log.Warn("stream not admitted", zap.String("user_id", userID), zap.Error(err))
		closeWith(ws, websocket.CloseTryAgainLater, "Server shutting down")
		return
	}
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	log.Info("stream connected",
		zap.String("user_id", userID),
		zap.String("session_id", sess.ID),
		zap.Uint64("conn_id", conn.ID()))
	h.Loop.Run(c.Request.Context(), conn)
	log.Info("stream closed", zap.String("user_id", userID), zap.Uint64("conn_id", conn.ID()))
}

func (h *StreamHandler) authorize(token, userID string) (*auth.Claims, error) {
	if token == "" {
		return nil, errors.New("missing token")
	}
	claims, err := auth.VerifyToken(token, h.TokenConfig)
	if err != nil {
		return nil, err
	}
	if userID == "" || claims.UserID != userID {
		return nil, errIdentityMismatch
	}
	if claims.Kind != auth.KindStream {
		claims.SessionID = ""
	}
	return claims, nil
}
