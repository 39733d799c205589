package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/middleware"
	"proctor-stream/internal/model"
	"proctor-stream/internal/session"
)

// ExamHandler serves the session control API.
type ExamHandler struct {
	Sessions    *session.Registry
	TokenConfig auth.TokenConfig
	// WSBaseURL overrides the stream URL advertised by start, e.g.
	// wss://proctor.example.com. Derived from the request when empty.
	WSBaseURL string
	Logger    *zap.Logger
}

func (h *ExamHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func sessionJSON(s model.Session, connected bool) gin.H {
	resp := gin.H{
		"userId":    s.UserID,
		"sessionId": s.ID,
		"state":     s.State,
		"connected": connected,
		"createdAt": s.CreatedAt,
		"updatedAt": s.UpdatedAt,
	}
	if s.StartedAt != nil {
		resp["startTime"] = *s.StartedAt
	}
	if s.StoppedAt != nil {
		resp["stopTime"] = *s.StoppedAt
	}
	return resp
}

func (h *ExamHandler) Get(c *gin.Context) {
	userID := c.Param("userId")
	s, ok := h.Sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(s, h.Sessions.IsConnected(userID))})
}

func (h *ExamHandler) Start(c *gin.Context) {
	userID := c.Param("userId")
	res, err := h.Sessions.Start(userID)
	if err != nil {
		h.internalError(c, "start session", err)
		return
	}

	token, err := auth.CreateStreamToken(userID, res.Session.ID, h.TokenConfig)
	if err != nil {
		h.internalError(c, "mint stream token", err)
		return
	}

	resp := gin.H{
		"status":    res.Status,
		"sessionId": res.Session.ID,
		"state":     res.Session.State,
		"stream": gin.H{
			"url":       h.streamURL(c, userID),
			"token":     token,
			"expiresIn": int(h.streamExpiry().Seconds()),
		},
	}
	if res.Session.StartedAt != nil {
		resp["startTime"] = *res.Session.StartedAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ExamHandler) Pause(c *gin.Context) {
	s, err := h.Sessions.Pause(c.Param("userId"))
	h.transitionResponse(c, s, err)
}

func (h *ExamHandler) Resume(c *gin.Context) {
	s, err := h.Sessions.Resume(c.Param("userId"))
	h.transitionResponse(c, s, err)
}

func (h *ExamHandler) transitionResponse(c *gin.Context, s model.Session, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No active session"})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Session is already " + string(s.State)})
	case err != nil:
		h.internalError(c, "session transition", err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "status": s.State, "sessionId": s.ID})
	}
}

func (h *ExamHandler) Stop(c *gin.Context) {
	res, err := h.Sessions.Stop(c.Request.Context(), c.Param("userId"))
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No active session"})
	case err != nil:
		h.internalError(c, "stop session", err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"status":       res.Session.State,
			"sessionId":    res.Session.ID,
			"disconnected": res.Disconnected,
			"markerStored": res.MarkerStored,
		})
	}
}

func (h *ExamHandler) Summary(c *gin.Context) {
	sum, err := h.Sessions.Summarize(c.Request.Context(), c.Param("userId"))
	switch {
	case errors.Is(err, session.ErrNoEvents):
		c.JSON(http.StatusNotFound, gin.H{"error": "No exam logs found"})
	case err != nil:
		h.internalError(c, "summarize", err)
	default:
		c.JSON(http.StatusOK, sum)
	}
}

func (h *ExamHandler) ClearLogs(c *gin.Context) {
	requester, _ := middleware.UserIDFromContext(c)
	n, err := h.Sessions.Clear(c.Request.Context(), requester, c.Param("userId"))
	switch {
	case errors.Is(err, session.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized for this user"})
	case err != nil:
		h.internalError(c, "clear logs", err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
	}
}

func (h *ExamHandler) internalError(c *gin.Context, op string, err error) {
	h.logger().Error(op+" failed", zap.String("user_id", c.Param("userId")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
}

func (h *ExamHandler) streamURL(c *gin.Context, userID string) string {
	base := h.WSBaseURL
	if base == "" {
		scheme := "ws"
		if c.Request.TLS != nil {
			scheme = "wss"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/stream/" + userID
}

func (h *ExamHandler) streamExpiry() time.Duration {
	if h.TokenConfig.StreamExpiry > 0 {
		return h.TokenConfig.StreamExpiry
	}
	return h.TokenConfig.Expiry
}
