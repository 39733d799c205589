package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const APIVersion = "1.0"

type InfoHandler struct{}

func (h *InfoHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Proctoring AI API", "version": APIVersion})
}

func (h *InfoHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
