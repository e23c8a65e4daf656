package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"typhonrelay/internal/auth"
	"typhonrelay/internal/logging"
)

func (h *Handler) registerAuth(g *gin.RouterGroup) {
	g.POST("/pin/login", h.pinLogin)
	authMW := h.auth.Middleware()
	g.GET("/me", authMW, h.me)
	g.POST("/logout", authMW, h.logout)
}

type pinLoginRequest struct {
	PIN string `json:"pin"`
}

func (h *Handler) pinLogin(c *gin.Context) {
	var req pinLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pin is required")
		return
	}
	token, player, err := h.auth.Login(c.Request.Context(), strings.TrimSpace(req.PIN))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPIN):
			badRequest(c, err.Error())
		case errors.Is(err, auth.ErrPlayerNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid PIN"})
		default:
			logging.L().Error("pin login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "login failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     token,
		"user":      player,
		"expiresIn": int64(h.auth.TokenTTL().Seconds()),
	})
}

func (h *Handler) me(c *gin.Context) {
	player, _ := auth.PlayerFromContext(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": player})
}

func (h *Handler) logout(c *gin.Context) {
	token, _ := auth.AuthTokenFromContext(c)
	if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
		logging.L().Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
