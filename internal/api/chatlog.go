package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"typhonrelay/internal/auth"
	"typhonrelay/internal/logging"
	"typhonrelay/internal/models"
	"typhonrelay/internal/transcript"
)

func (h *Handler) registerChatLog(g *gin.RouterGroup) {
	g.POST("/log", h.auth.OptionalMiddleware(), h.appendChatLog)
}

type chatLogRequest struct {
	UserMessage  string `json:"userMessage"`
	BotReply     string `json:"botReply"`
	UserSentAt   string `json:"userSentAt"`
	BotRepliedAt string `json:"botRepliedAt"`
	PlayerName   string `json:"playerName"`
}

// appendChatLog writes one pair row directly, for clients that talk to the model themselves.
func (h *Handler) appendChatLog(c *gin.Context) {
	var req chatLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.UserMessage == "" {
		badRequest(c, "userMessage is required (string)")
		return
	}
	if req.BotReply == "" {
		badRequest(c, "botReply is required (string)")
		return
	}

	now := h.now().UTC()
	userSentAt := parseTimestamp("userSentAt", req.UserSentAt, now)
	botRepliedAt := parseTimestamp("botRepliedAt", req.BotRepliedAt, now)

	playerName := strings.TrimSpace(req.PlayerName)
	if playerName == "" {
		if player, ok := auth.PlayerFromContext(c); ok {
			playerName = player.DisplayName()
		}
	}

	if h.transcript == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": transcript.ErrNotConfigured.Error()})
		return
	}
	appended, err := h.transcript.AppendPair(c.Request.Context(), models.ChatPair{
		PlayerName:   playerName,
		UserMessage:  req.UserMessage,
		UserSentAt:   userSentAt,
		BotReply:     req.BotReply,
		BotRepliedAt: botRepliedAt,
	})
	if err != nil {
		logging.L().Error("chat log append failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appended": appended})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
}

// parseTimestamp accepts the formats browsers commonly send.
// Missing or unrecognised values fall back to the receive time.
func parseTimestamp(field, raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	logging.L().Warn("unrecognised chat log timestamp, using receive time",
		zap.String("field", field), zap.String("value", raw))
	return fallback
}
