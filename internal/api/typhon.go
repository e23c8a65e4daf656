package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"typhonrelay/internal/auth"
	"typhonrelay/internal/chat"
	"typhonrelay/internal/completion"
	"typhonrelay/internal/models"
)

func (h *Handler) registerTyphon(g *gin.RouterGroup) {
	g.GET("/ping", h.ping)
	g.POST("/generate", h.generate)
	g.POST("/chat", h.chatCompletions)
	g.POST("/proxy", h.proxy)
	g.GET("/proxy", h.proxyUsage)

	authMW := h.auth.Middleware()
	g.POST("/session/:id/message", authMW, h.sessionMessage)
	g.GET("/session/:id/history", authMW, h.sessionHistory)
	g.DELETE("/session/:id", authMW, h.sessionClear)
}

func (h *Handler) ping(c *gin.Context) {
	info := gin.H{
		"provider":   h.typhon.Provider,
		"hasBaseUrl": h.typhon.BaseURL != "",
		"hasApiKey":  h.typhon.APIKey != "",
		"model":      h.orchestrator.DefaultModel(),
	}
	if h.typhon.BaseURL == "" || h.typhon.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":     false,
			"message":     "Missing Typhon config",
			"info":        info,
			"requiredEnv": []string{"AITYPHON_BASE_URL", "AITYPHON_API_KEY"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Typhon config ready", "info": info})
}

type generateRequest struct {
	Prompt  string            `json:"prompt"`
	Options completion.Params `json:"options"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing prompt",
			"example": gin.H{"prompt": "Write a poem about technology"},
		})
		return
	}
	params := req.Options
	if params.Model == "" {
		params.Model = h.orchestrator.DefaultModel()
	}
	messages := []models.Message{{Role: models.RoleUser, Content: req.Prompt}}
	result, err := h.completion.Complete(c.Request.Context(), completion.NewRequest(messages, params))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"pathUsed": result.PathUsed,
		"reply":    chat.ExtractReply(result.Data, chat.DefaultExtractors),
		"result":   result.Data,
	})
}

func (h *Handler) chatCompletions(c *gin.Context) {
	var req completion.Request
	if err := c.ShouldBindJSON(&req); err != nil || (req.Messages == nil && req.Prompt == "") {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Body must include messages[] or prompt",
			"example": gin.H{
				"model":    h.orchestrator.DefaultModel(),
				"messages": []models.Message{{Role: models.RoleUser, Content: "Say hello in Thai"}},
			},
		})
		return
	}
	if req.Model == "" {
		req.Model = h.orchestrator.DefaultModel()
	}
	result, err := h.completion.Complete(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pathUsed": result.PathUsed, "result": result.Data})
}

func (h *Handler) proxy(c *gin.Context) {
	var call completion.ProxyCall
	if err := c.ShouldBindJSON(&call); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if call.Method == "" {
		call.Method = http.MethodPost
	}
	if call.Path == "" {
		call.Path = "/"
	}
	if !strings.HasPrefix(call.Path, "/") {
		h.handleError(c, completion.ErrInvalidPath)
		return
	}
	proxier, ok := h.completion.(completion.Proxier)
	if !ok {
		h.handleError(c, completion.ErrProxyUnsupported)
		return
	}
	result, err := proxier.Proxy(c.Request.Context(), call)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *Handler) proxyUsage(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{
		"success": false,
		"message": "Use POST /ai-typhon/proxy with JSON body",
		"howTo":   "Send method, path, data, params in JSON body",
		"example": gin.H{
			"method": http.MethodPost,
			"path":   "/v1/chat/completions",
			"data": gin.H{
				"model":    h.orchestrator.DefaultModel(),
				"messages": []models.Message{{Role: models.RoleUser, Content: "Say hello in Thai"}},
			},
		},
	})
}

type sessionMessageRequest struct {
	Content *string `json:"content"`
	Role    string  `json:"role"`
	System  string  `json:"system"`
	completion.Params
}

func (h *Handler) sessionMessage(c *gin.Context) {
	player, _ := auth.PlayerFromContext(c)
	sessionID := c.Param("id")

	var req sessionMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		badRequest(c, "content is required (string)")
		return
	}

	out, err := h.orchestrator.Submit(c.Request.Context(), chat.SubmitInput{
		User:      player,
		SessionID: sessionID,
		Content:   *req.Content,
		Role:      models.Role(req.Role),
		System:    req.System,
		Params:    req.Params,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"sessionId":   sessionID,
		"sessionKey":  out.SessionKey,
		"pathUsed":    out.PathUsed,
		"reply":       out.Reply,
		"historySize": out.HistorySize,
		"raw":         out.Raw,
	})
}

func (h *Handler) sessionHistory(c *gin.Context) {
	player, _ := auth.PlayerFromContext(c)
	sessionID := c.Param("id")
	key, messages := h.orchestrator.History(player, sessionID)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  sessionID,
		"sessionKey": key,
		"messages":   messages,
	})
}

func (h *Handler) sessionClear(c *gin.Context) {
	player, _ := auth.PlayerFromContext(c)
	sessionID := c.Param("id")
	key, existed := h.orchestrator.Clear(player, sessionID)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  sessionID,
		"sessionKey": key,
		"cleared":    existed,
	})
}
