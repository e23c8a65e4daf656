package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"typhonrelay/internal/facebook"
	"typhonrelay/internal/logging"
)

func (h *Handler) registerFacebook(g *gin.RouterGroup) {
	g.Use(h.auth.Middleware())
	g.POST("/post", h.facebookPost)
	g.GET("/token", h.facebookToken)
	g.PATCH("/token", h.facebookUpdateToken)
	g.GET("/verify", h.facebookVerifyQuery)
	g.POST("/verify", h.facebookVerifyBody)
}

type facebookPostRequest struct {
	Message string `json:"message"`
	Link    string `json:"link"`
}

func (h *Handler) facebookPost(c *gin.Context) {
	var req facebookPostRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		badRequest(c, "message is required")
		return
	}
	result, err := h.facebook.PostToPageFeed(c.Request.Context(), strings.TrimSpace(req.Message), strings.TrimSpace(req.Link))
	if err != nil {
		h.facebookError(c, err, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *Handler) facebookToken(c *gin.Context) {
	c.JSON(http.StatusOK, credentialsBody(h.facebook.Credentials()))
}

type facebookCredentialsRequest struct {
	PageID       string `json:"pageId" form:"pageId"`
	AccessToken  string `json:"accessToken" form:"accessToken"`
	GraphVersion string `json:"graphVersion" form:"graphVersion"`
}

func (r facebookCredentialsRequest) credentials() facebook.Credentials {
	return facebook.Credentials{
		PageID:       strings.TrimSpace(r.PageID),
		AccessToken:  strings.TrimSpace(r.AccessToken),
		GraphVersion: strings.TrimSpace(r.GraphVersion),
	}
}

func (h *Handler) facebookUpdateToken(c *gin.Context) {
	var req facebookCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	update := req.credentials()
	if update.PageID == "" && update.AccessToken == "" {
		badRequest(c, "Nothing to update")
		return
	}
	if h.envStore != nil {
		if err := h.envStore.Save(update); err != nil {
			logging.L().Error("persist facebook credentials failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
	}
	creds := h.facebook.UpdateCredentials(update)
	logging.L().Info("facebook credentials updated", zap.String("page_id", creds.PageID), zap.String("graph_version", creds.GraphVersion))
	c.JSON(http.StatusOK, credentialsBody(creds))
}

func (h *Handler) facebookVerifyQuery(c *gin.Context) {
	var req facebookCredentialsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query")
		return
	}
	override := req.credentials()
	h.facebookVerify(c, override, override != facebook.Credentials{})
}

func (h *Handler) facebookVerifyBody(c *gin.Context) {
	var req facebookCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	h.facebookVerify(c, req.credentials(), true)
}

// facebookVerify checks page access without persisting any override.
func (h *Handler) facebookVerify(c *gin.Context, override facebook.Credentials, overridden bool) {
	data, used, err := h.facebook.VerifyPageAccess(c.Request.Context(), override)
	if err != nil {
		msg := err.Error()
		var gErr *facebook.GraphError
		if errors.As(err, &gErr) {
			msg = gErr.Message
		}
		h.facebookError(c, err, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"data":         data,
		"graphVersion": used.GraphVersion,
		"used":         gin.H{"pageId": used.PageID, "graphVersion": used.GraphVersion},
		"override":     overridden,
	})
}

func (h *Handler) facebookError(c *gin.Context, err error, msg string) {
	var gErr *facebook.GraphError
	if errors.As(err, &gErr) {
		logging.L().Warn("graph api call failed", zap.Int("status", gErr.Status), zap.String("message", gErr.Message))
		c.JSON(gErr.HTTPStatus(), gin.H{"success": false, "error": msg, "details": gErr})
		return
	}
	logging.L().Error("facebook request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msg, "details": nil})
}

func credentialsBody(creds facebook.Credentials) gin.H {
	return gin.H{
		"success":           true,
		"pageId":            creds.PageID,
		"accessTokenMasked": facebook.MaskToken(creds.AccessToken),
		"graphVersion":      creds.GraphVersion,
	}
}
