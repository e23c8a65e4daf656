package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"typhonrelay/internal/auth"
	"typhonrelay/internal/chat"
	"typhonrelay/internal/completion"
	"typhonrelay/internal/config"
	"typhonrelay/internal/facebook"
	"typhonrelay/internal/logging"
	"typhonrelay/internal/transcript"
)

// Deps are the services the HTTP layer routes to. Transcript, Facebook and EnvStore may be nil.
type Deps struct {
	Orchestrator *chat.Orchestrator
	Completion   completion.Client
	Auth         *auth.Service
	Transcript   transcript.Sink
	Facebook     *facebook.Client
	EnvStore     *facebook.EnvStore
	Typhon       config.TyphonConfig
	AllowOrigins []string
}

// Handler wires HTTP routes to the orchestrator, the completion client and the side services.
type Handler struct {
	orchestrator *chat.Orchestrator
	completion   completion.Client
	auth         *auth.Service
	transcript   transcript.Sink
	facebook     *facebook.Client
	envStore     *facebook.EnvStore
	typhon       config.TyphonConfig
	allowOrigins []string
	now          func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	return &Handler{
		orchestrator: d.Orchestrator,
		completion:   d.Completion,
		auth:         d.Auth,
		transcript:   d.Transcript,
		facebook:     d.Facebook,
		envStore:     d.EnvStore,
		typhon:       d.Typhon,
		allowOrigins: d.AllowOrigins,
		now:          time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router, each group under its
// canonical prefix and the aliases the web client calls.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(CORS(h.allowOrigins))
	router.GET("/health", h.health)

	for _, prefix := range []string{"/ai-typhon", "/api/chat/ai-typhon"} {
		h.registerTyphon(router.Group(prefix))
	}
	for _, prefix := range []string{"/auth", "/api/login/auth"} {
		h.registerAuth(router.Group(prefix))
	}
	for _, prefix := range []string{"/chat", "/api/chat"} {
		h.registerChatLog(router.Group(prefix))
	}
	if h.facebook != nil {
		for _, prefix := range []string{"/facebook", "/api/facebook"} {
			h.registerFacebook(router.Group(prefix))
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"status":   "ok",
		"sessions": h.orchestrator.Sessions(),
		"time":     h.now().UTC().Format(time.RFC3339),
	})
}

// handleError writes the error envelope shared by the completion routes.
func (h *Handler) handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{
		"success":  false,
		"error":    err.Error(),
		"upstream": nil,
		"attempts": nil,
	}

	var vErr *chat.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, completion.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, completion.ErrProxyUnsupported):
		status = http.StatusNotImplemented
	default:
		if upErr, ok := completion.IsUpstream(err); ok {
			status = upErr.HTTPStatus()
			if upErr.Message != "" {
				body["error"] = upErr.Message
			}
			if len(upErr.Data) > 0 {
				body["upstream"] = upErr.Data
			}
			if len(upErr.Attempts) > 0 {
				body["attempts"] = upErr.Attempts
			}
		}
	}

	log := logging.WithCtx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	} else {
		log.Warn("request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
