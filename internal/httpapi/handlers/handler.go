package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mindflow/internal/auth"
	"github.com/suPer8Hu/mindflow/internal/chat"
	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/httpapi/middleware"
	"github.com/suPer8Hu/mindflow/internal/live"
	"github.com/suPer8Hu/mindflow/internal/moderation"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/store/rabbitmq"
)

// JobPublisher enqueues asynchronous chat turns.
type JobPublisher interface {
	PublishJob(ctx context.Context, msg rabbitmq.JobMessage) error
}

// LiveSource hands out live-event subscriptions.
type LiveSource interface {
	Subscribe(userID uint64) (<-chan live.Event, func())
}

type Handler struct {
	ChatSvc  *chat.Service
	ForumSvc *moderation.Service
	Jobs     JobPublisher
	Live     LiveSource

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func NewHandler(chatSvc *chat.Service, forumSvc *moderation.Service, jobs JobPublisher, hub LiveSource) *Handler {
	return &Handler{
		ChatSvc:   chatSvc,
		ForumSvc:  forumSvc,
		Jobs:      jobs,
		Live:      hub,
		Heartbeat: 15 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// Me echoes the identity carried by the bearer token.
func (h *Handler) Me(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, gin.H{"user_id": uid, "role": c.GetString(middleware.RoleKey)})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok && id != 0
}

func viewerFromContext(c *gin.Context) (moderation.Viewer, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return moderation.Viewer{}, false
	}
	return moderation.Viewer{UserID: uid, Moderator: c.GetString(middleware.RoleKey) == auth.RoleModerator}, true
}

// failErr writes the envelope for a service error. Client errors carry the
// service message; server errors are logged and reported generically.
func failErr(c *gin.Context, op string, err error) {
	status, code := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(c.Request.Context()).Error(op+" failed", "error", err)
		msg := "internal error"
		if errors.Is(err, common.ErrServiceUnavailable) {
			msg = "service temporarily unavailable"
		}
		common.Fail(c, status, code, msg)
		return
	}
	common.Fail(c, status, code, err.Error())
}
