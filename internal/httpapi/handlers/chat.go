package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mindflow/internal/chat"
	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/store/rabbitmq"
)

type sendMessageReq struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Language  string         `json:"language"`
	Context   map[string]any `json:"context"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.SendMessage(c.Request.Context(), chat.SendInput{
		UserID:    uid,
		SessionID: req.SessionID,
		Text:      req.Message,
		Language:  req.Language,
		Context:   req.Context,
	})
	if err != nil {
		failErr(c, "send message", err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "async chat disabled")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 40001, "message is empty")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	ctx := c.Request.Context()
	if req.SessionID != "" {
		if _, err := h.ChatSvc.GetConversation(ctx, uid, req.SessionID); err != nil {
			failErr(c, "async session lookup", err)
			return
		}
	}

	jobID, err := common.NewULID()
	if err != nil {
		failErr(c, "new job id", err)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		SessionID:      req.SessionID,
		Language:       lang,
		Prompt:         req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	job, created, err := h.ChatSvc.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		failErr(c, "create job", err)
		return
	}

	// Enqueue only when a new job was created
	if created {
		msg := rabbitmq.JobMessage{JobID: job.ID, RequestID: observability.RequestID(ctx)}
		if err := h.Jobs.PublishJob(ctx, msg); err != nil {
			observability.LoggerFromContext(ctx).Error("publish job failed", "job_id", job.ID, "error", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": job.ID, "status": job.Status, "created": created},
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	job, err := h.ChatSvc.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		failErr(c, "get job", err)
		return
	}
	common.OK(c, gin.H{"job": job})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))

	sessions, total, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, chat.SessionStatus(c.Query("status")), page, size)
	if err != nil {
		failErr(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions, "total": total})
}

func (h *Handler) GetConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sess, err := h.ChatSvc.GetConversation(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failErr(c, "get conversation", err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) UpdateSessionContext(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req struct {
		Context map[string]any `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.UpdateSessionContext(c.Request.Context(), uid, c.Param("session_id"), req.Context); err != nil {
		failErr(c, "update context", err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id")})
}

func (h *Handler) CloseSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sess, err := h.ChatSvc.CloseSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failErr(c, "close session", err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		failErr(c, "delete session", err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.SubmitFeedback(c.Request.Context(), uid, c.Param("session_id"), req.Rating, req.Comment); err != nil {
		failErr(c, "submit feedback", err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id")})
}

func (h *Handler) AnalyzeMood(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	mood, err := h.ChatSvc.AnalyzeMood(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failErr(c, "analyze mood", err)
		return
	}
	common.OK(c, mood)
}

func (h *Handler) WellnessSuggestions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req struct {
		Profile map[string]any `json:"profile"`
	}
	// allow empty body
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}
	out, err := h.ChatSvc.GenerateWellnessSuggestions(c.Request.Context(), uid, c.Param("session_id"), req.Profile)
	if err != nil {
		failErr(c, "wellness suggestions", err)
		return
	}
	common.OK(c, gin.H{"suggestions": out})
}

// ChatEvents streams the caller's live events (typing, reply, crisis) as SSE.
func (h *Handler) ChatEvents(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Live == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50303, "live events disabled")
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50001, "streaming unsupported")
		return
	}

	events, cancel := h.Live.Subscribe(uid)
	defer cancel()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeJSON(ev.Kind, ev)
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}
