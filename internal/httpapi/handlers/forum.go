package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/moderation"
)

type createPostReq struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Type        string   `json:"type"`
	Tags        []string `json:"tags"`
	IsAnonymous bool     `json:"is_anonymous"`
}

func (h *Handler) CreatePost(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req createPostReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, err := h.ForumSvc.CreatePost(c.Request.Context(), moderation.CreatePostInput{
		AuthorID:    v.UserID,
		Title:       req.Title,
		Content:     req.Content,
		Type:        moderation.PostType(req.Type),
		Tags:        req.Tags,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		failErr(c, "create post", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": res})
}

func (h *Handler) CreateReply(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req struct {
		Content     string `json:"content"`
		IsAnonymous bool   `json:"is_anonymous"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, err := h.ForumSvc.CreateReply(c.Request.Context(), moderation.CreateReplyInput{
		AuthorID:    v.UserID,
		PostID:      c.Param("id"),
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		failErr(c, "create reply", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": res})
}

func (h *Handler) UpdatePost(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req struct {
		Title   *string  `json:"title"`
		Content *string  `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.ForumSvc.UpdatePost(c.Request.Context(), v.UserID, c.Param("id"), moderation.UpdatePostInput{
		Title:   req.Title,
		Content: req.Content,
		Tags:    req.Tags,
	})
	if err != nil {
		failErr(c, "update post", err)
		return
	}
	common.OK(c, p)
}

func (h *Handler) GetPost(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	p, err := h.ForumSvc.GetPost(c.Request.Context(), v, c.Param("id"))
	if err != nil {
		failErr(c, "get post", err)
		return
	}
	common.OK(c, p)
}

func (h *Handler) ListPosts(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	posts, total, err := h.ForumSvc.ListPosts(c.Request.Context(), v, moderation.ListFilter{
		Type:     moderation.PostType(c.Query("type")),
		Tag:      c.Query("tag"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		failErr(c, "list posts", err)
		return
	}
	common.OK(c, gin.H{"posts": posts, "total": total})
}

func (h *Handler) TrendingPosts(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	posts, err := h.ForumSvc.Trending(c.Request.Context(), v, limit)
	if err != nil {
		failErr(c, "trending", err)
		return
	}
	common.OK(c, gin.H{"posts": posts})
}

// The handlers below serve both /forum/posts/:id/... and
// /forum/replies/:id/...; kind is fixed at route registration.

func (h *Handler) DeleteContent(kind moderation.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, okk := viewerFromContext(c)
		if !okk {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		if err := h.ForumSvc.DeleteContent(c.Request.Context(), v.UserID, kind, c.Param("id")); err != nil {
			failErr(c, "delete content", err)
			return
		}
		common.OK(c, gin.H{"deleted": true})
	}
}

func (h *Handler) ToggleLike(kind moderation.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, okk := viewerFromContext(c)
		if !okk {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		liked, n, err := h.ForumSvc.ToggleLike(c.Request.Context(), v.UserID, kind, c.Param("id"))
		if err != nil {
			failErr(c, "toggle like", err)
			return
		}
		common.OK(c, gin.H{"liked": liked, "like_count": n})
	}
}

func (h *Handler) ReportContent(kind moderation.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, okk := viewerFromContext(c)
		if !okk {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		if err := h.ForumSvc.ReportContent(c.Request.Context(), v.UserID, kind, c.Param("id"), req.Reason); err != nil {
			failErr(c, "report content", err)
			return
		}
		common.OK(c, gin.H{"reported": true})
	}
}

func (h *Handler) ReviewContent(kind moderation.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, okk := viewerFromContext(c)
		if !okk {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		to := moderation.Status(req.Status)
		if err := h.ForumSvc.ReviewContent(c.Request.Context(), v, kind, c.Param("id"), to); err != nil {
			failErr(c, "review content", err)
			return
		}
		common.OK(c, gin.H{"status": to})
	}
}

func (h *Handler) ListCrisisContent(c *gin.Context) {
	v, okk := viewerFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	out, err := h.ForumSvc.ListCrisisContent(c.Request.Context(), v, limit)
	if err != nil {
		failErr(c, "list crisis content", err)
		return
	}
	common.OK(c, out)
}
