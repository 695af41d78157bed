package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/mindflow/internal/auth"
	"github.com/suPer8Hu/mindflow/internal/common"
	"github.com/suPer8Hu/mindflow/internal/httpapi/handlers"
	"github.com/suPer8Hu/mindflow/internal/httpapi/middleware"
	"github.com/suPer8Hu/mindflow/internal/moderation"
)

type RouterConfig struct {
	JWTSecret    string
	Limiter      *middleware.LimiterPool
	AllowOrigins []string
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}

func NewRouter(h *handlers.Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(cors.New(corsConfig(cfg.AllowOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := func(c *gin.Context) { c.Next() }
	if cfg.Limiter != nil {
		limited = middleware.RateLimit(cfg.Limiter)
	}

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.POST("/chat/messages", limited, h.SendChatMessage)
	authGroup.POST("/chat/messages/async", limited, h.SendChatMessageAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)
	authGroup.GET("/chat/events", h.ChatEvents)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetConversation)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteSession)
	authGroup.PUT("/chat/sessions/:session_id/context", h.UpdateSessionContext)
	authGroup.POST("/chat/sessions/:session_id/close", h.CloseSession)
	authGroup.POST("/chat/sessions/:session_id/feedback", h.SubmitFeedback)
	authGroup.GET("/chat/sessions/:session_id/mood", limited, h.AnalyzeMood)
	authGroup.POST("/chat/sessions/:session_id/suggestions", limited, h.WellnessSuggestions)

	// Forum
	authGroup.GET("/forum/posts", h.ListPosts)
	authGroup.GET("/forum/trending", h.TrendingPosts)
	authGroup.POST("/forum/posts", limited, h.CreatePost)
	authGroup.GET("/forum/posts/:id", h.GetPost)
	authGroup.PATCH("/forum/posts/:id", limited, h.UpdatePost)
	authGroup.DELETE("/forum/posts/:id", h.DeleteContent(moderation.KindPost))
	authGroup.POST("/forum/posts/:id/replies", limited, h.CreateReply)
	authGroup.POST("/forum/posts/:id/like", h.ToggleLike(moderation.KindPost))
	authGroup.POST("/forum/posts/:id/report", limited, h.ReportContent(moderation.KindPost))
	authGroup.DELETE("/forum/replies/:id", h.DeleteContent(moderation.KindReply))
	authGroup.POST("/forum/replies/:id/like", h.ToggleLike(moderation.KindReply))
	authGroup.POST("/forum/replies/:id/report", limited, h.ReportContent(moderation.KindReply))

	mod := authGroup.Group("/forum")
	mod.Use(middleware.RequireRole(auth.RoleModerator))
	mod.GET("/crisis", h.ListCrisisContent)
	mod.POST("/posts/:id/review", h.ReviewContent(moderation.KindPost))
	mod.POST("/replies/:id/review", h.ReviewContent(moderation.KindReply))

	return r
}
