package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/mindflow/internal/app"
	"github.com/suPer8Hu/mindflow/internal/httpapi"
	"github.com/suPer8Hu/mindflow/internal/httpapi/handlers"
	"github.com/suPer8Hu/mindflow/internal/httpapi/middleware"
	"github.com/suPer8Hu/mindflow/internal/live"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/store/rabbitmq"
)

func main() {
	cfg := app.LoadConfig()
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := live.NewHub(32)
	defer hub.Close()

	core, err := app.NewCore(ctx, cfg, hub)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	// async chat is optional: without a broker the endpoint answers 503
	var jobs handlers.JobPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unavailable, async chat disabled", "error", err)
	} else {
		defer pub.Close()
		jobs = pub
	}

	limiter := middleware.NewLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	h := handlers.NewHandler(core.Chat, core.Forum, jobs, hub)
	r := httpapi.NewRouter(h, httpapi.RouterConfig{
		JWTSecret:    cfg.JWTSecret,
		Limiter:      limiter,
		AllowOrigins: cfg.CORSAllowOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("api shutting down")

	// close live streams first so Shutdown is not held open by SSE clients
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
}
