package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/mindflow/internal/app"
	"github.com/suPer8Hu/mindflow/internal/chat"
	"github.com/suPer8Hu/mindflow/internal/notify"
	"github.com/suPer8Hu/mindflow/internal/observability"
	"github.com/suPer8Hu/mindflow/internal/store/rabbitmq"
)

func main() {
	cfg := app.LoadConfig()
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, nil)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	// crisis alerts: the worker is the crisis team's audit trail
	if core.Notifier != nil {
		if err := core.Notifier.Subscribe(func(a notify.Alert) {
			log.Warn("crisis_alert", "kind", a.Kind, "content_id", a.ContentID, "user_id", a.UserID,
				"severity", a.Severity, "queue", a.Queue, "at", a.At)
		}); err != nil {
			log.Error("nats subscribe", "error", err)
		}
	}

	var bg sync.WaitGroup
	archiver, err := chat.NewArchiver(chat.NewRepo(core.DB), cfg.ArchiveCron, cfg.ArchiveIdleAfter)
	if err != nil {
		log.Error("archiver disabled", "error", err)
	} else {
		bg.Add(1)
		go func() {
			defer bg.Done()
			archiver.Run(ctx)
		}()
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Error("rabbit consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries("")
	if err != nil {
		log.Error("consume", "error", err)
		os.Exit(1)
	}

	log.Info("worker started", "queue", consumer.Queue(), "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)
	w := &jobWorker{svc: core.Chat, consumer: consumer, drain: app.TurnBudget(cfg)}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				w.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			bg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				stop()
				msgs = nil
				continue
			}
			jobs <- d
		}
	}
}

type jobWorker struct {
	svc      *chat.Service
	consumer *rabbitmq.Consumer
	drain    time.Duration
}

// handle runs one delivery. A job that started before shutdown finishes on a
// detached context bounded by drain; deliveries not yet started go back to
// the queue.
func (w *jobWorker) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := observability.Logger().With("worker", workerID)

	if ctx.Err() != nil {
		_ = d.Nack(false, true)
		return
	}

	m, err := rabbitmq.DecodeJob(d.Body)
	if err != nil {
		log.Error("bad message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drain)
	defer cancel()
	if m.RequestID != "" {
		jobCtx = observability.WithRequestID(jobCtx, m.RequestID)
		log = log.With("request_id", m.RequestID)
	}

	start := time.Now()
	err = w.svc.RunJob(jobCtx, m.JobID)
	switch {
	case errors.Is(err, chat.ErrJobInFlight):
		// look again once the holder would count as stale
		if err := w.consumer.Defer(jobCtx, d, w.svc.JobStaleAfter()); err != nil {
			log.Error("defer in-flight job", "job_id", m.JobID, "error", err)
			_ = d.Nack(false, false)
			return
		}
		log.Info("job_in_flight_deferred", "job_id", m.JobID)
	case err != nil:
		log.Error("job_timing_failed", "job_id", m.JobID, "total", time.Since(start).String(), "error", err)
		_ = d.Nack(false, false)
		return
	default:
		if total := time.Since(start); total > 2*time.Second {
			log.Info("job_timing", "job_id", m.JobID, "total", total.String())
		}
	}
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", "job_id", m.JobID, "error", err)
	}
}
