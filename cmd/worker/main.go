package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"attendtrack/internal/backend"
	"attendtrack/internal/config"
	"attendtrack/internal/logging"
	"attendtrack/internal/queue"
	"attendtrack/internal/sms"
	"attendtrack/internal/store"
)

// Worker drains the SMS outbox into the carrier gateway.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "worker")

	if cfg.QueueBackend != "redis" {
		log.WithField("queue_backend", cfg.QueueBackend).Fatal("worker needs QUEUE_BACKEND=redis; the api drains in-memory queues itself")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.WithField("addr", cfg.RedisAddr).Warn("redis not reachable, will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	gateway := backend.New(cfg.BackendURL, cfg.BackendTimeout)

	log.WithField("gateway", cfg.BackendURL).Info("worker started, waiting for messages")
	n, err := sms.ForwardOutbox(ctx, q, gateway, cfg.BackendTimeout, logging.Component(logger, "outbox"))
	if err != nil {
		log.WithError(err).Fatal("queue consume failed")
	}
	log.WithField("forwarded", n).Info("worker stopped")
}
