package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"wa-scheduler/internal/adapters/storage"
	"wa-scheduler/internal/adapters/telegram"
	"wa-scheduler/internal/adapters/whatsapp"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/config"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/infra/metrics"
	"wa-scheduler/internal/infra/queue"
	"wa-scheduler/internal/usecase/delivery"
	"wa-scheduler/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("sender: неизвестный часовой пояс")
	}
	domain.SetLocation(loc)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.MetricsAddr)

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sender: хранилище недоступно")
	}
	defer backend.Close()

	q, closeQueue, err := queue.Open(cfg.Queues.Driver, backend.Redis, cfg.RabbitURL, cfg.Queues.Delivery)
	if err != nil {
		logger.Fatal().Err(err).Msg("sender: очередь доставки недоступна")
	}
	defer closeQueue()

	session, err := whatsapp.Open(ctx, whatsapp.SessionConfig{Dialect: cfg.WhatsApp.Dialect, DSN: cfg.WhatsApp.SessionDSN}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sender: WhatsApp недоступен")
	}
	defer session.Close()

	sender := whatsapp.NewSender(session.Client, whatsapp.SenderConfig{
		RPS:       cfg.WhatsApp.SendRPS,
		Burst:     cfg.WhatsApp.SendBurst,
		GroupsTTL: cfg.WhatsApp.GroupsTTL,
	}, logger)
	scheduleService := schedule.NewService(backend.Schedules, schedule.Policy{
		CreateThreshold: cfg.CreateThreshold(),
		EditThreshold:   cfg.EditThreshold(),
		CrossCheckBatch: cfg.Schedule.CrossCheckBatch,
		Rebase:          cfg.Schedule.Rebase,
	}, logger)

	notifier := telegram.Dial(cfg.Telegram.Token, cfg.Telegram.OperatorChatID, logger)

	processor := delivery.NewProcessor(sender, scheduleService, backend.Finished, notifier, logger)
	logger.Info().Str("queue", cfg.Queues.Delivery).Str("driver", cfg.Queues.Driver).Msg("sender: старт")
	delivery.NewWorker(q, processor, logger).Run(ctx)
	logger.Info().Msg("sender: остановка")
}
