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

// Отдельный процесс движка доставки. Обычно работает с API через
// STORE_DRIVER=http и передаёт записи в очередь для cmd/sender.
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scheduler: неизвестный часовой пояс")
	}
	domain.SetLocation(loc)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.MetricsAddr)

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: хранилище недоступно")
	}
	defer backend.Close()

	scheduleService := schedule.NewService(backend.Schedules, schedule.Policy{
		CreateThreshold: cfg.CreateThreshold(),
		EditThreshold:   cfg.EditThreshold(),
		CrossCheckBatch: cfg.Schedule.CrossCheckBatch,
		Rebase:          cfg.Schedule.Rebase,
	}, logger)

	var dispatcher delivery.Dispatcher
	if cfg.Delivery.Mode == "queue" {
		q, closeQueue, err := queue.Open(cfg.Queues.Driver, backend.Redis, cfg.RabbitURL, cfg.Queues.Delivery)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: очередь доставки недоступна")
		}
		defer closeQueue()
		dispatcher = delivery.NewQueueDispatcher(q)
	} else {
		session, err := whatsapp.Open(ctx, whatsapp.SessionConfig{Dialect: cfg.WhatsApp.Dialect, DSN: cfg.WhatsApp.SessionDSN}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: WhatsApp недоступен")
		}
		defer session.Close()
		sender := whatsapp.NewSender(session.Client, whatsapp.SenderConfig{
			RPS:       cfg.WhatsApp.SendRPS,
			Burst:     cfg.WhatsApp.SendBurst,
			GroupsTTL: cfg.WhatsApp.GroupsTTL,
		}, logger)
		dispatcher = delivery.NewProcessor(sender, scheduleService, backend.Finished,
			telegram.Dial(cfg.Telegram.Token, cfg.Telegram.OperatorChatID, logger), logger)
	}

	engine := delivery.NewEngine(scheduleService, dispatcher, backend.Lock, delivery.EngineConfig{
		Spec:    cfg.Delivery.Cron,
		Grace:   cfg.Delivery.Grace,
		LockTTL: cfg.Delivery.LockTTL,
	}, logger)
	if err := engine.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось запустить движок")
	}
	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	_ = engine.Stop()
}
