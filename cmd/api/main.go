package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/adapters/api"
	"wa-scheduler/internal/adapters/storage"
	"wa-scheduler/internal/adapters/telegram"
	"wa-scheduler/internal/adapters/whatsapp"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/config"
	httpinfra "wa-scheduler/internal/infra/http"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/infra/metrics"
	"wa-scheduler/internal/infra/queue"
	"wa-scheduler/internal/usecase/delivery"
	"wa-scheduler/internal/usecase/groups"
	"wa-scheduler/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("api: неизвестный часовой пояс")
	}
	domain.SetLocation(loc)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Driver == "http" {
		logger.Fatal().Msg("api: STORE_DRIVER=http недопустим для самого API")
	}
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: хранилище недоступно")
	}
	defer backend.Close()

	scheduleService := schedule.NewService(backend.Schedules, policyFrom(cfg), logger)
	groupService := groups.NewService(backend.Groups)

	var (
		engine  *delivery.Engine
		session *whatsapp.Session
	)
	switch cfg.Delivery.Mode {
	case "queue":
		q, closeQueue, err := queue.Open(cfg.Queues.Driver, backend.Redis, cfg.RabbitURL, cfg.Queues.Delivery)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: очередь доставки недоступна")
		}
		defer closeQueue()
		engine = newEngine(cfg, scheduleService, delivery.NewQueueDispatcher(q), backend.Lock, logger)
	default:
		if cfg.WhatsApp.Enabled {
			session, err = whatsapp.Open(ctx, whatsapp.SessionConfig{Dialect: cfg.WhatsApp.Dialect, DSN: cfg.WhatsApp.SessionDSN, DeferLogin: true}, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("api: WhatsApp недоступен")
			}
			defer session.Close()
			sender := whatsapp.NewSender(session.Client, whatsapp.SenderConfig{
				RPS:       cfg.WhatsApp.SendRPS,
				Burst:     cfg.WhatsApp.SendBurst,
				GroupsTTL: cfg.WhatsApp.GroupsTTL,
			}, logger)
			processor := delivery.NewProcessor(sender, scheduleService, backend.Finished, telegram.Dial(cfg.Telegram.Token, cfg.Telegram.OperatorChatID, logger), logger)
			engine = newEngine(cfg, scheduleService, processor, backend.Lock, logger)
		} else {
			logger.Warn().Msg("api: WA_ENABLED=false, движок доставки отключён")
		}
	}

	handlerCfg := api.Config{
		Schedules:      backend.Schedules,
		Finished:       backend.Finished,
		Groups:         groupService,
		UploadsDir:     cfg.Uploads.Dir,
		UploadMaxBytes: cfg.Uploads.MaxBytes,
		Threshold:      cfg.CreateThreshold(),
	}
	if engine != nil {
		handlerCfg.Engine = engine
		if cfg.Delivery.AutoStart {
			if err := engine.Start(ctx); err != nil {
				logger.Fatal().Err(err).Msg("api: не удалось запустить движок")
			}
		}
	}
	if session != nil {
		handlerCfg.Session = session
	}

	srv := httpinfra.NewServer(logger)
	srv.Router.Group(func(r chi.Router) {
		r.Use(httpinfra.TokenAuthMiddleware(cfg.APIToken))
		api.New(handlerCfg, logger).Routes(r)
	})

	go func() {
		if err := srv.Start(addr(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	if engine != nil && engine.Running() {
		_ = engine.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newEngine(cfg config.AppConfig, lister delivery.Lister, dispatcher delivery.Dispatcher, lock domain.Cache, logger zerolog.Logger) *delivery.Engine {
	return delivery.NewEngine(lister, dispatcher, lock, delivery.EngineConfig{
		Spec:    cfg.Delivery.Cron,
		Grace:   cfg.Delivery.Grace,
		LockTTL: cfg.Delivery.LockTTL,
	}, logger)
}

func policyFrom(cfg config.AppConfig) schedule.Policy {
	return schedule.Policy{
		CreateThreshold: cfg.CreateThreshold(),
		EditThreshold:   cfg.EditThreshold(),
		CrossCheckBatch: cfg.Schedule.CrossCheckBatch,
		Rebase:          cfg.Schedule.Rebase,
	}
}

func addr(port int) string {
	return ":" + strconv.Itoa(port)
}
