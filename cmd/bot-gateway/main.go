package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"wa-scheduler/internal/adapters/bot"
	"wa-scheduler/internal/adapters/storage"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/config"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/infra/metrics"
	"wa-scheduler/internal/usecase/groups"
	"wa-scheduler/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("bot: неизвестный часовой пояс")
	}
	domain.SetLocation(loc)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: хранилище недоступно")
	}
	defer backend.Close()

	scheduleService := schedule.NewService(backend.Schedules, schedule.Policy{
		CreateThreshold: cfg.CreateThreshold(),
		EditThreshold:   cfg.EditThreshold(),
		CrossCheckBatch: cfg.Schedule.CrossCheckBatch,
		Rebase:          cfg.Schedule.Rebase,
	}, logger)
	groupService := groups.NewService(backend.Groups)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}
	h := bot.NewHandler(botAPI, logger, scheduleService, groupService, backend.Finished, cfg.Telegram.AllowedUsers)

	if cfg.Telegram.WebhookURL == "" {
		logger.Info().Msg("bot: long polling запущен")
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := botAPI.GetUpdatesChan(u)
		for {
			select {
			case <-ctx.Done():
				botAPI.StopReceivingUpdates()
				logger.Info().Msg("bot: остановка")
				return
			case upd := <-updates:
				h.HandleUpdate(ctx, upd)
			}
		}
	}

	wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: неверный адрес webhook")
	}
	if _, err := botAPI.Request(wh); err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось установить webhook")
	}

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.Telegram.WebhookAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.Telegram.WebhookAddr).Msg("bot: webhook сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("bot: HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
