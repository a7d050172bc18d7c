package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/log"
	httpinfra "wa-scheduler/internal/infra/http"
	"wa-scheduler/internal/usecase/conflict"
	"wa-scheduler/internal/usecase/groups"
)

// EngineControl управляет движком доставки.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
}

// SessionState сообщает, подключена ли сессия WhatsApp, и запускает вход.
type SessionState interface {
	Connected() bool
	// Login возвращает QR-код для привязки или пустую строку, если
	// устройство уже привязано.
	Login(ctx context.Context) (string, error)
}

// Config задаёт зависимости обработчиков.
type Config struct {
	Schedules domain.ScheduleStore
	Finished  domain.FinishedStore
	Groups    *groups.Service
	Engine    EngineControl
	Session   SessionState

	UploadsDir     string
	UploadMaxBytes int64
	// Threshold используется только для предупреждений о близких записях
	// при загрузке списка.
	Threshold time.Duration
}

// Handler обслуживает HTTP API хранилища расписаний.
type Handler struct {
	cfg Config
	log zerolog.Logger
}

// New создаёт обработчик.
func New(cfg Config, logger zerolog.Logger) *Handler {
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = "uploads"
	}
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 64 << 20
	}
	return &Handler{cfg: cfg, log: log.Component(logger, "api")}
}

// Routes регистрирует маршруты.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/schedules", h.listSchedules)
	r.Post("/schedules/load", h.loadSchedules)
	r.Post("/schedules/save", h.saveSchedules)

	r.Get("/finished-schedules", h.listFinished)
	r.Post("/finished-schedules", h.appendFinished)
	r.Delete("/finished-schedules/{index}", h.deleteFinished)
	r.Delete("/finished-schedules", h.clearFinished)

	r.Get("/group-names", h.listGroups)
	r.Post("/group-names", h.addGroup)
	r.Delete("/group-names/{name}", h.deleteGroup)

	r.Get("/scheduler/status", h.schedulerStatus)
	r.Post("/scheduler/start", h.schedulerStart)
	r.Post("/scheduler/stop", h.schedulerStop)

	r.Get("/whatsapp/status", h.whatsappStatus)
	r.Post("/whatsapp/login", h.whatsappLogin)
	r.Post("/upload", h.upload)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cfg.Schedules.Fetch(r.Context())
	if err != nil {
		h.internalError(w, "получение расписаний", err)
		return
	}
	domain.SortByTime(entries)
	httpinfra.WriteJSON(w, http.StatusOK, entries)
}

type loadRequest struct {
	Entries *[]domain.Entry `json:"entries"`
}

func (h *Handler) loadSchedules(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid request body: %w", err))
		return
	}

	if req.Entries == nil {
		entries, err := h.cfg.Schedules.Fetch(r.Context())
		if err != nil {
			h.internalError(w, "перечитывание расписаний", err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "loaded", "source": "store", "count": len(entries)})
		return
	}

	entries := *req.Entries
	for i, e := range entries {
		if err := e.CheckShape(); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("entry %d: %w", i, err))
			return
		}
	}
	for _, v := range conflict.Violations(entries, h.cfg.Threshold) {
		h.log.Warn().
			Str("first", domain.FormatWallClock(entries[v.First].ScheduledAt)).
			Str("second", domain.FormatWallClock(entries[v.Second].ScheduledAt)).
			Dur("gap", v.Gap).
			Msg("api: записи ближе порога")
	}
	if err := h.cfg.Schedules.Replace(r.Context(), entries); err != nil {
		h.internalError(w, "замена расписаний", err)
		return
	}
	h.log.Info().Int("count", len(entries)).Msg("api: список заменён")
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "loaded", "source": "body", "count": len(entries)})
}

func (h *Handler) saveSchedules(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cfg.Schedules.Fetch(r.Context()); err != nil {
		h.internalError(w, "проверка хранилища", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) listFinished(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cfg.Finished.ListFinished(r.Context())
	if err != nil {
		h.internalError(w, "получение архива", err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) appendFinished(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var e domain.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := h.cfg.Finished.AppendFinished(r.Context(), e); err != nil {
		h.internalError(w, "пополнение архива", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) deleteFinished(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("index must be an integer"))
		return
	}
	if err := h.cfg.Finished.DeleteFinished(r.Context(), index); err != nil {
		if errors.Is(err, domain.ErrIndexOutOfRange) {
			httpinfra.WriteError(w, http.StatusNotFound, "index_out_of_range", err)
			return
		}
		h.internalError(w, "удаление из архива", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "deleted", "index": index})
}

func (h *Handler) clearFinished(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Finished.ClearFinished(r.Context()); err != nil {
		h.internalError(w, "очистка архива", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	names, err := h.cfg.Groups.List(r.Context())
	if err != nil {
		h.internalError(w, "получение групп", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, names)
}

func (h *Handler) addGroup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid request body"))
		return
	}
	added, err := h.cfg.Groups.Add(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, domain.ErrMissingField) {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		h.internalError(w, "сохранение группы", err)
		return
	}
	if !added {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "exists", "message": "Group name already exists"})
		return
	}
	names, err := h.cfg.Groups.List(r.Context())
	if err != nil {
		h.internalError(w, "получение групп", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "added", "groups": names})
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.cfg.Groups.Delete(r.Context(), name); err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			httpinfra.WriteError(w, http.StatusNotFound, "group_not_found", err)
			return
		}
		h.internalError(w, "удаление группы", err)
		return
	}
	names, err := h.cfg.Groups.List(r.Context())
	if err != nil {
		h.internalError(w, "получение групп", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "deleted", "groups": names})
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cfg.Schedules.Fetch(r.Context())
	if err != nil {
		h.internalError(w, "получение расписаний", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"running": h.running(), "count": len(entries)})
}

func (h *Handler) schedulerStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Engine == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "engine_disabled", fmt.Errorf("delivery engine is not configured"))
		return
	}
	if h.cfg.Engine.Running() {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"running": true, "message": "Scheduler already running"})
		return
	}
	if err := h.cfg.Engine.Start(r.Context()); err != nil {
		h.internalError(w, "запуск движка", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (h *Handler) schedulerStop(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Engine == nil || !h.cfg.Engine.Running() {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"running": false, "message": "Scheduler already stopped"})
		return
	}
	if err := h.cfg.Engine.Stop(); err != nil {
		h.internalError(w, "остановка движка", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (h *Handler) running() bool {
	return h.cfg.Engine != nil && h.cfg.Engine.Running()
}

func (h *Handler) whatsappLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Session == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "engine_disabled", errors.New("WhatsApp sender disabled"))
		return
	}
	code, err := h.cfg.Session.Login(r.Context())
	if err != nil {
		h.internalError(w, "вход в WhatsApp", err)
		return
	}
	if code == "" {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "logged_in", "message": "Device already linked"})
		return
	}
	h.log.Info().Msg("api: выдан QR-код для входа в WhatsApp")
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "qr",
		"qr":      code,
		"message": "Scan the QR code in WhatsApp: Linked devices",
	})
}

func (h *Handler) whatsappStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Session == nil {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"connected": false, "message": "WhatsApp sender disabled"})
		return
	}
	if h.cfg.Session.Connected() {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"connected": true, "message": "Session connected"})
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"connected": false, "message": "Not logged in"})
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.UploadMaxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpinfra.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Errorf("file exceeds %s", humanize.IBytes(uint64(h.cfg.UploadMaxBytes))))
			return
		}
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("file field is required"))
		return
	}
	defer file.Close()

	dst, err := createUnique(h.cfg.UploadsDir, header.Filename)
	if err != nil {
		h.internalError(w, "создание файла", err)
		return
	}
	written, err := io.Copy(dst, file)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		h.internalError(w, "запись файла", err)
		return
	}
	absolute, err := filepath.Abs(dst.Name())
	if err != nil {
		h.internalError(w, "путь файла", err)
		return
	}
	h.log.Info().Str("path", absolute).Str("size", humanize.IBytes(uint64(written))).Msg("api: файл загружен")
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"filename": header.Filename,
		"path":     absolute,
		"size":     humanize.IBytes(uint64(written)),
	})
}

// createUnique создаёт файл с безопасным именем; при совпадении добавляет
// суффикс _N перед расширением.
func createUnique(dir, filename string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := strings.ReplaceAll(filepath.Base(filename), " ", "_")
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error().Err(err).Msg("api: " + op)
	httpinfra.WriteError(w, http.StatusInternalServerError, "internal", err)
}
