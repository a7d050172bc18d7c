package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/adapters/telegram"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
	"wa-scheduler/internal/usecase/conflict"
	"wa-scheduler/internal/usecase/groups"
)

// Messenger отправляет сообщения в Telegram; *tgbotapi.BotAPI подходит.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Schedules — операции синхронизации, доступные из бота.
type Schedules interface {
	List(ctx context.Context) ([]domain.Entry, error)
	Create(ctx context.Context, kind domain.Kind, draft domain.Draft, recipients []string, at time.Time) ([]domain.Entry, error)
	Edit(ctx context.Context, target, updated domain.Entry) (domain.Entry, error)
	Delete(ctx context.Context, index int) (domain.Entry, error)
	MarkDone(ctx context.Context, target domain.Entry, at time.Time) (domain.Entry, error)
}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot       Messenger
	log       zerolog.Logger
	schedules Schedules
	groups    *groups.Service
	finished  domain.FinishedStore
	allowed   map[int64]struct{}
	now       func() time.Time

	mu          sync.Mutex
	pendingEdit map[int64]domain.Entry
}

// NewHandler создаёт обработчик. Пустой allowed разрешает всех.
func NewHandler(bot Messenger, log zerolog.Logger, schedules Schedules, groupUC *groups.Service, finished domain.FinishedStore, allowed []int64) *Handler {
	set := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	return &Handler{
		bot:         bot,
		log:         log.With().Str("component", "bot").Logger(),
		schedules:   schedules,
		groups:      groupUC,
		finished:    finished,
		allowed:     set,
		now:         time.Now,
		pendingEdit: make(map[int64]domain.Entry),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		if !h.permitted(upd.Message.From) {
			h.reply(upd.Message.Chat.ID, "Доступ запрещён", nil)
			return
		}
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		if !h.permitted(upd.CallbackQuery.From) {
			return
		}
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) permitted(from *tgbotapi.User) bool {
	if len(h.allowed) == 0 {
		return true
	}
	if from == nil {
		return false
	}
	_, ok := h.allowed[from.ID]
	return ok
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if msg.From != nil && !strings.HasPrefix(text, "/") {
		if h.tryHandleEditInput(ctx, msg.Chat.ID, msg.From.ID, text) {
			return
		}
	}
	command, payload := splitCommand(text)
	switch command {
	case "/start", "/help":
		h.reply(msg.Chat.ID, h.buildHelpMessage(), h.mainKeyboard())
	case "/list":
		h.handleList(ctx, msg.Chat.ID)
	case "/add":
		h.handleAdd(ctx, msg.Chat.ID, payload)
	case "/delete":
		h.withIndex(msg.Chat.ID, payload, func(i int) { h.handleDelete(ctx, msg.Chat.ID, i) })
	case "/done":
		h.withIndex(msg.Chat.ID, payload, func(i int) { h.handleDone(ctx, msg.Chat.ID, i) })
	case "/edit":
		if msg.From == nil {
			h.reply(msg.Chat.ID, "Не удалось определить пользователя", nil)
			return
		}
		h.withIndex(msg.Chat.ID, payload, func(i int) { h.handleEditRequest(ctx, msg.Chat.ID, msg.From.ID, i) })
	case "/finished":
		h.handleFinished(ctx, msg.Chat.ID)
	case "/groups":
		h.handleGroups(ctx, msg.Chat.ID)
	case "/addgroup":
		h.handleAddGroup(ctx, msg.Chat.ID, payload)
	case "/delgroup":
		h.handleDeleteGroup(ctx, msg.Chat.ID, payload)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

func splitCommand(text string) (string, string) {
	command, payload, _ := strings.Cut(text, " ")
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(payload)
}

func (h *Handler) withIndex(chatID int64, payload string, fn func(int)) {
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || n < 1 {
		h.reply(chatID, "Укажите номер записи из /list, например: /delete 2", nil)
		return
	}
	fn(n - 1)
}

func (h *Handler) handleList(ctx context.Context, chatID int64) {
	entries, err := h.schedules.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить расписания")
		h.reply(chatID, "Не удалось получить расписания. Попробуйте позже", nil)
		return
	}
	if len(entries) == 0 {
		h.reply(chatID, "Расписаний пока нет", nil)
		return
	}
	var b strings.Builder
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(entries))
	for i, e := range entries {
		b.WriteString(FormatEntry(i+1, e) + "\n")
		if e.IsDone() {
			continue
		}
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ %d", i+1), fmt.Sprintf("done:%d", i)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 %d", i+1), fmt.Sprintf("delete:%d", i)),
		))
	}
	var markup *tgbotapi.InlineKeyboardMarkup
	if len(keyboard) > 0 {
		m := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
		markup = &m
	}
	h.reply(chatID, b.String(), markup)
}

// FormatEntry возвращает строку списка для записи.
func FormatEntry(n int, e domain.Entry) string {
	mark := "⏳"
	if e.IsDone() {
		mark = "✅"
	}
	line := fmt.Sprintf("%d. %s %s · %s · %s", n, mark, domain.FormatWallClock(e.ScheduledAt), e.RecipientGroup, e.Kind)
	if content := e.PrimaryContent(); content != "" {
		line += ": " + truncate(content, 60)
	}
	return line
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func (h *Handler) handleAdd(ctx context.Context, chatID int64, payload string) {
	cmd, err := ParseAddCommand(payload)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("%v\n\n%s", err, addUsage), nil)
		return
	}
	created, err := h.schedules.Create(ctx, cmd.Kind, cmd.Draft, cmd.Recipients, cmd.At)
	if err != nil {
		h.reply(chatID, describeError(err), nil)
		return
	}
	lines := make([]string, 0, len(created)+1)
	lines = append(lines, fmt.Sprintf("Запланировано записей: %d", len(created)))
	for _, e := range created {
		lines = append(lines, fmt.Sprintf("• %s → %s", domain.FormatWallClock(e.ScheduledAt), e.RecipientGroup))
	}
	h.reply(chatID, strings.Join(lines, "\n"), h.mainKeyboard())
}

func (h *Handler) handleDelete(ctx context.Context, chatID int64, index int) {
	removed, err := h.schedules.Delete(ctx, index)
	if err != nil {
		h.reply(chatID, describeError(err), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Удалено: %s", FormatEntry(index+1, removed)), nil)
}

func (h *Handler) handleDone(ctx context.Context, chatID int64, index int) {
	target, ok := h.entryAt(ctx, chatID, index)
	if !ok {
		return
	}
	done, err := h.schedules.MarkDone(ctx, target, h.now())
	if err != nil {
		h.reply(chatID, describeError(err), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Отмечено выполненным: %s", FormatEntry(index+1, done)), nil)
}

func (h *Handler) handleEditRequest(ctx context.Context, chatID, tgUserID int64, index int) {
	target, ok := h.entryAt(ctx, chatID, index)
	if !ok {
		return
	}
	h.mu.Lock()
	h.pendingEdit[tgUserID] = target
	h.mu.Unlock()
	h.reply(chatID, fmt.Sprintf("Отправьте новое время для записи %d в формате YYYY-MM-DD HH:MM", index+1), nil)
}

func (h *Handler) tryHandleEditInput(ctx context.Context, chatID, tgUserID int64, value string) bool {
	h.mu.Lock()
	target, ok := h.pendingEdit[tgUserID]
	if ok {
		delete(h.pendingEdit, tgUserID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	at, err := domain.ParseWallClock(value)
	if err != nil {
		h.reply(chatID, "Не удалось разобрать время. Повторите /edit", nil)
		return true
	}
	updated := target.Clone()
	updated.ScheduledAt = at
	result, err := h.schedules.Edit(ctx, target, updated)
	if err != nil {
		h.reply(chatID, describeError(err), nil)
		return true
	}
	h.reply(chatID, fmt.Sprintf("Время изменено: %s → %s", domain.FormatWallClock(target.ScheduledAt), domain.FormatWallClock(result.ScheduledAt)), nil)
	return true
}

func (h *Handler) entryAt(ctx context.Context, chatID int64, index int) (domain.Entry, bool) {
	entries, err := h.schedules.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить расписания")
		h.reply(chatID, "Не удалось получить расписания. Попробуйте позже", nil)
		return domain.Entry{}, false
	}
	if index < 0 || index >= len(entries) {
		h.reply(chatID, fmt.Sprintf("Нет записи с номером %d", index+1), nil)
		return domain.Entry{}, false
	}
	return entries[index], true
}

func (h *Handler) handleFinished(ctx context.Context, chatID int64) {
	entries, err := h.finished.ListFinished(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить архив")
		h.reply(chatID, "Не удалось получить архив", nil)
		return
	}
	if len(entries) == 0 {
		h.reply(chatID, "Архив пуст", nil)
		return
	}
	var b strings.Builder
	for i, e := range entries {
		line := FormatEntry(i+1, e)
		if e.CompletedAt != nil {
			line += " (отправлено " + e.CompletedAt.In(domain.Location()).Format(domain.StampLayout) + ")"
		}
		b.WriteString(line + "\n")
	}
	h.reply(chatID, b.String(), nil)
}

func (h *Handler) handleGroups(ctx context.Context, chatID int64) {
	names, err := h.groups.List(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return
	}
	if len(names) == 0 {
		h.reply(chatID, "Сохранённых групп нет. Добавьте: /addgroup Название", nil)
		return
	}
	h.reply(chatID, "Группы:\n• "+strings.Join(names, "\n• "), nil)
}

func (h *Handler) handleAddGroup(ctx context.Context, chatID int64, name string) {
	added, err := h.groups.Add(ctx, name)
	if err != nil {
		h.reply(chatID, describeError(err), nil)
		return
	}
	if !added {
		h.reply(chatID, "Такая группа уже сохранена", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Группа сохранена: %s", strings.TrimSpace(name)), nil)
}

func (h *Handler) handleDeleteGroup(ctx context.Context, chatID int64, name string) {
	if err := h.groups.Delete(ctx, name); err != nil {
		h.reply(chatID, describeError(err), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Группа удалена: %s", strings.TrimSpace(name)), nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	action, raw, _ := strings.Cut(cb.Data, ":")
	switch action {
	case "list":
		h.handleList(ctx, chatID)
	case "groups":
		h.handleGroups(ctx, chatID)
	case "finished":
		h.handleFinished(ctx, chatID)
	case "delete", "done":
		index, err := strconv.Atoi(raw)
		if err != nil {
			return
		}
		if action == "delete" {
			h.handleDelete(ctx, chatID, index)
		} else {
			h.handleDone(ctx, chatID, index)
		}
	default:
		h.log.Warn().Str("data", cb.Data).Msg("bot: неизвестный callback")
	}
	h.answer(cb.ID)
}

func (h *Handler) answer(callbackID string) {
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(callbackID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "telegram", start, err)
	if err != nil {
		h.log.Debug().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

// describeError переводит ошибки сервисов в текст для оператора.
func describeError(err error) string {
	var tooClose *conflict.Error
	switch {
	case errors.As(err, &tooClose):
		return fmt.Sprintf("Слишком близко к записи %s в %s. Сдвиньте время ещё минимум на %s (порог %s).",
			tooClose.Conflict.RecipientGroup, domain.FormatWallClock(tooClose.Conflict.ScheduledAt),
			tooClose.Deficit.Round(time.Second), tooClose.Threshold)
	case errors.Is(err, domain.ErrEntryNotFound):
		return "Запись не найдена: список изменился, обновите /list"
	case errors.Is(err, domain.ErrIndexOutOfRange):
		return "Нет записи с таким номером, обновите /list"
	case errors.Is(err, domain.ErrGroupNotFound):
		return "Группа не найдена"
	case errors.Is(err, domain.ErrMissingField), errors.Is(err, domain.ErrPollOptions),
		errors.Is(err, domain.ErrNoRecipients), errors.Is(err, domain.ErrUnknownKind):
		return fmt.Sprintf("Некорректные данные: %v", err)
	default:
		return fmt.Sprintf("Ошибка: %v", err)
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗓 Расписания", "list"),
			tgbotapi.NewInlineKeyboardButtonData("👥 Группы", "groups"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Архив", "finished"),
		),
	)
	return &buttons
}

func (h *Handler) buildHelpMessage() string {
	return strings.Join([]string{
		"Планировщик отправок в группы WhatsApp.",
		"",
		"/list — расписания по времени",
		"/add — новая запись (см. формат ниже)",
		"/edit N — изменить время записи",
		"/done N — отметить выполненной",
		"/delete N — удалить запись",
		"/finished — архив отправленных",
		"/groups, /addgroup Имя, /delgroup Имя — сохранённые группы",
		"",
		addUsage,
	}, "\n")
}
