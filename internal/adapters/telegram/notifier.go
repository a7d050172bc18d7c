package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/infra/metrics"
)

var _ domain.Notifier = (*Notifier)(nil)

// Sender — часть *tgbotapi.BotAPI, нужная уведомителю.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier пишет оператору в Telegram о результатах отправки.
type Notifier struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

// NewNotifier создаёт уведомитель. Без бота или чата уведомления
// только логируются.
func NewNotifier(bot Sender, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, log: log.Component(logger, "notifier")}
}

// Dial создаёт уведомитель по токену бота. Без токена, чата или при ошибке
// авторизации возвращает nil: уведомления отключены.
func Dial(token string, chatID int64, logger zerolog.Logger) domain.Notifier {
	if token == "" || chatID == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Warn().Err(err).Msg("notifier: бот уведомлений недоступен")
		return nil
	}
	return NewNotifier(bot, chatID, logger)
}

// NotifyDelivery отправляет сводку о попытке доставки.
func (n *Notifier) NotifyDelivery(ctx context.Context, outcome domain.DeliveryOutcome) error {
	text := FormatOutcome(outcome)
	if n.bot == nil || n.chatID == 0 {
		n.log.Debug().Str("text", text).Msg("notifier: чат оператора не задан")
		return nil
	}
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, part))
		metrics.ObserveNetworkRequest("telegram_bot", "notify", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			return fmt.Errorf("уведомление оператора: %w", err)
		}
	}
	return nil
}

// FormatOutcome строит текст уведомления.
func FormatOutcome(o domain.DeliveryOutcome) string {
	e := o.Entry
	var b strings.Builder
	if o.Err != nil {
		b.WriteString("❌ Не отправлено")
	} else {
		b.WriteString("✅ Отправлено")
	}
	fmt.Fprintf(&b, ": %s → %s (%s)", domain.FormatWallClock(e.ScheduledAt), e.RecipientGroup, e.Kind)
	if content := e.PrimaryContent(); content != "" {
		fmt.Fprintf(&b, "\n%s", content)
	}
	if o.Err != nil {
		fmt.Fprintf(&b, "\nОшибка: %v", o.Err)
	}
	if o.Duration > 0 {
		fmt.Fprintf(&b, "\nЗа %s", o.Duration.Round(time.Millisecond))
	}
	return b.String()
}
