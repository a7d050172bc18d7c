package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/usecase/groups"
)

const addUsage = `Формат /add (поля через |):
/add message | Группа 1, Группа 2 | 2026-10-18 09:00 | Текст
/add image | Группа | 2026-10-18 09:00 | /путь/к/файлу.jpg | подпись
/add video | Группа | 2026-10-18 09:00 | /путь/к/файлу.mp4 | подпись
/add poll | Группа | 2026-10-18 09:00 | Вопрос | Вариант 1, Вариант 2 | multi`

// ErrAddFormat возвращается при неверном формате /add.
var ErrAddFormat = errors.New("неверный формат команды")

// AddCommand — разобранная команда /add.
type AddCommand struct {
	Kind       domain.Kind
	Recipients []string
	At         time.Time
	Draft      domain.Draft
}

// ParseAddCommand разбирает аргументы /add. Несколько групп через запятую
// дают пакет записей.
func ParseAddCommand(payload string) (AddCommand, error) {
	parts := strings.Split(payload, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 4 {
		return AddCommand{}, fmt.Errorf("%w: нужно минимум 4 поля", ErrAddFormat)
	}
	kind, err := domain.ParseKind(parts[0])
	if err != nil {
		return AddCommand{}, err
	}
	recipients := groups.ParseRecipients(parts[1])
	if len(recipients) == 0 {
		return AddCommand{}, domain.ErrNoRecipients
	}
	at, err := domain.ParseWallClock(parts[2])
	if err != nil {
		return AddCommand{}, err
	}

	cmd := AddCommand{Kind: kind, Recipients: recipients, At: at}
	rest := parts[3:]
	switch kind {
	case domain.KindMessage:
		cmd.Draft.Text = strings.Join(rest, " | ")
	case domain.KindImage, domain.KindVideo:
		cmd.Draft.MediaPath = rest[0]
		if len(rest) > 1 {
			cmd.Draft.Caption = strings.Join(rest[1:], " | ")
		}
	case domain.KindPoll:
		if len(rest) < 2 {
			return AddCommand{}, fmt.Errorf("%w: для опроса нужны вопрос и варианты", ErrAddFormat)
		}
		cmd.Draft.Question = rest[0]
		cmd.Draft.Options = domain.ParseOptions(rest[1])
		if len(rest) > 2 {
			switch strings.ToLower(rest[2]) {
			case "multi", "multiple", "да", "yes":
				cmd.Draft.AllowMultiple = true
			}
		}
	}
	if len(recipients) == 1 {
		cmd.Draft.RecipientGroup = recipients[0]
	}
	return cmd, nil
}
