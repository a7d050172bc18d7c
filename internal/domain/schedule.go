package domain

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Kind описывает тип запланированного действия.
type Kind string

const (
	// KindMessage — текстовое сообщение.
	KindMessage Kind = "message"
	// KindImage — изображение с необязательной подписью.
	KindImage Kind = "image"
	// KindVideo — видео с необязательной подписью.
	KindVideo Kind = "video"
	// KindPoll — опрос.
	KindPoll Kind = "poll"
)

// ParseKind приводит строку к Kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindMessage, KindImage, KindVideo, KindPoll:
		return k, nil
	case "text":
		return KindMessage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Status описывает состояние доставки записи.
type Status string

const (
	// StatusPending — запись ожидает отправки.
	StatusPending Status = "pending"
	// StatusDone — запись отправлена, состояние терминальное.
	StatusDone Status = "done"
)

// RepeatOnce — единственный режим повторения, который исполняет движок доставки.
const RepeatOnce = "once"

// Draft содержит поля формы, из которых строится запись.
type Draft struct {
	RecipientGroup string
	Text           string
	MediaPath      string
	Caption        string
	Question       string
	Options        []string
	AllowMultiple  bool
	ScheduledAt    time.Time
	Repeat         string
}

// Entry — одна запланированная отправка.
type Entry struct {
	ID             string
	Kind           Kind
	RecipientGroup string
	Text           string
	MediaPath      string
	Caption        string
	Question       string
	Options        []string
	AllowMultiple  bool
	ScheduledAt    time.Time
	BatchID        string
	Status         Status
	CompletedAt    *time.Time
	CreatedAt      time.Time
	Repeat         string

	// Extra хранит неизвестные поля записи, чтобы замена списка их не теряла.
	Extra map[string][]byte
}

var notBlank = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
})

// ValidateDraft проверяет обязательные поля шаблона для указанного типа.
// Получатель не проверяется: для пакетного создания он задаётся отдельно.
func ValidateDraft(kind Kind, d Draft) error {
	var err error
	switch kind {
	case KindMessage:
		err = validation.ValidateStruct(&d, validation.Field(&d.Text, notBlank))
	case KindImage, KindVideo:
		err = validation.ValidateStruct(&d, validation.Field(&d.MediaPath, notBlank))
	case KindPoll:
		err = validation.ValidateStruct(&d, validation.Field(&d.Question, notBlank))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if kind == KindPoll {
		if n := len(DistinctOptions(d.Options)); n < 2 {
			return fmt.Errorf("%w: получено %d", ErrPollOptions, n)
		}
	}
	return nil
}

// NewEntry строит запись из черновика. Запись не создаётся, если
// обязательные поля пусты.
func NewEntry(kind Kind, d Draft) (Entry, error) {
	if strings.TrimSpace(d.RecipientGroup) == "" {
		return Entry{}, fmt.Errorf("%w: group_name", ErrMissingField)
	}
	if d.ScheduledAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: time", ErrMissingField)
	}
	if err := ValidateDraft(kind, d); err != nil {
		return Entry{}, err
	}
	return BuildEntry(kind, d), nil
}

// BuildEntry строит запись без проверки. Вызывающий отвечает за ValidateDraft.
func BuildEntry(kind Kind, d Draft) Entry {
	e := Entry{
		Kind:           kind,
		RecipientGroup: strings.TrimSpace(d.RecipientGroup),
		ScheduledAt:    TruncateMinute(d.ScheduledAt),
		Status:         StatusPending,
		Repeat:         d.Repeat,
	}
	switch kind {
	case KindMessage:
		e.Text = d.Text
	case KindImage, KindVideo:
		e.MediaPath = strings.TrimSpace(d.MediaPath)
		e.Caption = d.Caption
	case KindPoll:
		e.Question = d.Question
		e.Options = TrimOptions(d.Options)
		e.AllowMultiple = d.AllowMultiple
	}
	return e
}

// Validate проверяет контракт записи целиком: получатель, время и поля типа.
func (e Entry) Validate() error {
	_, err := NewEntry(e.Kind, e.Draft())
	return err
}

// CheckShape проверяет только форму записи из хранилища: известный тип,
// получатель и время. Правила допуска новых записей (поля типа, варианты
// опроса) здесь не применяются: список может содержать записи других клиентов.
func (e Entry) CheckShape() error {
	switch e.Kind {
	case KindMessage, KindImage, KindVideo, KindPoll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if strings.TrimSpace(e.RecipientGroup) == "" {
		return fmt.Errorf("%w: group_name", ErrMissingField)
	}
	if e.ScheduledAt.IsZero() {
		if _, _, ok := e.RawTime(); !ok {
			return fmt.Errorf("%w: time", ErrMissingField)
		}
	}
	return nil
}

// Draft возвращает поля записи в виде черновика.
func (e Entry) Draft() Draft {
	return Draft{
		RecipientGroup: e.RecipientGroup,
		Text:           e.Text,
		MediaPath:      e.MediaPath,
		Caption:        e.Caption,
		Question:       e.Question,
		Options:        slices.Clone(e.Options),
		AllowMultiple:  e.AllowMultiple,
		ScheduledAt:    e.ScheduledAt,
		Repeat:         e.Repeat,
	}
}

// PrimaryContent возвращает первое непустое из текста, подписи и вопроса.
func (e Entry) PrimaryContent() string {
	for _, v := range []string{e.Text, e.Caption, e.Question} {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsDone сообщает, отправлена ли запись.
func (e Entry) IsDone() bool {
	return e.Status == StatusDone
}

// MarkDone переводит запись в done. Время завершения ставится один раз;
// повторный вызов ничего не меняет и возвращает false.
func (e *Entry) MarkDone(at time.Time) bool {
	if e.IsDone() {
		return false
	}
	e.Status = StatusDone
	ts := at.Truncate(time.Second)
	e.CompletedAt = &ts
	return true
}

// SameStructure сравнивает записи по описательным полям: получатель,
// время с точностью до минуты, тип и основное содержимое.
func SameStructure(a, b Entry) bool {
	return a.RecipientGroup == b.RecipientGroup &&
		TruncateMinute(a.ScheduledAt).Equal(TruncateMinute(b.ScheduledAt)) &&
		a.Kind == b.Kind &&
		a.PrimaryContent() == b.PrimaryContent()
}

// SameEntry определяет, описывают ли записи одну логическую отправку.
// Если у обеих есть ID, сравнивается только он.
func SameEntry(a, b Entry) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return SameStructure(a, b)
}

// Equal сравнивает все поля записи.
func (e Entry) Equal(o Entry) bool {
	if e.ID != o.ID || e.Kind != o.Kind || e.RecipientGroup != o.RecipientGroup ||
		e.Text != o.Text || e.MediaPath != o.MediaPath || e.Caption != o.Caption ||
		e.Question != o.Question || e.AllowMultiple != o.AllowMultiple ||
		e.BatchID != o.BatchID || e.Status != o.Status || e.Repeat != o.Repeat {
		return false
	}
	if !e.ScheduledAt.Equal(o.ScheduledAt) || !e.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if (e.CompletedAt == nil) != (o.CompletedAt == nil) {
		return false
	}
	if e.CompletedAt != nil && !e.CompletedAt.Equal(*o.CompletedAt) {
		return false
	}
	if !slices.Equal(e.Options, o.Options) || len(e.Extra) != len(o.Extra) {
		return false
	}
	for k, v := range e.Extra {
		if ov, ok := o.Extra[k]; !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Clone возвращает глубокую копию записи.
func (e Entry) Clone() Entry {
	c := e
	c.Options = slices.Clone(e.Options)
	if e.CompletedAt != nil {
		ts := *e.CompletedAt
		c.CompletedAt = &ts
	}
	if e.Extra != nil {
		c.Extra = make(map[string][]byte, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = bytes.Clone(v)
		}
	}
	return c
}

// CloneEntries копирует список записей.
func CloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// SortByTime упорядочивает записи по времени, сохраняя порядок равных.
func SortByTime(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
}

// ParseOptions разбирает варианты опроса из строки через запятую.
func ParseOptions(raw string) []string {
	return TrimOptions(strings.Split(raw, ","))
}

// TrimOptions обрезает пробелы и выбрасывает пустые варианты, сохраняя порядок.
func TrimOptions(options []string) []string {
	out := make([]string, 0, len(options))
	for _, opt := range options {
		if trimmed := strings.TrimSpace(opt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DistinctOptions возвращает уникальные непустые варианты в исходном порядке.
func DistinctOptions(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, opt := range TrimOptions(options) {
		if _, ok := seen[opt]; ok {
			continue
		}
		seen[opt] = struct{}{}
		out = append(out, opt)
	}
	return out
}
