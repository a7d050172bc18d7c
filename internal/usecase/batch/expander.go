package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wa-scheduler/internal/domain"
)

// Step — интервал между записями одного пакета.
const Step = time.Minute

// Expander строит пакет записей из одного шаблона.
type Expander struct {
	newID func() string
	now   func() time.Time
}

// Option настраивает Expander.
type Option func(*Expander)

// WithIDs задаёт генератор идентификаторов записей и пакетов.
func WithIDs(fn func() string) Option {
	return func(x *Expander) { x.newID = fn }
}

// WithClock задаёт источник времени для created_at.
func WithClock(fn func() time.Time) Option {
	return func(x *Expander) { x.now = fn }
}

// NewExpander создаёт Expander.
func NewExpander(opts ...Option) *Expander {
	x := &Expander{newID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Expand создаёт по записи на каждого получателя с шагом в минуту от base.
// Шаблон проверяется один раз; при любой ошибке пакет не создаётся.
func (x *Expander) Expand(template domain.Draft, kind domain.Kind, recipients []string, base time.Time) ([]domain.Entry, error) {
	if err := domain.ValidateDraft(kind, template); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}
	if base.IsZero() {
		return nil, fmt.Errorf("%w: time", domain.ErrMissingField)
	}
	names := make([]string, len(recipients))
	for i, r := range recipients {
		name := strings.TrimSpace(r)
		if name == "" {
			return nil, fmt.Errorf("%w: получатель #%d пустой", domain.ErrMissingField, i+1)
		}
		names[i] = name
	}

	batchID := x.newID()
	created := x.now().Truncate(time.Second)
	start := domain.TruncateMinute(base)
	out := make([]domain.Entry, 0, len(names))
	for i, name := range names {
		d := template
		d.RecipientGroup = name
		d.ScheduledAt = start.Add(time.Duration(i) * Step).In(domain.Location())
		e := domain.BuildEntry(kind, d)
		e.ID = x.newID()
		e.BatchID = batchID
		e.CreatedAt = created
		out = append(out, e)
	}
	return out, nil
}
