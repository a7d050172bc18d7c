package conflict

import (
	"errors"
	"fmt"
	"time"

	"wa-scheduler/internal/domain"
)

// ErrTooClose возвращается, если запись слишком близко к существующей.
var ErrTooClose = errors.New("слишком близко к существующему расписанию")

// Verdict — результат проверки кандидата.
type Verdict struct {
	Admit     bool
	Threshold time.Duration
	// Conflict и Index описывают ближайшую конфликтующую запись, если Admit == false.
	Conflict domain.Entry
	Index    int
	// Gap — расстояние до конфликта после обнуления секунд.
	Gap time.Duration
	// Deficit — сколько не хватает до порога по исходному времени кандидата.
	Deficit time.Duration
}

// Err возвращает *Error для отклонённого кандидата и nil для допущенного.
func (v Verdict) Err() error {
	if v.Admit {
		return nil
	}
	return &Error{Conflict: v.Conflict, Threshold: v.Threshold, Deficit: v.Deficit}
}

// Error описывает конфликт по времени.
type Error struct {
	Conflict  domain.Entry
	Threshold time.Duration
	Deficit   time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s в %s, нужно ещё %.1f мин (порог %.0f мин)",
		ErrTooClose, e.Conflict.RecipientGroup, domain.FormatWallClock(e.Conflict.ScheduledAt),
		e.Deficit.Minutes(), e.Threshold.Minutes())
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrTooClose).
func (e *Error) Unwrap() error { return ErrTooClose }

// Validate проверяет, что кандидат отстоит от всех записей минимум на threshold.
func Validate(candidate time.Time, existing []domain.Entry, threshold time.Duration) Verdict {
	return ValidateExcept(candidate, existing, threshold, nil)
}

// ValidateExcept работает как Validate, но пропускает записи, для которых skip
// возвращает true. Так редактирование не конфликтует само с собой.
func ValidateExcept(candidate time.Time, existing []domain.Entry, threshold time.Duration, skip func(i int, e domain.Entry) bool) Verdict {
	verdict := Verdict{Admit: true, Threshold: threshold, Index: -1}
	if threshold <= 0 {
		return verdict
	}
	normalized := domain.TruncateMinute(candidate)
	for i, e := range existing {
		if e.ScheduledAt.IsZero() || (skip != nil && skip(i, e)) {
			continue
		}
		gap := absDuration(normalized.Sub(domain.TruncateMinute(e.ScheduledAt)))
		if gap >= threshold {
			continue
		}
		if verdict.Admit || gap < verdict.Gap {
			verdict.Admit = false
			verdict.Conflict = e
			verdict.Index = i
			verdict.Gap = gap
		}
	}
	if !verdict.Admit {
		verdict.Deficit = deficit(candidate, verdict.Conflict.ScheduledAt, verdict.Gap, threshold)
	}
	return verdict
}

// Violation — пара записей, которые стоят ближе порога.
type Violation struct {
	First, Second int
	Gap           time.Duration
}

// Violations находит все пары записей ближе порога. Канонический список может
// содержать такие пары, если их записал другой клиент. Записи без даты не
// участвуют.
func Violations(entries []domain.Entry, threshold time.Duration) []Violation {
	if threshold <= 0 {
		return nil
	}
	var out []Violation
	for i := range entries {
		if entries[i].ScheduledAt.IsZero() {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if entries[j].ScheduledAt.IsZero() {
				continue
			}
			gap := absDuration(domain.TruncateMinute(entries[i].ScheduledAt).Sub(domain.TruncateMinute(entries[j].ScheduledAt)))
			if gap < threshold {
				out = append(out, Violation{First: i, Second: j, Gap: gap})
			}
		}
	}
	return out
}

// deficit считается по необрезанному времени кандидата, поэтому внутри минуты
// он дробный. Если исходный разрыв уже не меньше порога, берётся обрезанный.
func deficit(candidate, existing time.Time, normalizedGap, threshold time.Duration) time.Duration {
	raw := absDuration(candidate.Sub(existing))
	if d := threshold - raw; d > 0 {
		return d
	}
	return threshold - normalizedGap
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
