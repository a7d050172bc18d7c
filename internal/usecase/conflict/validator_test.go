package conflict

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"wa-scheduler/internal/domain"
)

func at(hour, min, sec int) time.Time {
	return time.Date(2025, 10, 30, hour, min, sec, 0, domain.Location())
}

func entryAt(group string, t time.Time) domain.Entry {
	return domain.Entry{Kind: domain.KindMessage, RecipientGroup: group, Text: "hi", ScheduledAt: t, Status: domain.StatusPending}
}

func TestValidateRejectsWithinSameMinute(t *testing.T) {
	existing := []domain.Entry{entryAt("Cairo", at(9, 0, 0))}

	v := Validate(at(9, 0, 30), existing, time.Minute)
	if v.Admit {
		t.Fatalf("ожидали отказ для кандидата в ту же минуту")
	}
	if v.Index != 0 || v.Conflict.RecipientGroup != "Cairo" {
		t.Fatalf("unexpected conflict %+v", v)
	}
	if v.Deficit != 30*time.Second {
		t.Fatalf("expected deficit 30s, got %v", v.Deficit)
	}

	err := v.Err()
	if !errors.Is(err, ErrTooClose) {
		t.Fatalf("expected ErrTooClose, got %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Deficit != 30*time.Second {
		t.Fatalf("ожидали *Error с дефицитом, получили %v", err)
	}
}

func TestValidateThresholds(t *testing.T) {
	existing := []domain.Entry{entryAt("A", at(9, 0, 0)), entryAt("B", at(9, 10, 0))}
	tests := []struct {
		name      string
		candidate time.Time
		threshold time.Duration
		admit     bool
		index     int
	}{
		{name: "exactly one minute apart", candidate: at(9, 1, 0), threshold: time.Minute, admit: true},
		{name: "seconds are ignored", candidate: at(9, 1, 59), threshold: time.Minute, admit: true},
		{name: "edit threshold rejects one minute", candidate: at(9, 1, 0), threshold: 2 * time.Minute, index: 0},
		{name: "before existing", candidate: at(8, 59, 0), threshold: 2 * time.Minute, index: 0},
		{name: "closest wins", candidate: at(9, 9, 0), threshold: 15 * time.Minute, index: 1},
		{name: "tie goes to first", candidate: at(9, 5, 0), threshold: 15 * time.Minute, index: 0},
		{name: "zero threshold admits all", candidate: at(9, 0, 0), threshold: 0, admit: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.candidate, existing, tt.threshold)
			if v.Admit != tt.admit {
				t.Fatalf("admit = %v, want %v (%+v)", v.Admit, tt.admit, v)
			}
			if !tt.admit && v.Index != tt.index {
				t.Fatalf("conflict index = %d, want %d", v.Index, tt.index)
			}
			if !tt.admit && v.Deficit <= 0 {
				t.Fatalf("дефицит должен быть положительным: %v", v.Deficit)
			}
		})
	}
}

func TestValidateExceptSkipsEditedEntry(t *testing.T) {
	existing := []domain.Entry{entryAt("A", at(9, 0, 0)), entryAt("B", at(9, 5, 0))}
	skipFirst := func(i int, _ domain.Entry) bool { return i == 0 }

	if v := ValidateExcept(at(9, 0, 0), existing, 2*time.Minute, skipFirst); !v.Admit {
		t.Fatalf("запись не должна конфликтовать сама с собой: %+v", v)
	}
	if v := ValidateExcept(at(9, 4, 0), existing, 2*time.Minute, skipFirst); v.Admit || v.Index != 1 {
		t.Fatalf("ожидали конфликт с B: %+v", v)
	}
}

func TestValidateEmptySet(t *testing.T) {
	if v := Validate(at(9, 0, 0), nil, time.Minute); !v.Admit || v.Err() != nil {
		t.Fatalf("пустой список должен допускать любого кандидата: %+v", v)
	}
}

func TestViolations(t *testing.T) {
	entries := []domain.Entry{entryAt("A", at(9, 0, 0)), entryAt("B", at(9, 0, 40)), entryAt("C", at(9, 3, 0))}
	got := Violations(entries, time.Minute)
	if len(got) != 1 || got[0].First != 0 || got[0].Second != 1 {
		t.Fatalf("unexpected violations %+v", got)
	}
}

func TestAdmittedSequenceHasNoViolations(t *testing.T) {
	for _, threshold := range []time.Duration{time.Minute, 2 * time.Minute, 5 * time.Minute} {
		rng := rand.New(rand.NewPCG(7, uint64(threshold)))
		base := at(8, 0, 0)
		var admitted []domain.Entry
		rejected := 0
		for i := 0; i < 400; i++ {
			candidate := base.Add(time.Duration(rng.IntN(4*3600)) * time.Second)
			v := Validate(candidate, admitted, threshold)
			if !v.Admit {
				rejected++
				if v.Gap >= threshold || v.Deficit <= 0 {
					t.Fatalf("отказ без нарушения порога: %+v", v)
				}
				continue
			}
			admitted = append(admitted, entryAt("G", domain.TruncateMinute(candidate)))
		}
		if got := Violations(admitted, threshold); len(got) != 0 {
			t.Fatalf("threshold %v: допущенные записи стоят ближе порога: %+v", threshold, got)
		}
		if len(admitted) == 0 || rejected == 0 {
			t.Fatalf("threshold %v: последовательность должна содержать и допуски, и отказы (%d/%d)", threshold, len(admitted), rejected)
		}
	}
}

func TestUndatedEntriesIgnored(t *testing.T) {
	undated := domain.Entry{Kind: domain.KindMessage, RecipientGroup: "Daily", Text: "hi", Repeat: "daily",
		Extra: map[string][]byte{"scheduled_time": []byte(`"09:00"`)}}
	existing := []domain.Entry{undated, undated, entryAt("A", at(9, 0, 0))}
	if got := Violations(existing, time.Minute); len(got) != 0 {
		t.Fatalf("записи без даты не должны давать нарушений: %+v", got)
	}
	if v := Validate(at(9, 5, 0), existing, time.Minute); !v.Admit {
		t.Fatalf("запись без даты не должна мешать допуску: %+v", v)
	}
}
