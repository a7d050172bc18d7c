package batch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"wa-scheduler/internal/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestExpandPollBatch(t *testing.T) {
	x := NewExpander(WithIDs(sequentialIDs()))
	template := domain.Draft{Question: "Meet?", Options: []string{"yes", "no"}}
	base := time.Date(2025, 10, 30, 9, 0, 0, 0, domain.Location())

	entries, err := x.Expand(template, domain.KindPoll, []string{"Cairo", "Giza", "Luxor"}, base)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantTimes := []string{"2025-10-30 09:00", "2025-10-30 09:01", "2025-10-30 09:02"}
	wantGroups := []string{"Cairo", "Giza", "Luxor"}
	ids := map[string]struct{}{}
	for i, e := range entries {
		if got := domain.FormatWallClock(e.ScheduledAt); got != wantTimes[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, wantTimes[i], got)
		}
		if e.RecipientGroup != wantGroups[i] {
			t.Fatalf("entry %d: expected group %s, got %s", i, wantGroups[i], e.RecipientGroup)
		}
		if e.BatchID != entries[0].BatchID || e.BatchID == "" {
			t.Fatalf("все записи пакета должны иметь один batchId")
		}
		if e.Question != "Meet?" || len(e.Options) != 2 {
			t.Fatalf("вопрос и варианты должны копироваться: %+v", e)
		}
		if e.Status != domain.StatusPending {
			t.Fatalf("ожидали pending, получили %s", e.Status)
		}
		ids[e.ID] = struct{}{}
	}
	if len(ids) != 3 {
		t.Fatalf("ожидали уникальные ID записей: %v", ids)
	}
}

func TestExpandFreshBatchIDPerCall(t *testing.T) {
	x := NewExpander()
	template := domain.Draft{Text: "hello"}
	base := time.Date(2025, 10, 30, 9, 0, 0, 0, domain.Location())

	first, err := x.Expand(template, domain.KindMessage, []string{"A", "B"}, base)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := x.Expand(template, domain.KindMessage, []string{"A", "B"}, base)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first[0].BatchID == second[0].BatchID {
		t.Fatalf("каждый вызов должен получать новый batchId")
	}
}

func TestExpandRejects(t *testing.T) {
	x := NewExpander()
	base := time.Date(2025, 10, 30, 9, 0, 0, 0, domain.Location())
	tests := []struct {
		name       string
		kind       domain.Kind
		template   domain.Draft
		recipients []string
		want       error
	}{
		{name: "poll with one option", kind: domain.KindPoll, template: domain.Draft{Question: "q", Options: []string{"only"}}, recipients: []string{"A", "B", "C"}, want: domain.ErrPollOptions},
		{name: "no recipients", kind: domain.KindMessage, template: domain.Draft{Text: "hi"}, want: domain.ErrNoRecipients},
		{name: "blank recipient", kind: domain.KindMessage, template: domain.Draft{Text: "hi"}, recipients: []string{"A", " "}, want: domain.ErrMissingField},
		{name: "empty text", kind: domain.KindMessage, template: domain.Draft{}, recipients: []string{"A"}, want: domain.ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := x.Expand(tt.template, tt.kind, tt.recipients, base)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if entries != nil {
				t.Fatalf("частичный пакет не допускается: %v", entries)
			}
		})
	}
}

func TestExpandAcrossDSTUsesAbsoluteTime(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("нет базы часовых поясов: %v", err)
	}
	prev := domain.Location()
	domain.SetLocation(loc)
	defer domain.SetLocation(prev)

	base := time.Date(2025, 3, 30, 1, 59, 0, 0, loc)
	entries, err := NewExpander().Expand(domain.Draft{Text: "x"}, domain.KindMessage, []string{"A", "B"}, base)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gap := entries[1].ScheduledAt.Sub(entries[0].ScheduledAt); gap != Step {
		t.Fatalf("expected %v between entries, got %v", Step, gap)
	}
	if got := domain.FormatWallClock(entries[1].ScheduledAt); got != "2025-03-30 03:00" {
		t.Fatalf("ожидали переход на летнее время, получили %s", got)
	}
}
