package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/adapters/filestore"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/usecase/conflict"
	"wa-scheduler/internal/usecase/groups"
)

func TestParseAddCommand(t *testing.T) {
	cmd, err := ParseAddCommand(" message | Team A, Team B | 2026-10-18 09:00 | Привет | мир ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cmd.Kind != domain.KindMessage || len(cmd.Recipients) != 2 || cmd.Draft.Text != "Привет | мир" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if domain.FormatWallClock(cmd.At) != "2026-10-18 09:00" {
		t.Fatalf("unexpected time %v", cmd.At)
	}

	poll, err := ParseAddCommand("poll | Team | 2026-10-18 09:00 | Обед? | Да, Нет | multi")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if poll.Draft.Question != "Обед?" || len(poll.Draft.Options) != 2 || !poll.Draft.AllowMultiple || poll.Draft.RecipientGroup != "Team" {
		t.Fatalf("unexpected poll %+v", poll.Draft)
	}
}

func TestParseAddCommandInvalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"мало полей", "message | Team", ErrAddFormat},
		{"тип", "sticker | Team | 2026-10-18 09:00 | x", domain.ErrUnknownKind},
		{"время", "message | Team | завтра | x", domain.ErrInvalidTime},
		{"получатели", "message | , | 2026-10-18 09:00 | x", domain.ErrNoRecipients},
		{"опрос", "poll | Team | 2026-10-18 09:00 | q", ErrAddFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAddCommand(tc.payload); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

type messengerStub struct {
	texts []string
}

func (m *messengerStub) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.texts = append(m.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (m *messengerStub) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *messengerStub) last() string {
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type schedulesStub struct {
	entries   []domain.Entry
	createErr error
	created   []string
	edited    domain.Entry
	marked    domain.Entry
}

func (s *schedulesStub) List(ctx context.Context) ([]domain.Entry, error) {
	return s.entries, nil
}

func (s *schedulesStub) Create(ctx context.Context, kind domain.Kind, draft domain.Draft, recipients []string, at time.Time) ([]domain.Entry, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = recipients
	out := make([]domain.Entry, 0, len(recipients))
	for i, r := range recipients {
		out = append(out, domain.Entry{Kind: kind, RecipientGroup: r, ScheduledAt: at.Add(time.Duration(i) * time.Minute)})
	}
	return out, nil
}

func (s *schedulesStub) Edit(ctx context.Context, target, updated domain.Entry) (domain.Entry, error) {
	s.edited = updated
	return updated, nil
}

func (s *schedulesStub) Delete(ctx context.Context, index int) (domain.Entry, error) {
	if index >= len(s.entries) {
		return domain.Entry{}, domain.ErrIndexOutOfRange
	}
	return s.entries[index], nil
}

func (s *schedulesStub) MarkDone(ctx context.Context, target domain.Entry, at time.Time) (domain.Entry, error) {
	target.MarkDone(at)
	s.marked = target
	return target, nil
}

func newTestHandler(t *testing.T, schedules Schedules, allowed []int64) (*Handler, *messengerStub) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	m := &messengerStub{}
	return NewHandler(m, zerolog.Nop(), schedules, groups.NewService(store), store, allowed), m
}

func message(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: 10},
		Text: text,
	}}
}

func sampleEntry(group string, hour int) domain.Entry {
	return domain.Entry{
		ID: group, Kind: domain.KindMessage, RecipientGroup: group, Text: "hi",
		ScheduledAt: time.Date(2026, 10, 18, hour, 0, 0, 0, domain.Location()), Status: domain.StatusPending,
	}
}

func TestHandleAddBatch(t *testing.T) {
	stub := &schedulesStub{}
	h, m := newTestHandler(t, stub, nil)
	h.HandleUpdate(context.Background(), message(1, "/add message | A, B | 2026-10-18 09:00 | hi"))
	if len(stub.created) != 2 {
		t.Fatalf("expected batch of 2, got %v", stub.created)
	}
	if !strings.Contains(m.last(), "Запланировано записей: 2") || !strings.Contains(m.last(), "2026-10-18 09:01 → B") {
		t.Fatalf("unexpected reply %q", m.last())
	}
}

func TestHandleAddConflict(t *testing.T) {
	stub := &schedulesStub{createErr: &conflict.Error{
		Conflict:  sampleEntry("A", 9),
		Threshold: time.Minute,
		Deficit:   30 * time.Second,
	}}
	h, m := newTestHandler(t, stub, nil)
	h.HandleUpdate(context.Background(), message(1, "/add message | B | 2026-10-18 09:00 | hi"))
	if !strings.Contains(m.last(), "Слишком близко") || !strings.Contains(m.last(), "30s") {
		t.Fatalf("unexpected reply %q", m.last())
	}
}

func TestHandleListDoneEdit(t *testing.T) {
	stub := &schedulesStub{entries: []domain.Entry{sampleEntry("A", 9), sampleEntry("B", 10)}}
	h, m := newTestHandler(t, stub, nil)
	ctx := context.Background()

	h.HandleUpdate(ctx, message(1, "/list"))
	if !strings.Contains(m.last(), "1. ⏳ 2026-10-18 09:00 · A") {
		t.Fatalf("unexpected list %q", m.last())
	}

	h.HandleUpdate(ctx, message(1, "/done 2"))
	if stub.marked.ID != "B" || !stub.marked.IsDone() {
		t.Fatalf("ожидали отметку записи B, got %+v", stub.marked)
	}

	h.HandleUpdate(ctx, message(1, "/edit 1"))
	h.HandleUpdate(ctx, message(1, "2026-10-18 11:30"))
	if stub.edited.ID != "A" || domain.FormatWallClock(stub.edited.ScheduledAt) != "2026-10-18 11:30" {
		t.Fatalf("unexpected edit %+v", stub.edited)
	}

	h.HandleUpdate(ctx, message(1, "/delete 5"))
	if !strings.Contains(m.last(), "Нет записи") {
		t.Fatalf("unexpected reply %q", m.last())
	}
}

func TestHandleGroups(t *testing.T) {
	h, m := newTestHandler(t, &schedulesStub{}, nil)
	ctx := context.Background()
	h.HandleUpdate(ctx, message(1, "/addgroup Team A"))
	h.HandleUpdate(ctx, message(1, "/addgroup team a"))
	if !strings.Contains(m.last(), "уже сохранена") {
		t.Fatalf("unexpected reply %q", m.last())
	}
	h.HandleUpdate(ctx, message(1, "/groups"))
	if !strings.Contains(m.last(), "Team A") {
		t.Fatalf("unexpected groups %q", m.last())
	}
	h.HandleUpdate(ctx, message(1, "/delgroup Nope"))
	if m.last() != "Группа не найдена" {
		t.Fatalf("unexpected reply %q", m.last())
	}
}

func TestAllowedUsers(t *testing.T) {
	stub := &schedulesStub{entries: []domain.Entry{sampleEntry("A", 9)}}
	h, m := newTestHandler(t, stub, []int64{42})
	h.HandleUpdate(context.Background(), message(7, "/list"))
	if m.last() != "Доступ запрещён" {
		t.Fatalf("unexpected reply %q", m.last())
	}
	h.HandleUpdate(context.Background(), message(42, "/list"))
	if !strings.Contains(m.last(), "A") {
		t.Fatalf("unexpected reply %q", m.last())
	}
}
