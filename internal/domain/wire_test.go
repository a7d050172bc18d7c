package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEntryJSONRoundTrip(t *testing.T) {
	done := time.Date(2025, 6, 1, 10, 1, 7, 0, time.Local)
	entries := []Entry{
		{
			ID:             "a1",
			Kind:           KindPoll,
			RecipientGroup: "Family",
			Question:       "Dinner?",
			Options:        []string{"yes", "no"},
			AllowMultiple:  true,
			ScheduledAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.Local),
			BatchID:        "b1",
			Status:         StatusDone,
			CompletedAt:    &done,
			CreatedAt:      time.Date(2025, 5, 30, 9, 0, 0, 0, time.Local),
			Repeat:         RepeatOnce,
		},
		{
			Kind:           KindVideo,
			RecipientGroup: "Team",
			MediaPath:      "/srv/uploads/demo.mp4",
			Caption:        "demo",
			ScheduledAt:    time.Date(2025, 6, 1, 11, 0, 0, 0, time.Local),
			Status:         StatusPending,
			Extra:          map[string][]byte{"profile_name": []byte(`"Default"`)},
		},
	}

	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	var decoded []Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(decoded))
	}
	for i := range entries {
		if !entries[i].Equal(decoded[i]) {
			t.Fatalf("запись %d изменилась после кодирования:\n%+v\n%+v", i, entries[i], decoded[i])
		}
	}
}

func TestEntryWireFormat(t *testing.T) {
	e := Entry{
		Kind:           KindVideo,
		RecipientGroup: "Team",
		MediaPath:      "/srv/v.mp4",
		ScheduledAt:    time.Date(2025, 6, 1, 9, 5, 0, 0, time.Local),
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"type":"video"`, `"video_path":"/srv/v.mp4"`, `"time":"2025-06-01 09:05"`, `"status":"pending"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("ожидали %s в %s", want, s)
		}
	}
	if strings.Contains(s, "completed_at") {
		t.Fatalf("pending запись не должна содержать completed_at: %s", s)
	}
}

func TestEntryDecodeTolerance(t *testing.T) {
	raw := `{"type":"message","group_name":"Team","message":"hi","scheduled_time":"2025-06-01T09:05:40"}`
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := time.Date(2025, 6, 1, 9, 5, 0, 0, time.Local)
	if !e.ScheduledAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, e.ScheduledAt)
	}
	if e.Status != StatusPending {
		t.Fatalf("статус по умолчанию должен быть pending, получили %q", e.Status)
	}

	var untyped Entry
	if err := json.Unmarshal([]byte(`{"group_name":"Cairo","message":"hi","time":"2026-10-18 09:00"}`), &untyped); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if untyped.Kind != KindMessage {
		t.Fatalf("без type ожидали message, got %q", untyped.Kind)
	}
	if err := untyped.Validate(); err != nil {
		t.Fatalf("запись без type должна быть корректной: %v", err)
	}

	cases := []struct {
		name string
		raw  string
		key  string
		want string
	}{
		{name: "daily scheduled_time", raw: `{"type":"message","group_name":"Team","message":"hi","scheduled_time":"09:00","repeat":"daily"}`, key: "scheduled_time", want: "09:00"},
		{name: "garbage time", raw: `{"type":"message","group_name":"Team","message":"hi","time":"tomorrow"}`, key: "time", want: "tomorrow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e Entry
			if err := json.Unmarshal([]byte(tc.raw), &e); err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !e.ScheduledAt.IsZero() {
				t.Fatalf("ожидали пустую дату, got %v", e.ScheduledAt)
			}
			key, value, ok := e.RawTime()
			if !ok || key != tc.key || value != tc.want {
				t.Fatalf("unexpected raw time %q=%q (%t)", key, value, ok)
			}
			if err := e.CheckShape(); err != nil {
				t.Fatalf("форма записи с исходным временем корректна: %v", err)
			}

			data, err := json.Marshal(e)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !strings.Contains(string(data), `"`+tc.key+`":"`+tc.want+`"`) {
				t.Fatalf("исходное время потеряно: %s", data)
			}
			var again Entry
			if err := json.Unmarshal(data, &again); err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !e.Equal(again) {
				t.Fatalf("запись изменилась:\n%+v\n%+v", e, again)
			}

			e.ScheduledAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)
			data, err = json.Marshal(e)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if strings.Contains(string(data), tc.want) || !strings.Contains(string(data), `"time":"2026-10-18 09:00"`) {
				t.Fatalf("после назначения даты исходное время должно уйти: %s", data)
			}
		})
	}
}

func TestEntryCheckShape(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)
	cases := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{name: "one option poll", entry: Entry{Kind: KindPoll, RecipientGroup: "A", Question: "q", Options: []string{"only"}, ScheduledAt: at}},
		{name: "blank message", entry: Entry{Kind: KindMessage, RecipientGroup: "A", ScheduledAt: at}},
		{name: "unknown kind", entry: Entry{Kind: "sticker", RecipientGroup: "A", ScheduledAt: at}, wantErr: ErrUnknownKind},
		{name: "no group", entry: Entry{Kind: KindMessage, Text: "hi", ScheduledAt: at}, wantErr: ErrMissingField},
		{name: "no time", entry: Entry{Kind: KindMessage, RecipientGroup: "A", Text: "hi"}, wantErr: ErrMissingField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.CheckShape()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
