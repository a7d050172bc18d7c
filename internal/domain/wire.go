package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// WallClockLayout — формат поля time: локальное время с точностью до минуты.
	WallClockLayout = "2006-01-02 15:04"
	// StampLayout — формат полей completed_at и created_at.
	StampLayout = "2006-01-02 15:04:05"
)

var inputLayouts = []string{
	WallClockLayout,
	StampLayout,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

var location atomic.Pointer[time.Location]

// SetLocation задаёт часовой пояс, в котором читается и пишется время записей.
func SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	location.Store(loc)
}

// Location возвращает часовой пояс записей.
func Location() *time.Location {
	if loc := location.Load(); loc != nil {
		return loc
	}
	return time.Local
}

// TruncateMinute обнуляет секунды в часовом поясе записей.
func TruncateMinute(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	lt := t.In(Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), 0, 0, Location())
}

// ParseWallClock разбирает локальное время записи. Секунды отбрасываются.
func ParseWallClock(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, raw, Location()); err == nil {
			return TruncateMinute(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
}

// FormatWallClock форматирует время записи для передачи по сети.
func FormatWallClock(t time.Time) string {
	return t.In(Location()).Format(WallClockLayout)
}

func parseStamp(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(StampLayout, strings.TrimSpace(raw), Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return t, nil
}

type wireEntry struct {
	ID            string   `json:"id,omitempty"`
	Type          Kind     `json:"type"`
	GroupName     string   `json:"group_name"`
	Message       string   `json:"message,omitempty"`
	ImagePath     string   `json:"image_path,omitempty"`
	VideoPath     string   `json:"video_path,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Question      string   `json:"question,omitempty"`
	Options       []string `json:"options,omitempty"`
	AllowMultiple *bool    `json:"allow_multiple,omitempty"`
	Time          string   `json:"time"`
	ScheduledTime string   `json:"scheduled_time,omitempty"`
	BatchID       string   `json:"batch_id,omitempty"`
	Status        Status   `json:"status"`
	CompletedAt   string   `json:"completed_at,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	Repeat        string   `json:"repeat,omitempty"`
}

// Ключи, под которыми в Extra остаётся время, не разобранное как дата
// (например "09:00" у ежедневных расписаний).
const (
	rawTimeKey          = "time"
	rawScheduledTimeKey = "scheduled_time"
)

var knownKeys = map[string]struct{}{
	"id": {}, "type": {}, "group_name": {}, "message": {}, "image_path": {},
	"video_path": {}, "caption": {}, "question": {}, "options": {},
	"allow_multiple": {}, "time": {}, "scheduled_time": {}, "batch_id": {},
	"status": {}, "completed_at": {}, "created_at": {}, "repeat": {},
}

// MarshalJSON кодирует запись в формат хранилища.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		ID:        e.ID,
		Type:      e.Kind,
		GroupName: e.RecipientGroup,
		Message:   e.Text,
		Caption:   e.Caption,
		Question:  e.Question,
		BatchID:   e.BatchID,
		Status:    e.Status,
		Repeat:    e.Repeat,
	}
	if w.Status == "" {
		w.Status = StatusPending
	}
	if !e.ScheduledAt.IsZero() {
		w.Time = FormatWallClock(e.ScheduledAt)
	}
	switch e.Kind {
	case KindVideo:
		w.VideoPath = e.MediaPath
	default:
		w.ImagePath = e.MediaPath
	}
	w.Options = e.Options
	if e.Kind == KindPoll || e.AllowMultiple {
		allow := e.AllowMultiple
		w.AllowMultiple = &allow
	}
	if e.Kind == KindPoll && w.Options == nil {
		w.Options = []string{}
	}
	if e.CompletedAt != nil {
		w.CompletedAt = e.CompletedAt.In(Location()).Format(StampLayout)
	}
	if !e.CreatedAt.IsZero() {
		w.CreatedAt = e.CreatedAt.In(Location()).Format(StampLayout)
	}

	data, err := json.Marshal(w)
	if err != nil || len(e.Extra) == 0 {
		return data, err
	}
	merged := make(map[string]json.RawMessage, len(knownKeys)+len(e.Extra))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	if _, _, ok := e.RawTime(); ok {
		delete(merged, rawTimeKey)
	}
	for k, v := range e.Extra {
		if !e.ScheduledAt.IsZero() && (k == rawTimeKey || k == rawScheduledTimeKey) {
			continue
		}
		if _, ok := merged[k]; !ok {
			merged[k] = json.RawMessage(v)
		}
	}
	return json.Marshal(merged)
}

// RawTime возвращает время, сохранённое без разбора, и ключ, под которым
// оно пришло.
func (e Entry) RawTime() (key, value string, ok bool) {
	if !e.ScheduledAt.IsZero() {
		return "", "", false
	}
	for _, k := range []string{rawTimeKey, rawScheduledTimeKey} {
		if v, found := e.Extra[k]; found {
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				str = string(v)
			}
			return k, str, true
		}
	}
	return "", "", false
}

// UnmarshalJSON разбирает запись из формата хранилища.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Entry{
		ID:             w.ID,
		Kind:           w.Type,
		RecipientGroup: w.GroupName,
		Text:           w.Message,
		Caption:        w.Caption,
		Question:       w.Question,
		Options:        w.Options,
		BatchID:        w.BatchID,
		Status:         w.Status,
		Repeat:         w.Repeat,
	}
	if out.Kind == "" {
		out.Kind = KindMessage
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	if w.AllowMultiple != nil {
		out.AllowMultiple = *w.AllowMultiple
	}
	out.MediaPath = w.ImagePath
	if out.Kind == KindVideo || out.MediaPath == "" {
		if w.VideoPath != "" {
			out.MediaPath = w.VideoPath
		}
	}

	when, key := w.Time, rawTimeKey
	if when == "" {
		when, key = w.ScheduledTime, rawScheduledTimeKey
	}
	if when != "" {
		if t, err := ParseWallClock(when); err == nil {
			out.ScheduledAt = t
		} else {
			// Запись остаётся в списке без даты: движок и проверка
			// интервалов её пропускают, значение сохраняется как было.
			out.Extra = map[string][]byte{key: []byte(raw[key])}
		}
	}
	if w.CompletedAt != "" {
		t, err := parseStamp(w.CompletedAt)
		if err != nil {
			return err
		}
		out.CompletedAt = &t
	}
	if w.CreatedAt != "" {
		t, err := parseStamp(w.CreatedAt)
		if err != nil {
			return err
		}
		out.CreatedAt = t
	}

	for k, v := range raw {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string][]byte)
		}
		out.Extra[k] = []byte(v)
	}
	*e = out
	return nil
}
