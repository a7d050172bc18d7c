package telegram

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitMessageKeepsListLines(t *testing.T) {
	lines := make([]string, 0, 120)
	for i := 1; i <= 120; i++ {
		lines = append(lines, fmt.Sprintf("%d. ⏳ 2026-10-18 %02d:%02d · Семейный чат · message: %s", i, i/60, i%60, strings.Repeat("текст ", 8)))
	}
	parts := SplitMessage(strings.Join(lines, "\n"))
	if len(parts) < 2 {
		t.Fatalf("ожидали несколько частей, got %d", len(parts))
	}

	var rejoined []string
	for i, part := range parts {
		if n := len([]rune(part)); n > MessageLimit {
			t.Fatalf("part %d exceeds limit: %d", i, n)
		}
		rejoined = append(rejoined, strings.Split(part, "\n")...)
	}
	if len(rejoined) != len(lines) {
		t.Fatalf("строки списка разорваны: %d vs %d", len(rejoined), len(lines))
	}
	for i := range lines {
		if rejoined[i] != strings.TrimSpace(lines[i]) && rejoined[i] != lines[i] {
			t.Fatalf("line %d changed: %q", i, rejoined[i])
		}
	}
}

func TestSplitMessageShortText(t *testing.T) {
	text := "✅ Отправлено: 2026-10-18 09:00 → Семья (poll)"
	parts := SplitMessage(text)
	if len(parts) != 1 || parts[0] != text {
		t.Fatalf("unexpected parts %q", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("пустой текст не даёт частей, got %d", len(parts))
	}
}

func TestSplitCustomLimit(t *testing.T) {
	parts := Split("0123456789", 4)
	if len(parts) != 3 || parts[0] != "0123" || parts[2] != "89" {
		t.Fatalf("unexpected parts %q", parts)
	}
	if got := Split("a\nb", 0); len(got) != 1 {
		t.Fatalf("нулевой лимит не должен резать текст, got %q", got)
	}
	if got := Split("ab\ncd", 4); len(got) != 2 || got[0] != "ab" || got[1] != "cd" {
		t.Fatalf("ожидали разрез по строке, got %q", got)
	}
}
