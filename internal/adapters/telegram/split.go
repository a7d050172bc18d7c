package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage режет текст на части по лимиту Telegram.
func SplitMessage(text string) []string {
	return Split(text, MessageLimit)
}

// Split режет текст на части не длиннее limit рун, предпочитая границы
// строк, чтобы строки списка не разрывались.
func Split(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}
		split := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
