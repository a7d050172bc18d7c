package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wa-scheduler/internal/domain"
)

// Service управляет сохранёнными именами групп.
type Service struct {
	repo domain.GroupRepo
}

// NewService создаёт сервис групп.
func NewService(repo domain.GroupRepo) *Service {
	return &Service{repo: repo}
}

// List возвращает сохранённые группы.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение групп: %w", err)
	}
	return names, nil
}

// Add сохраняет группу. Возвращает added=false, если имя уже есть.
func (s *Service) Add(ctx context.Context, name string) (bool, error) {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return false, fmt.Errorf("%w: group_name", domain.ErrMissingField)
	}
	existing, err := s.repo.ListGroups(ctx)
	if err != nil {
		return false, fmt.Errorf("получение групп: %w", err)
	}
	for _, n := range existing {
		if strings.EqualFold(n, cleaned) {
			return false, nil
		}
	}
	if err := s.repo.AddGroup(ctx, cleaned); err != nil {
		if errors.Is(err, domain.ErrGroupExists) {
			return false, nil
		}
		return false, fmt.Errorf("сохранение группы: %w", err)
	}
	return true, nil
}

// Delete удаляет группу.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.repo.DeleteGroup(ctx, strings.TrimSpace(name)); err != nil {
		return fmt.Errorf("удаление группы: %w", err)
	}
	return nil
}

// ParseRecipients разбирает список групп через запятую или перевод строки:
// обрезает пробелы, выбрасывает пустые и повторы без учёта регистра.
func ParseRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' })
	return NormalizeNames(fields)
}

// NormalizeNames очищает имена групп, сохраняя порядок.
func NormalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
