package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"wa-scheduler/internal/domain"
)

const (
	schedulesFile = "schedules.json"
	finishedFile  = "finishedSchedules.json"
	groupsFile    = "group_names.json"
)

var (
	_ domain.ScheduleStore = (*Store)(nil)
	_ domain.FinishedStore = (*Store)(nil)
	_ domain.GroupRepo     = (*Store)(nil)
)

// Store хранит списки в JSON-файлах каталога. Каждый вызов читает или
// перезаписывает файл целиком под мьютексом; запись идёт через временный
// файл и rename.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New создаёт хранилище и каталог, если его нет.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Fetch читает канонический список.
func (s *Store) Fetch(ctx context.Context) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEntries(schedulesFile)
}

// Replace перезаписывает канонический список.
func (s *Store) Replace(ctx context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(schedulesFile, nonNil(entries))
}

// ListFinished возвращает архив отправленных записей.
func (s *Store) ListFinished(ctx context.Context) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEntries(finishedFile)
}

// AppendFinished добавляет запись в архив.
func (s *Store) AppendFinished(ctx context.Context, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readEntries(finishedFile)
	if err != nil {
		return err
	}
	return s.writeJSON(finishedFile, append(entries, e))
}

// DeleteFinished удаляет запись архива по позиции.
func (s *Store) DeleteFinished(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readEntries(finishedFile)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(entries) {
		return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
	}
	return s.writeJSON(finishedFile, slices.Delete(entries, index, index+1))
}

// ClearFinished очищает архив.
func (s *Store) ClearFinished(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(finishedFile, []domain.Entry{})
}

type groupsDoc struct {
	Groups []string `json:"groups"`
}

// ListGroups возвращает сохранённые группы.
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readGroups()
}

// AddGroup сохраняет группу.
func (s *Store) AddGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.readGroups()
	if err != nil {
		return err
	}
	if slices.Contains(names, name) {
		return domain.ErrGroupExists
	}
	return s.writeJSON(groupsFile, groupsDoc{Groups: append(names, name)})
}

// DeleteGroup удаляет группу.
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.readGroups()
	if err != nil {
		return err
	}
	idx := slices.Index(names, name)
	if idx < 0 {
		return domain.ErrGroupNotFound
	}
	return s.writeJSON(groupsFile, groupsDoc{Groups: slices.Delete(names, idx, idx+1)})
}

func (s *Store) readGroups() ([]string, error) {
	data, err := s.read(groupsFile)
	if err != nil || data == nil {
		return []string{}, err
	}
	// Старый формат — голый массив.
	if bytes.HasPrefix(data, []byte("[")) {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, fmt.Errorf("разбор %s: %w", groupsFile, err)
		}
		return nonNilStrings(names), nil
	}
	var doc groupsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", groupsFile, err)
	}
	return nonNilStrings(doc.Groups), nil
}

func (s *Store) readEntries(name string) ([]domain.Entry, error) {
	data, err := s.read(name)
	if err != nil || data == nil {
		return []domain.Entry{}, err
	}
	var entries []domain.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", name, err)
	}
	return nonNil(entries), nil
}

func (s *Store) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", name, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("кодирование %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("запись %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("запись %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("запись %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("замена %s: %w", name, err)
	}
	return nil
}

func nonNil(entries []domain.Entry) []domain.Entry {
	if entries == nil {
		return []domain.Entry{}
	}
	return entries
}

func nonNilStrings(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
