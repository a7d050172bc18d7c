package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

//go:embed schema.sql
var schema string

// Postgres реализует хранилища расписаний, архива и групп на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ScheduleStore = (*Postgres)(nil)
	_ domain.FinishedStore = (*Postgres)(nil)
	_ domain.GroupRepo     = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

// Fetch читает канонический список в сохранённом порядке.
func (p *Postgres) Fetch(ctx context.Context) ([]domain.Entry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT payload FROM schedules ORDER BY position`)
	metrics.ObserveNetworkRequest("postgres", "schedules_fetch", "schedules", start, err)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Replace заменяет список целиком в одной транзакции.
func (p *Postgres) Replace(ctx context.Context, entries []domain.Entry) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows := make([][]any, 0, len(entries))
	for i, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("кодирование записи %d: %w", i, err)
		}
		rows = append(rows, []any{i, e.ID, payload})
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "schedules", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE schedules IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("блокировка schedules: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schedules`); err != nil {
		return fmt.Errorf("очистка schedules: %w", err)
	}
	start = time.Now()
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"schedules"}, []string{"position", "entry_id", "payload"}, pgx.CopyFromRows(rows))
	metrics.ObserveNetworkRequest("postgres", "schedules_copy", "schedules", start, err)
	if err != nil {
		return fmt.Errorf("запись schedules: %w", err)
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "schedules", start, err)
	return err
}

// ListFinished возвращает архив в порядке добавления.
func (p *Postgres) ListFinished(ctx context.Context) ([]domain.Entry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT payload FROM finished_schedules ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "finished_list", "finished_schedules", start, err)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// AppendFinished добавляет запись в архив.
func (p *Postgres) AppendFinished(ctx context.Context, e domain.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("кодирование записи: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, `INSERT INTO finished_schedules (payload) VALUES ($1)`, payload)
	metrics.ObserveNetworkRequest("postgres", "finished_insert", "finished_schedules", start, err)
	return err
}

// DeleteFinished удаляет запись архива по позиции.
func (p *Postgres) DeleteFinished(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM finished_schedules
WHERE id = (SELECT id FROM finished_schedules ORDER BY id OFFSET $1 LIMIT 1)`, index)
	metrics.ObserveNetworkRequest("postgres", "finished_delete", "finished_schedules", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
	}
	return nil
}

// ClearFinished очищает архив.
func (p *Postgres) ClearFinished(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM finished_schedules`)
	metrics.ObserveNetworkRequest("postgres", "finished_clear", "finished_schedules", start, err)
	return err
}

// ListGroups возвращает группы в порядке добавления.
func (p *Postgres) ListGroups(ctx context.Context) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT name FROM group_names ORDER BY position`)
	metrics.ObserveNetworkRequest("postgres", "groups_list", "group_names", start, err)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// AddGroup сохраняет группу.
func (p *Postgres) AddGroup(ctx context.Context, name string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `INSERT INTO group_names (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	metrics.ObserveNetworkRequest("postgres", "groups_insert", "group_names", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupExists
	}
	return nil
}

// DeleteGroup удаляет группу.
func (p *Postgres) DeleteGroup(ctx context.Context, name string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM group_names WHERE name = $1`, name)
	metrics.ObserveNetworkRequest("postgres", "groups_delete", "group_names", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]domain.Entry, error) {
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	entries := make([]domain.Entry, 0, len(payloads))
	for i, payload := range payloads {
		var e domain.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("разбор записи %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
