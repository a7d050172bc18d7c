package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

var (
	// ErrAlreadyRunning возвращается при повторном запуске движка.
	ErrAlreadyRunning = errors.New("движок уже запущен")
	// ErrNotRunning возвращается при остановке незапущенного движка.
	ErrNotRunning = errors.New("движок не запущен")
)

// EngineConfig задаёт расписание проверок и окна.
type EngineConfig struct {
	// Spec — cron-выражение проверки, по умолчанию каждую минуту.
	Spec string
	// Grace — сколько после планового времени запись ещё отправляется.
	Grace time.Duration
	// LockTTL — время блокировки записи после передачи на отправку.
	LockTTL time.Duration
}

// Engine раз в минуту находит наступившие записи и передаёт их на отправку.
type Engine struct {
	schedules  Lister
	dispatcher Dispatcher
	lock       domain.Cache
	cfg        EngineConfig
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	missed map[string]struct{}
}

// NewEngine создаёт движок доставки.
func NewEngine(schedules Lister, dispatcher Dispatcher, lock domain.Cache, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.Spec == "" {
		cfg.Spec = "* * * * *"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Engine{
		schedules:  schedules,
		dispatcher: dispatcher,
		lock:       lock,
		cfg:        cfg,
		log:        logger.With().Str("component", "engine").Logger(),
		now:        time.Now,
		missed:     make(map[string]struct{}),
	}
}

// Start запускает периодическую проверку.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		return ErrAlreadyRunning
	}
	c := cron.New(
		cron.WithLocation(domain.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(e.cfg.Spec, func() {
		if err := e.Tick(runCtx); err != nil {
			e.log.Error().Err(err).Msg("engine: ошибка проверки расписаний")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("разбор DELIVERY_CRON %q: %w", e.cfg.Spec, err)
	}
	c.Start()
	e.cron = c
	e.cancel = cancel
	e.log.Info().Str("spec", e.cfg.Spec).Msg("engine: запущен")
	return nil
}

// Stop останавливает проверки и ждёт завершения текущей.
func (e *Engine) Stop() error {
	e.mu.Lock()
	c, cancel := e.cron, e.cancel
	e.cron, e.cancel = nil, nil
	e.mu.Unlock()
	if c == nil {
		return ErrNotRunning
	}
	<-c.Stop().Done()
	cancel()
	e.log.Info().Msg("engine: остановлен")
	return nil
}

// Running сообщает, запущен ли движок.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cron != nil
}

// Tick выполняет одну проверку: отправляет наступившие записи в пределах
// Grace и пропускает более старые с предупреждением.
func (e *Engine) Tick(ctx context.Context) error {
	entries, err := e.schedules.List(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	var (
		errs          []error
		pending, done int
	)
	for _, entry := range entries {
		if entry.IsDone() {
			done++
			continue
		}
		pending++
		if entry.ScheduledAt.IsZero() {
			_, raw, _ := entry.RawTime()
			e.warnOnce(EntryKey(entry), entry, "engine: у расписания нет даты ("+raw+"), пропускаем")
			continue
		}
		if entry.ScheduledAt.After(now) {
			continue
		}
		key := EntryKey(entry)
		if entry.Repeat != "" && entry.Repeat != domain.RepeatOnce {
			e.warnOnce(key, entry, "engine: повторяющиеся расписания не исполняются")
			continue
		}
		if e.cfg.Grace > 0 && now.Sub(entry.ScheduledAt) > e.cfg.Grace {
			e.warnOnce(key, entry, "engine: время расписания прошло, пропускаем")
			continue
		}
		err := e.lock.Once(ctx, "delivery:"+key, e.cfg.LockTTL, func() error {
			return e.dispatcher.Dispatch(ctx, entry)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	metrics.SetScheduleCounts(pending, done)
	return errors.Join(errs...)
}

func (e *Engine) warnOnce(key string, entry domain.Entry, msg string) {
	e.mu.Lock()
	_, seen := e.missed[key]
	e.missed[key] = struct{}{}
	e.mu.Unlock()
	if seen {
		return
	}
	e.log.Warn().
		Str("group", entry.RecipientGroup).
		Str("time", domain.FormatWallClock(entry.ScheduledAt)).
		Str("repeat", entry.Repeat).
		Msg(msg)
}

// EntryKey строит ключ записи для блокировок: ID или описательные поля.
func EntryKey(e domain.Entry) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s", e.RecipientGroup, domain.FormatWallClock(e.ScheduledAt), e.Kind, e.PrimaryContent())
}
