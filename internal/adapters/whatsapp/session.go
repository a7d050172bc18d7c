package whatsapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-scheduler/internal/infra/log"

	// драйверы хранилища сессии
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SessionConfig описывает хранилище сессии WhatsApp.
type SessionConfig struct {
	// Dialect: sqlite3 или postgres.
	Dialect string
	DSN     string
	// DeferLogin не ждёт привязки устройства при открытии: вход
	// запускается позже через Login.
	DeferLogin bool
}

// Session владеет подключённым клиентом whatsmeow.
type Session struct {
	Client    *whatsmeow.Client
	container *sqlstore.Container
	log       zerolog.Logger
}

// Open открывает хранилище сессии и подключается. Если устройство ещё не
// привязано, QR-коды для входа пишутся в лог до успешного сканирования.
func Open(ctx context.Context, cfg SessionConfig, logger zerolog.Logger) (*Session, error) {
	logger = log.Component(logger, "whatsapp")
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = "sqlite3"
	}
	container, err := sqlstore.New(ctx, dialect, cfg.DSN, newWALogger(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: хранилище сессии: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("whatsapp: устройство: %w", err)
	}
	client := whatsmeow.NewClient(device, newWALogger(logger, "client"))
	client.EnableAutoReconnect = true

	s := &Session{Client: client, container: container, log: logger}
	if client.Store.ID == nil {
		if cfg.DeferLogin {
			logger.Warn().Msg("whatsapp: устройство не привязано, вход через POST /whatsapp/login")
			return s, nil
		}
		if err := s.login(ctx); err != nil {
			_ = container.Close()
			return nil, err
		}
		return s, nil
	}
	if err := client.Connect(); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("whatsapp: подключение: %w", err)
	}
	logger.Info().Msg("whatsapp: сессия восстановлена")
	return s, nil
}

func (s *Session) login(ctx context.Context) error {
	qr, err := s.Client.GetQRChannel(ctx)
	if err != nil {
		if errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return s.Client.Connect()
		}
		return fmt.Errorf("whatsapp: QR канал: %w", err)
	}
	if err := s.Client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: подключение: %w", err)
	}
	for evt := range qr {
		switch evt.Event {
		case "code":
			s.log.Warn().Str("qr", evt.Code).Dur("timeout", evt.Timeout).Msg("whatsapp: отсканируйте QR-код в приложении")
		case "success":
			s.log.Info().Msg("whatsapp: устройство привязано")
			return nil
		default:
			if evt.Error != nil {
				return fmt.Errorf("whatsapp: вход: %w", evt.Error)
			}
			s.log.Warn().Str("event", evt.Event).Msg("whatsapp: вход не завершён")
		}
	}
	return fmt.Errorf("whatsapp: вход прерван")
}

// Login запускает привязку устройства и возвращает первый QR-код. Привязка
// продолжается в фоне, следующие коды пишутся в лог. Пустой код означает,
// что устройство уже привязано.
func (s *Session) Login(ctx context.Context) (string, error) {
	if s.Client.Store.ID != nil {
		if !s.Client.IsConnected() {
			if err := s.Client.Connect(); err != nil {
				return "", fmt.Errorf("whatsapp: подключение: %w", err)
			}
		}
		return "", nil
	}
	if s.Client.IsConnected() {
		s.Client.Disconnect()
	}
	qr, err := s.Client.GetQRChannel(context.Background())
	if err != nil {
		return "", fmt.Errorf("whatsapp: QR канал: %w", err)
	}
	if err := s.Client.Connect(); err != nil {
		return "", fmt.Errorf("whatsapp: подключение: %w", err)
	}
	select {
	case <-ctx.Done():
		go s.watchLogin(qr)
		return "", ctx.Err()
	case evt, ok := <-qr:
		if !ok {
			return "", fmt.Errorf("whatsapp: вход прерван")
		}
		if evt.Event != "code" {
			if evt.Error != nil {
				return "", fmt.Errorf("whatsapp: вход: %w", evt.Error)
			}
			return "", fmt.Errorf("whatsapp: вход: %s", evt.Event)
		}
		go s.watchLogin(qr)
		return evt.Code, nil
	}
}

func (s *Session) watchLogin(qr <-chan whatsmeow.QRChannelItem) {
	for evt := range qr {
		switch evt.Event {
		case "code":
			s.log.Warn().Str("qr", evt.Code).Dur("timeout", evt.Timeout).Msg("whatsapp: новый QR-код")
		case "success":
			s.log.Info().Msg("whatsapp: устройство привязано")
			return
		default:
			s.log.Warn().Err(evt.Error).Str("event", evt.Event).Msg("whatsapp: вход не завершён")
		}
	}
}

// Connected сообщает, подключён ли клиент и выполнен ли вход.
func (s *Session) Connected() bool {
	return s.Client != nil && s.Client.IsConnected() && s.Client.IsLoggedIn()
}

// Close отключает клиента и закрывает хранилище.
func (s *Session) Close() error {
	s.Client.Disconnect()
	return s.container.Close()
}

type waLogger struct {
	log zerolog.Logger
}

func newWALogger(logger zerolog.Logger, module string) waLog.Logger {
	return waLogger{log: logger.With().Str("module", module).Logger()}
}

func (l waLogger) Warnf(msg string, args ...interface{})  { l.log.Warn().Msgf(msg, args...) }
func (l waLogger) Errorf(msg string, args ...interface{}) { l.log.Error().Msgf(msg, args...) }
func (l waLogger) Infof(msg string, args ...interface{})  { l.log.Debug().Msgf(msg, args...) }
func (l waLogger) Debugf(msg string, args ...interface{}) { l.log.Trace().Msgf(msg, args...) }
func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With().Str("module", module).Logger()}
}
