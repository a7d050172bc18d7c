package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/infra/metrics"
)

var _ domain.Sender = (*Sender)(nil)

var (
	// ErrNotLoggedIn возвращается, если сессия не подключена.
	ErrNotLoggedIn = errors.New("whatsapp: сессия не подключена")
	// ErrUnknownGroup возвращается, если группа не найдена среди чатов.
	ErrUnknownGroup = errors.New("whatsapp: группа не найдена")
)

// Client — часть whatsmeow.Client, которую использует отправитель.
type Client interface {
	IsConnected() bool
	IsLoggedIn() bool
	GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	BuildPollCreation(name string, optionNames []string, selectableOptionCount int) *waE2E.Message
}

var _ Client = (*whatsmeow.Client)(nil)

// SenderConfig задаёт ограничения отправки.
type SenderConfig struct {
	RPS       float64
	Burst     int
	GroupsTTL time.Duration
}

// Sender отправляет записи в группы WhatsApp.
type Sender struct {
	client    Client
	limiter   *rate.Limiter
	groupsTTL time.Duration
	log       zerolog.Logger
	readFile  func(string) ([]byte, error)
	now       func() time.Time

	mu      sync.Mutex
	groups  map[string]types.JID
	fetched time.Time
}

// NewSender создаёт отправителя. RPS <= 0 отключает ограничение.
func NewSender(client Client, cfg SenderConfig, logger zerolog.Logger) *Sender {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.GroupsTTL <= 0 {
		cfg.GroupsTTL = 5 * time.Minute
	}
	return &Sender{
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
		groupsTTL: cfg.GroupsTTL,
		log:       log.Component(logger, "whatsapp"),
		readFile:  os.ReadFile,
		now:       time.Now,
	}
}

// Send отправляет запись в группу по её имени.
func (s *Sender) Send(ctx context.Context, e domain.Entry) error {
	if !s.client.IsConnected() || !s.client.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	jid, err := s.resolve(ctx, e.RecipientGroup)
	if err != nil {
		return err
	}
	msg, err := s.build(ctx, e)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	resp, err := s.client.SendMessage(ctx, jid, msg)
	metrics.ObserveNetworkRequest("whatsapp", "send_"+string(e.Kind), "whatsapp", start, err)
	if err != nil {
		return fmt.Errorf("whatsapp: отправка в %q: %w", e.RecipientGroup, err)
	}
	s.log.Info().Str("group", e.RecipientGroup).Str("message_id", resp.ID).Str("type", string(e.Kind)).Msg("whatsapp: отправлено")
	return nil
}

func (s *Sender) build(ctx context.Context, e domain.Entry) (*waE2E.Message, error) {
	switch e.Kind {
	case domain.KindMessage:
		return &waE2E.Message{Conversation: proto.String(e.Text)}, nil
	case domain.KindImage, domain.KindVideo:
		return s.media(ctx, e)
	case domain.KindPoll:
		selectable := 1
		if e.AllowMultiple {
			selectable = 0
		}
		return s.client.BuildPollCreation(e.Question, domain.DistinctOptions(e.Options), selectable), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, e.Kind)
	}
}

func (s *Sender) media(ctx context.Context, e domain.Entry) (*waE2E.Message, error) {
	data, err := s.readFile(e.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: чтение %s: %w", e.MediaPath, err)
	}
	mediaType := whatsmeow.MediaImage
	if e.Kind == domain.KindVideo {
		mediaType = whatsmeow.MediaVideo
	}
	start := time.Now()
	up, err := s.client.Upload(ctx, data, mediaType)
	metrics.ObserveNetworkRequest("whatsapp", "upload_"+string(e.Kind), "whatsapp", start, err)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: загрузка медиа: %w", err)
	}
	mimetype := http.DetectContentType(data)
	if e.Kind == domain.KindImage {
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(e.Caption),
		}}, nil
	}
	if !strings.HasPrefix(mimetype, "video/") {
		mimetype = "video/mp4"
	}
	return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Caption:       proto.String(e.Caption),
	}}, nil
}

// resolve находит JID группы по имени. Список групп кешируется на groupsTTL,
// при промахе перечитывается один раз.
func (s *Sender) resolve(ctx context.Context, name string) (types.JID, error) {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, "@"+types.GroupServer) {
		return types.ParseJID(name)
	}
	key := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.groups != nil && s.now().Sub(s.fetched) < s.groupsTTL
	if fresh {
		if jid, ok := s.groups[key]; ok {
			return jid, nil
		}
	}
	if err := s.refresh(ctx); err != nil {
		return types.JID{}, err
	}
	if jid, ok := s.groups[key]; ok {
		return jid, nil
	}
	return types.JID{}, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
}

func (s *Sender) refresh(ctx context.Context) error {
	start := time.Now()
	joined, err := s.client.GetJoinedGroups(ctx)
	metrics.ObserveNetworkRequest("whatsapp", "joined_groups", "whatsapp", start, err)
	if err != nil {
		return fmt.Errorf("whatsapp: список групп: %w", err)
	}
	groups := make(map[string]types.JID, len(joined))
	for _, g := range joined {
		if g == nil {
			continue
		}
		groups[strings.ToLower(strings.TrimSpace(g.Name))] = g.JID
	}
	s.groups = groups
	s.fetched = s.now()
	s.log.Debug().Int("groups", len(groups)).Msg("whatsapp: список групп обновлён")
	return nil
}
