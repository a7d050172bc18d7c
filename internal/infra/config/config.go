package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Africa/Cairo"`
	Port        int    `envconfig:"PORT" default:"8000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	APIToken    string `envconfig:"API_TOKEN"`

	Store struct {
		// Driver: file, postgres, redis или http (удалённый API).
		Driver  string        `envconfig:"STORE_DRIVER" default:"file"`
		Dir     string        `envconfig:"STORE_DIR" default:"data"`
		URL     string        `envconfig:"STORE_URL" default:"http://localhost:8000"`
		Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
		Prefix  string        `envconfig:"STORE_REDIS_PREFIX" default:"wa"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Schedule struct {
		CreateThresholdMinutes int  `envconfig:"CREATE_THRESHOLD_MINUTES" default:"1"`
		EditThresholdMinutes   int  `envconfig:"EDIT_THRESHOLD_MINUTES" default:"2"`
		CrossCheckBatch        bool `envconfig:"BATCH_CROSS_CHECK" default:"true"`
		Rebase                 bool `envconfig:"SCHEDULE_REBASE" default:"true"`
	} `envconfig:""`

	Delivery struct {
		Cron      string        `envconfig:"DELIVERY_CRON" default:"* * * * *"`
		Grace     time.Duration `envconfig:"DELIVERY_GRACE" default:"2m"`
		LockTTL   time.Duration `envconfig:"DELIVERY_LOCK_TTL" default:"10m"`
		AutoStart bool          `envconfig:"DELIVERY_AUTOSTART" default:"false"`
		// Mode: direct — отправка из процесса движка, queue — через очередь.
		Mode string `envconfig:"DELIVERY_MODE" default:"direct"`
	} `envconfig:""`

	Queues struct {
		Driver   string `envconfig:"QUEUE_DRIVER" default:"redis"`
		Delivery string `envconfig:"DELIVERY_QUEUE_KEY" default:"delivery_jobs"`
	} `envconfig:""`

	WhatsApp struct {
		Enabled    bool          `envconfig:"WA_ENABLED" default:"false"`
		Dialect    string        `envconfig:"WA_SESSION_DIALECT" default:"sqlite3"`
		SessionDSN string        `envconfig:"WA_SESSION_DSN" default:"file:data/whatsapp.db?_foreign_keys=on"`
		SendRPS    float64       `envconfig:"WA_SEND_RPS" default:"0.5"`
		SendBurst  int           `envconfig:"WA_SEND_BURST" default:"1"`
		GroupsTTL  time.Duration `envconfig:"WA_GROUPS_TTL" default:"5m"`
	} `envconfig:""`

	Telegram struct {
		Token          string  `envconfig:"TG_BOT_TOKEN"`
		WebhookURL     string  `envconfig:"TG_WEBHOOK_URL"`
		WebhookAddr    string  `envconfig:"TG_WEBHOOK_ADDR" default:":8080"`
		OperatorChatID int64   `envconfig:"TG_OPERATOR_CHAT_ID"`
		AllowedUsers   []int64 `envconfig:"TG_ALLOWED_USERS"`
	} `envconfig:""`

	Uploads struct {
		Dir      string `envconfig:"UPLOADS_DIR" default:"uploads"`
		MaxBytes int64  `envconfig:"UPLOADS_MAX_BYTES" default:"67108864"`
	} `envconfig:""`
}

// Load загружает .env, если он есть, и конфиг из окружения. Уже заданные
// переменные окружения не перезаписываются.
func Load() AppConfig {
	_ = godotenv.Load()
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse загружает конфиг и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Location возвращает часовой пояс из TZ.
func (c AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TZ)
}

// DotEnv загружает переменные из указанных файлов.
func DotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// CreateThreshold возвращает порог для создания записей.
func (c AppConfig) CreateThreshold() time.Duration {
	return time.Duration(c.Schedule.CreateThresholdMinutes) * time.Minute
}

// EditThreshold возвращает порог для редактирования записей.
func (c AppConfig) EditThreshold() time.Duration {
	return time.Duration(c.Schedule.EditThresholdMinutes) * time.Minute
}
