package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wa-scheduler/internal/adapters/storeclient"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/config"
	"wa-scheduler/internal/infra/log"
	"wa-scheduler/internal/usecase/groups"
	"wa-scheduler/internal/usecase/schedule"
)

// app собирает зависимости для команд после разбора флагов.
type app struct {
	client    *storeclient.Client
	schedules *schedule.Service
	groups    *groups.Service
	out       *os.File
}

var (
	flagURL     string
	flagToken   string
	flagEnvFile string
	current     app
)

var rootCmd = &cobra.Command{
	Use:           "schedctl",
	Short:         "Управление расписанием рассылок WhatsApp через API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if flagEnvFile != "" {
			if err := config.DotEnv(flagEnvFile); err != nil {
				return fmt.Errorf("чтение %s: %w", flagEnvFile, err)
			}
		}
		cfg, err := config.Parse()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return fmt.Errorf("часовой пояс %q: %w", cfg.TZ, err)
		}
		domain.SetLocation(loc)

		url := cfg.Store.URL
		if cmd.Flags().Changed("url") || url == "" {
			url = flagURL
		}
		token := cfg.APIToken
		if cmd.Flags().Changed("token") {
			token = flagToken
		}
		client, err := storeclient.New(url, storeclient.WithTimeout(cfg.Store.Timeout), storeclient.WithToken(token))
		if err != nil {
			return err
		}
		logger := log.NewLogger(cfg.AppEnv).Level(zerolog.WarnLevel)
		current = app{
			client: client,
			schedules: schedule.NewService(client, schedule.Policy{
				CreateThreshold: cfg.CreateThreshold(),
				EditThreshold:   cfg.EditThreshold(),
				CrossCheckBatch: cfg.Schedule.CrossCheckBatch,
				Rebase:          cfg.Schedule.Rebase,
			}, logger),
			groups: groups.NewService(client),
			out:    os.Stdout,
		}
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "http://localhost:8000", "адрес API (по умолчанию STORE_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "токен API (по умолчанию API_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "дополнительный .env файл")

	rootCmd.AddCommand(listCmd(), addCmd(), editCmd(), deleteCmd(), doneCmd(), loadCmd())
	rootCmd.AddCommand(finishedCmd(), groupsCmd(), schedulerCmd(), uploadCmd())
}

func main() {
	// Корневой .env подхватывается так же, как в сервисах.
	_ = config.DotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ошибка:", err)
		os.Exit(1)
	}
}
