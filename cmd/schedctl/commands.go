package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/usecase/groups"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Показать расписание",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := current.schedules.List(cmd.Context())
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var (
		to, at, text, media, caption, question, options string
		multi                                           bool
	)
	cmd := &cobra.Command{
		Use:   "add <message|image|video|poll>",
		Short: "Добавить запись или пакет записей",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			when, err := domain.ParseWallClock(at)
			if err != nil {
				return err
			}
			recipients := groups.ParseRecipients(to)
			if len(recipients) == 0 {
				return domain.ErrNoRecipients
			}
			draft := domain.Draft{
				Text:          text,
				MediaPath:     media,
				Caption:       caption,
				Question:      question,
				Options:       domain.ParseOptions(options),
				AllowMultiple: multi,
			}
			created, err := current.schedules.Create(cmd.Context(), kind, draft, recipients, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(current.out, "Запланировано записей: %d\n", len(created))
			for _, e := range created {
				fmt.Fprintf(current.out, "  %s → %s\n", domain.FormatWallClock(e.ScheduledAt), e.RecipientGroup)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&to, "to", "", "группы через запятую")
	f.StringVar(&at, "at", "", "время YYYY-MM-DD HH:MM")
	f.StringVar(&text, "text", "", "текст сообщения")
	f.StringVar(&media, "media", "", "путь к файлу на сервере")
	f.StringVar(&caption, "caption", "", "подпись к медиа")
	f.StringVar(&question, "question", "", "вопрос опроса")
	f.StringVar(&options, "options", "", "варианты опроса через запятую")
	f.BoolVar(&multi, "multi", false, "разрешить несколько ответов")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func editCmd() *cobra.Command {
	var at, text, caption string
	cmd := &cobra.Command{
		Use:   "edit <N>",
		Short: "Изменить запись по номеру из list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, n, err := entryAt(cmd, args[0])
			if err != nil {
				return err
			}
			updated := target.Clone()
			if at != "" {
				if updated.ScheduledAt, err = domain.ParseWallClock(at); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("text") {
				updated.Text = text
			}
			if cmd.Flags().Changed("caption") {
				updated.Caption = caption
			}
			result, err := current.schedules.Edit(cmd.Context(), target, updated)
			if err != nil {
				return err
			}
			fmt.Fprintln(current.out, "Изменено:", formatEntry(n, result))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "новое время YYYY-MM-DD HH:MM")
	cmd.Flags().StringVar(&text, "text", "", "новый текст")
	cmd.Flags().StringVar(&caption, "caption", "", "новая подпись")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <N>",
		Short: "Удалить запись по номеру из list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			removed, err := current.schedules.Delete(cmd.Context(), n-1)
			if err != nil {
				return err
			}
			fmt.Fprintln(current.out, "Удалено:", formatEntry(n, removed))
			return nil
		},
	}
}

func doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <N>",
		Short: "Отметить запись выполненной",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, n, err := entryAt(cmd, args[0])
			if err != nil {
				return err
			}
			result, err := current.schedules.MarkDone(cmd.Context(), target, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(current.out, "Выполнено:", formatEntry(n, result))
			return nil
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [file.json]",
		Short: "Заменить список из JSON файла или перечитать хранилище сервера",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				res, err := current.client.Reload(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(current.out, "Перечитано записей: %d\n", res.Count)
				return nil
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries []domain.Entry
			if err := json.Unmarshal(raw, &entries); err != nil {
				return fmt.Errorf("разбор %s: %w", args[0], err)
			}
			if err := current.client.Replace(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Fprintf(current.out, "Загружено записей: %d\n", len(entries))
			return nil
		},
	}
}

func finishedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finished",
		Short: "Архив отправленных записей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := current.client.ListFinished(cmd.Context())
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <N>",
		Short: "Удалить запись архива",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return current.client.DeleteFinished(cmd.Context(), n-1)
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Очистить архив",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return current.client.ClearFinished(cmd.Context())
		},
	})
	return cmd
}

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Известные группы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := current.groups.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(current.out, name)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Добавить группу",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := current.groups.Add(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintln(current.out, "Группа уже есть")
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "delete <name>",
		Short: "Удалить группу",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.groups.Delete(cmd.Context(), strings.Join(args, " "))
		},
	})
	return cmd
}

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "Управление движком доставки"}
	run := func(use, short string, call func(*cobra.Command) error) *cobra.Command {
		return &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd)
		}}
	}
	cmd.AddCommand(
		run("status", "Состояние движка", func(cmd *cobra.Command) error {
			st, err := current.client.SchedulerStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(current.out, "running=%t count=%d\n", st.Running, st.Count)
			return nil
		}),
		run("start", "Запустить движок", func(cmd *cobra.Command) error {
			st, err := current.client.StartScheduler(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(current.out, "running=%t %s\n", st.Running, st.Message)
			return nil
		}),
		run("stop", "Остановить движок", func(cmd *cobra.Command) error {
			st, err := current.client.StopScheduler(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(current.out, "running=%t %s\n", st.Running, st.Message)
			return nil
		}),
	)
	return cmd
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Загрузить медиафайл и вывести путь на сервере",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			res, err := current.client.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(current.out, "%s (%s)\n", res.Path, humanize.IBytes(uint64(info.Size())))
			return nil
		},
	}
}

func entryAt(cmd *cobra.Command, raw string) (domain.Entry, int, error) {
	n, err := parseIndex(raw)
	if err != nil {
		return domain.Entry{}, 0, err
	}
	entries, err := current.schedules.List(cmd.Context())
	if err != nil {
		return domain.Entry{}, 0, err
	}
	if n > len(entries) {
		return domain.Entry{}, 0, fmt.Errorf("%w: %d из %d", domain.ErrIndexOutOfRange, n, len(entries))
	}
	return entries[n-1], n, nil
}

func parseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("номер записи должен быть целым числом от 1, получено %q", raw)
	}
	return n, nil
}

func printEntries(entries []domain.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(current.out, "Пусто")
		return
	}
	for i, e := range entries {
		fmt.Fprintln(current.out, formatEntry(i+1, e))
	}
}

func formatEntry(n int, e domain.Entry) string {
	status := "pending"
	if e.IsDone() {
		status = "done"
	}
	line := fmt.Sprintf("%3d. [%s] %s (%s) %s · %s",
		n, status, domain.FormatWallClock(e.ScheduledAt), humanize.Time(e.ScheduledAt), e.RecipientGroup, e.Kind)
	if content := e.PrimaryContent(); content != "" {
		line += ": " + content
	}
	return line
}
