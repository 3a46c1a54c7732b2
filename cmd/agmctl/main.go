// agmctl 是大会投票系统的运维命令行工具
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/SlpAus/agm-voting-backend/internal/audit"
	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/platform/startup"
	"github.com/SlpAus/agm-voting-backend/internal/staff"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	if err := newApp(os.Stdout, os.Stdin).Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer, in io.Reader) *cli.Command {
	return &cli.Command{
		Name:  "agmctl",
		Usage: "AGM voting backend operator tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "driver", Value: "sqlite", Usage: "database driver (sqlite|postgres)", Sources: cli.EnvVars("DATABASE_DRIVER")},
			&cli.StringFlag{Name: "dsn", Value: "agm.db", Usage: "database DSN", Sources: cli.EnvVars("DATABASE_DSN")},
		},
		Writer: out,
		Reader: in,
		Commands: []*cli.Command{
			seedCommand(),
			eventsCommand(),
			auditCommand(),
			exportCVRCommand(),
			hashPasswordCommand(),
		},
	}
}

// openDB 按全局参数打开数据库并迁移表结构
func openDB(c *cli.Command) (*gorm.DB, error) {
	db, err := database.Open(config.DatabaseConfig{Driver: c.String("driver"), DSN: c.String("dsn")})
	if err != nil {
		return nil, err
	}
	if err := startup.MigrateDB(db); err != nil {
		return nil, err
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Create an event with its ballot and roster from a YAML file",
		ArgsUsage: "<roster.yaml>",
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("需要名单文件路径")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			spec, err := parseRoster(f)
			if err != nil {
				return err
			}
			db, err := openDB(c)
			if err != nil {
				return err
			}
			defer closeDB(db)

			ev, err := event.Seed(ctx, db, spec)
			if err != nil {
				return err
			}
			slog.Info("event_seeded", "session_uuid", ev.SessionUUID, "segments", len(spec.Segments), "voters", len(spec.Voters))
			fmt.Fprintln(c.Root().Writer, ev.SessionUUID)
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	setActive := func(active bool) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			db, err := openDB(c)
			if err != nil {
				return err
			}
			defer closeDB(db)
			return event.SetActive(ctx, db, c.String("event"), active)
		}
	}
	eventFlag := &cli.StringFlag{Name: "event", Required: true, Usage: "event session uuid"}

	return &cli.Command{
		Name:  "events",
		Usage: "Inspect and toggle events",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all events",
				Action: func(ctx context.Context, c *cli.Command) error {
					db, err := openDB(c)
					if err != nil {
						return err
					}
					defer closeDB(db)

					events, err := event.List(ctx, db)
					if err != nil {
						return err
					}
					w := c.Root().Writer
					for _, ev := range events {
						state := "inactive"
						if ev.IsActive {
							state = "active"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\n", ev.SessionUUID, state, ev.Title)
					}
					return nil
				},
			},
			{Name: "activate", Usage: "Reopen an event", Flags: []cli.Flag{eventFlag}, Action: setActive(true)},
			{Name: "deactivate", Usage: "Close an event to verification and voting", Flags: []cli.Flag{eventFlag}, Action: setActive(false)},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit chain commands",
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "Recompute the hash chain of an event and report the first broken entry",
				Flags: []cli.Flag{&cli.StringFlag{Name: "event", Required: true, Usage: "event session uuid"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					db, err := openDB(c)
					if err != nil {
						return err
					}
					defer closeDB(db)

					ev, err := event.BySessionUUID(ctx, db, c.String("event"))
					if err != nil {
						return err
					}
					n, err := audit.Verify(db.WithContext(ctx), ev.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "ok: %d entries\n", n)
					return nil
				},
			},
		},
	}
}

func exportCVRCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-cvr",
		Usage: "Write the cast vote records of an event as CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Required: true, Usage: "event session uuid"},
			&cli.StringFlag{Name: "out", Usage: "output file, stdout when empty"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := openDB(c)
			if err != nil {
				return err
			}
			defer closeDB(db)

			rows, err := ballot.NewService(db, nil, nil).ExportCVR(ctx, c.String("event"))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return ballot.WriteCVR(w, rows)
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Print a bcrypt hash for a staff account (password read from stdin)",
		Action: func(ctx context.Context, c *cli.Command) error {
			line, err := bufio.NewReader(c.Root().Reader).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("密码不能为空")
			}
			hash, err := staff.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, hash)
			return nil
		},
	}
}
