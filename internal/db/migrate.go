package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// MigrateCommands lists the sub-commands accepted by RunMigrate.
var MigrateCommands = []string{"up", "down", "version", "force"}

// RunMigrate applies or rolls back the helpdesk schema.
// migrationsFS holds the .sql files at its root.
func RunMigrate(log *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	if err := checkMigrateArgs(command, args); err != nil {
		return err
	}
	log = logger.OrDefault(log).With(slog.String("component", "migrate"))

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{log: log}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		ver, dirty, _ := m.Version()
		log.Info("schema up to date", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info("schema rolled back")
	case "version":
		ver, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		log.Info("schema version", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	case "force":
		version, _ := strconv.Atoi(args[0])
		if err := m.Force(version); err != nil {
			return fmt.Errorf("migrate force: %w", err)
		}
		log.Info("schema version forced", slog.Int("version", version))
	}
	return nil
}

func checkMigrateArgs(command string, args []string) error {
	switch command {
	case "up", "down", "version":
		return nil
	case "force":
		if len(args) == 0 {
			return errors.New("force requires a version number argument")
		}
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate command: %s (use: up, down, version, force)", command)
	}
}

type migrateLogger struct {
	log *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool { return false }
