package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/postgres"
)

// Role selects which parts of the process run.
type Role struct {
	// Name tags log lines and the event origin ("serve" or "worker").
	Name string
	// HTTP serves the API and the websocket fan-out.
	HTTP bool
	// Channels keeps live platform connections (long polling, session health).
	Channels bool
	// Workers consumes queue jobs and arms the recurring schedules.
	Workers bool
}

// ConfigPath is the TOML file handed over by the command line.
type ConfigPath string

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideDBConn,
		provideStore,
		provideHub,
		provideRabbit,
		provideBroadcaster,
	),
	fx.Invoke(startRabbitConsumer),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig(path ConfigPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config, role Role) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L.With(slog.String("role", role.Name))
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideStore(conn *pgxpool.Pool) *postgres.Store {
	return postgres.New(conn)
}

func provideHub(log *slog.Logger) *event.Hub {
	return event.NewHub(log)
}

// provideRabbit dials the event exchange when one is configured; nil keeps events in-process.
func provideRabbit(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, hub *event.Hub) (*event.RabbitBridge, error) {
	if !cfg.RabbitMQ.Enabled() {
		return nil, nil
	}
	bridge, err := event.DialRabbit(log, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, hub.Origin())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bridge.Close()
		},
	})
	return bridge, nil
}

func provideBroadcaster(hub *event.Hub, bridge *event.RabbitBridge) event.Broadcaster {
	if bridge == nil {
		return hub
	}
	return event.Fanout{hub, bridge}
}

// startRabbitConsumer re-delivers events published by other processes into the local hub.
// Only processes with websocket clients need them.
func startRabbitConsumer(lc fx.Lifecycle, log *slog.Logger, role Role, hub *event.Hub, bridge *event.RabbitBridge) {
	if bridge == nil || !role.HTTP {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := bridge.Consume(ctx, hub); err != nil {
					log.Error("rabbitmq consumer stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
