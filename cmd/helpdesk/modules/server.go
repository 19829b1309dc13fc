package modules

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/handlers"
	"github.com/jvkabum/vue3-izing-sub001/internal/jobs"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/server"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
	"github.com/jvkabum/vue3-izing-sub001/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(provideTicketHandler),
		provideServerHandler(provideMessageHandler),
		provideServerHandler(provideUserHandler),
		provideServerHandler(provideCampaignHandler),
		provideServerHandler(provideWebhookHandler),
		provideServerHandler(event.NewWSHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

// ---------------------------------------------------------------------------
// handlers
// ---------------------------------------------------------------------------

func provideTicketHandler(log *slog.Logger, tickets *ticket.Service, outbox *jobs.Outbox, messages *message.Service) *handlers.TicketHandler {
	return handlers.NewTicketHandler(log, tickets, outbox, messages)
}

func provideMessageHandler(log *slog.Logger, messages *message.Service) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, messages)
}

func provideUserHandler(log *slog.Logger, tickets *ticket.Service) *handlers.UserHandler {
	return handlers.NewUserHandler(log, tickets)
}

func provideCampaignHandler(log *slog.Logger, campaigns *campaign.Service) *handlers.CampaignHandler {
	return handlers.NewCampaignHandler(log, campaigns)
}

func provideWebhookHandler(log *slog.Logger, manager *channel.Manager, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, manager, cfg.Channels.MetaVerifyToken)
}

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting helpdesk %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
