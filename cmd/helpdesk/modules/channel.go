package modules

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/meta"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/telegram"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/webhook"
	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/inbound"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/postgres"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

var ChannelModule = fx.Module(
	"channel",
	fx.Provide(
		provideChannelRegistry,
		provideChannelManager,
		provideProxy,
	),
	fx.Invoke(
		wireChannels,
		startChannelManager,
	),
)

// ---------------------------------------------------------------------------
// channel adapters, session manager and dispatch proxy
// ---------------------------------------------------------------------------

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	graph := meta.NewClient(log, cfg.Channels.MetaGraphURL, cfg.Channels.WebhookTimeout)
	registry.MustRegister(telegram.NewTelegramAdapter(log, cfg.Channels.TelegramEndpoint))
	registry.MustRegister(meta.NewWhatsAppAdapter(graph))
	registry.MustRegister(meta.NewMessengerAdapter(graph))
	registry.MustRegister(meta.NewInstagramAdapter(graph))
	registry.MustRegister(webhook.NewAdapter(log, cfg.Channels.WebhookTimeout))
	return registry
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, store *postgres.Store, events event.Broadcaster, cfg config.Config) *channel.Manager {
	// the processor depends on the proxy, which depends on the manager; wireChannels closes the loop
	return channel.NewManager(log, registry, store, nil, events, cfg.Channels.SessionRefresh)
}

func provideProxy(log *slog.Logger, registry *channel.Registry, manager *channel.Manager, c *contacts.Service, t *ticket.Service, m *message.Service) *dispatch.Proxy {
	return dispatch.NewProxy(log, registry, manager, c, t, m)
}

func wireChannels(manager *channel.Manager, processor *inbound.Processor, messages *message.Service, proxy *dispatch.Proxy) {
	manager.SetProcessor(processor)
	messages.SetRecaller(proxy)
}

func startChannelManager(lc fx.Lifecycle, role Role, manager *channel.Manager) {
	if !role.Channels {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			manager.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return manager.Shutdown(stopCtx)
		},
	})
}
