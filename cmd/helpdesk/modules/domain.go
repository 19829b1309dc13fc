package modules

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/inbound"
	"github.com/jvkabum/vue3-izing-sub001/internal/jobs"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/postgres"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		provideContacts,
		provideSettings,
		provideTickets,
		provideMessages,
		provideCampaigns,
		provideJobs,
		provideOutbox,
		provideStepper,
		provideProcessor,
	),
)

// ---------------------------------------------------------------------------
// domain services
// ---------------------------------------------------------------------------

func provideContacts(log *slog.Logger, store *postgres.Store) *contacts.Service {
	return contacts.NewService(log, store)
}

func provideSettings(log *slog.Logger, store *postgres.Store, cfg config.Config) *settings.Service {
	return settings.NewService(log, store, settings.Options{
		DaysToClose:            cfg.Helpdesk.DefaultDaysToClose,
		ChatbotInactiveMinutes: cfg.Helpdesk.DefaultChatbotInactiveMin,
		CacheTTL:               cfg.Helpdesk.SettingsCacheTTL,
	})
}

func provideTickets(log *slog.Logger, store *postgres.Store, events event.Broadcaster) *ticket.Service {
	return ticket.NewService(log, store, events)
}

func provideMessages(log *slog.Logger, store *postgres.Store, events event.Broadcaster) *message.Service {
	return message.NewService(log, store, events)
}

func provideCampaigns(log *slog.Logger, store *postgres.Store, q *queue.Queue) *campaign.Service {
	return campaign.NewService(log, store, q)
}

type jobsParams struct {
	fx.In

	Logger    *slog.Logger
	Config    config.Config
	Tickets   *ticket.Service
	Messages  *message.Service
	Settings  *settings.Service
	Contacts  *contacts.Service
	Campaigns *campaign.Service
	Proxy     *dispatch.Proxy
	Queue     *queue.Queue
}

func provideJobs(p jobsParams) *jobs.Jobs {
	return jobs.New(p.Logger, p.Tickets, p.Messages, p.Settings, p.Contacts, p.Campaigns, p.Proxy, p.Queue, jobs.Options{
		CloseSweepCron: p.Config.Helpdesk.CloseSweepCron,
	})
}

func provideOutbox(j *jobs.Jobs) *jobs.Outbox {
	return j.Outbox()
}

func provideStepper(log *slog.Logger, store *postgres.Store, tickets *ticket.Service, outbox *jobs.Outbox, cfg *settings.Service) *autoreply.Stepper {
	return autoreply.NewStepper(log, store, tickets, outbox, cfg)
}

func provideProcessor(log *slog.Logger, c *contacts.Service, t *ticket.Service, m *message.Service, s *autoreply.Stepper, j *jobs.Jobs) *inbound.Processor {
	return inbound.NewProcessor(log, c, t, m, s, j)
}
