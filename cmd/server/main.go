package main

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/bus"
	"github.com/dynacloud/killbill/internal/cache"
	"github.com/dynacloud/killbill/internal/clock"
	"github.com/dynacloud/killbill/internal/config"
	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/invoice"
	"github.com/dynacloud/killbill/internal/domain/overdue"
	"github.com/dynacloud/killbill/internal/domain/payment"
	"github.com/dynacloud/killbill/internal/domain/subscription"
	"github.com/dynacloud/killbill/internal/email"
	"github.com/dynacloud/killbill/internal/locker"
	"github.com/dynacloud/killbill/internal/logger"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/pubsub"
	pubsubMemory "github.com/dynacloud/killbill/internal/pubsub/memory"
	"github.com/dynacloud/killbill/internal/repository/memory"
	"github.com/dynacloud/killbill/internal/service"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Clock
			clock.New,

			// Cache
			cache.NewInMemoryCache,

			// PubSub and event bus
			providePubSub,
			providePublisher,
			bus.NewEventBus,

			// Locker
			locker.NewMemoryLocker,

			// Notifications
			provideNotificationQueue,

			// Email
			provideEmailSender,

			// Repositories. The engine treats persistence as an external
			// collaborator; these in-memory implementations back the dev
			// server, durable ones slot in behind the same interfaces.
			provideRepositories,

			// Overdue state set
			provideStateSet,

			// Plugin gateway
			provideNoopPlugin,

			// Services
			provideServiceParams,
			service.NewRetryService,
			service.NewPaymentProcessor,
			service.NewInvoiceDispatcher,
			service.NewOverdueApplicator,
		),
		fx.Invoke(
			registerServices,
			startNotificationLoop,
			startEventConsumer,
		),
	)
	app.Run()
}

func providePubSub(logger *logger.Logger) pubsub.PubSub {
	return pubsubMemory.NewPubSub(logger)
}

func providePublisher(ps pubsub.PubSub) pubsub.Publisher {
	return ps
}

func provideNotificationQueue(cl clock.Clock, log *logger.Logger) (*notification.InMemoryQueue, notification.Queue) {
	q := notification.NewInMemoryQueue(cl, log)
	return q, q
}

func provideEmailSender(cfg *config.Configuration) email.Sender {
	return email.NewClient(cfg)
}

type repositories struct {
	fx.Out

	AccountProvider account.Provider
	TagStore        account.TagStore
	Timeline        subscription.Timeline
	Entitlement     subscription.Entitlement
	InvoiceRepo     invoice.Repository
	PaymentRepo     payment.Repository
	BlockingStore   overdue.BlockingStore
}

func provideRepositories(cl clock.Clock, c cache.Cache) repositories {
	subscriptionStore := memory.NewSubscriptionStore(cl)
	return repositories{
		AccountProvider: memory.NewAccountStore(),
		TagStore:        account.NewCachedTagStore(memory.NewTagStore(), c),
		Timeline:        subscriptionStore,
		Entitlement:     subscriptionStore,
		InvoiceRepo:     memory.NewInvoiceStore(),
		PaymentRepo:     memory.NewPaymentStore(),
		BlockingStore:   memory.NewBlockingStore(),
	}
}

func provideStateSet(cfg *config.Configuration) (*overdue.StateSet, error) {
	return overdue.NewStateSet(cfg.Overdue)
}

// devPlugin approves everything. Real gateways implement payment.Plugin
// behind the same contract.
type devPlugin struct{}

func (devPlugin) ProcessPayment(_ context.Context, _, _, _ string, amount decimal.Decimal, currency string) (*payment.PluginResult, error) {
	return &payment.PluginResult{
		Status:            types.PaymentPluginStatusProcessed,
		ProcessedAmount:   amount,
		ProcessedCurrency: currency,
	}, nil
}

func provideNoopPlugin() payment.Plugin {
	return devPlugin{}
}

func provideServiceParams(
	log *logger.Logger,
	cfg *config.Configuration,
	cl clock.Clock,
	repos repositoriesIn,
	plugin payment.Plugin,
	lk locker.AccountLocker,
	eventBus bus.EventBus,
	notifications notification.Queue,
	sender email.Sender,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:          log,
		Config:          cfg,
		Clock:           cl,
		AccountProvider: repos.AccountProvider,
		TagStore:        repos.TagStore,
		Timeline:        repos.Timeline,
		Entitlement:     repos.Entitlement,
		InvoiceRepo:     repos.InvoiceRepo,
		PaymentRepo:     repos.PaymentRepo,
		BlockingStore:   repos.BlockingStore,
		PaymentPlugin:   plugin,
		Locker:          lk,
		EventBus:        eventBus,
		Notifications:   notifications,
		EmailSender:     sender,
	}
}

type repositoriesIn struct {
	fx.In

	AccountProvider account.Provider
	TagStore        account.TagStore
	Timeline        subscription.Timeline
	Entitlement     subscription.Entitlement
	InvoiceRepo     invoice.Repository
	PaymentRepo     payment.Repository
	BlockingStore   overdue.BlockingStore
}

// registerServices forces construction of the services that register
// notification handlers in their constructors.
func registerServices(_ *service.PaymentProcessor, _ *service.InvoiceDispatcher, _ *service.OverdueApplicator) {
}

// startNotificationLoop runs the future-check queue poller.
func startNotificationLoop(lc fx.Lifecycle, q *notification.InMemoryQueue) {
	loopCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go q.Run(loopCtx, time.Second)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

// startEventConsumer subscribes to the bus and feeds invoice adjustment
// and payment outcomes into overdue re-evaluation. Consumers are
// idempotent; duplicate delivery is tolerated.
func startEventConsumer(lc fx.Lifecycle, ps pubsub.PubSub, applicator *service.OverdueApplicator, log *logger.Logger) {
	consumerCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			messages, err := ps.Subscribe(consumerCtx, serviceBusTopic())
			if err != nil {
				return err
			}
			go consumeEvents(consumerCtx, messages, applicator, log)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
