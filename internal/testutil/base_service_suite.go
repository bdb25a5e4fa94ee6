package testutil

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/clock"
	"github.com/dynacloud/killbill/internal/config"
	"github.com/dynacloud/killbill/internal/locker"
	"github.com/dynacloud/killbill/internal/logger"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/repository/memory"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository implementations for testing
type Stores struct {
	AccountRepo      *memory.AccountStore
	TagRepo          *memory.TagStore
	SubscriptionRepo *memory.SubscriptionStore
	InvoiceRepo      *memory.InvoiceStore
	PaymentRepo      *memory.PaymentStore
	BlockingRepo     *memory.BlockingStore
}

// BaseServiceTestSuite provides common functionality for all service test
// suites: in-memory stores, a test clock, a recording bus, and a
// notification queue driven by the clock.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx           context.Context
	stores        Stores
	clock         *clock.TestClock
	eventBus      *InMemoryEventBus
	notifications *notification.InMemoryQueue
	entitlement   *MockEntitlement
	plugin        *MockPaymentPlugin
	locker        locker.AccountLocker
	logger        *logger.Logger
	config        *config.Configuration
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.logger = logger.NewNopLogger()
	s.config = config.GetDefaultConfig()
	s.clock = clock.NewTestClock(time.Date(2012, time.April, 1, 0, 0, 0, 0, time.UTC))

	s.ctx = context.Background()
	s.ctx = types.SetTenantID(s.ctx, types.DefaultTenantID)
	s.ctx = types.SetUserID(s.ctx, types.DefaultUserID)

	s.stores = Stores{
		AccountRepo:      memory.NewAccountStore(),
		TagRepo:          memory.NewTagStore(),
		SubscriptionRepo: memory.NewSubscriptionStore(s.clock),
		InvoiceRepo:      memory.NewInvoiceStore(),
		PaymentRepo:      memory.NewPaymentStore(),
		BlockingRepo:     memory.NewBlockingStore(),
	}
	s.eventBus = NewInMemoryEventBus()
	s.notifications = notification.NewInMemoryQueue(s.clock, s.logger)
	s.entitlement = NewMockEntitlement()
	s.plugin = NewMockPaymentPlugin()
	s.locker = locker.NewMemoryLocker(s.config)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.AccountRepo.Clear()
	s.stores.TagRepo.Clear()
	s.stores.SubscriptionRepo.Clear()
	s.stores.InvoiceRepo.Clear()
	s.stores.PaymentRepo.Clear()
	s.stores.BlockingRepo.Clear()
	s.eventBus.Clear()
	s.entitlement.Clear()
	s.plugin.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context { return s.ctx }

func (s *BaseServiceTestSuite) GetStores() Stores { return s.stores }

func (s *BaseServiceTestSuite) GetClock() *clock.TestClock { return s.clock }

func (s *BaseServiceTestSuite) GetEventBus() *InMemoryEventBus { return s.eventBus }

func (s *BaseServiceTestSuite) GetNotifications() *notification.InMemoryQueue { return s.notifications }

func (s *BaseServiceTestSuite) GetEntitlement() *MockEntitlement { return s.entitlement }

func (s *BaseServiceTestSuite) GetPlugin() *MockPaymentPlugin { return s.plugin }

func (s *BaseServiceTestSuite) GetLocker() locker.AccountLocker { return s.locker }

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger { return s.logger }

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration { return s.config }
