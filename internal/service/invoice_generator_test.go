package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dynacloud/killbill/internal/config"
	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/invoice"
	"github.com/dynacloud/killbill/internal/domain/subscription"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/testutil"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type InvoiceGeneratorSuite struct {
	testutil.BaseServiceTestSuite
	dispatcher *InvoiceDispatcher
	testData   struct {
		account      *account.Account
		subscription *subscription.Subscription
	}
}

func TestInvoiceGenerator(t *testing.T) {
	suite.Run(t, new(InvoiceGeneratorSuite))
}

func (s *InvoiceGeneratorSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.setupService()
	s.setupTestData()
}

func (s *InvoiceGeneratorSuite) TearDownTest() {
	s.BaseServiceTestSuite.TearDownTest()
}

func (s *InvoiceGeneratorSuite) setupService() {
	s.dispatcher = NewInvoiceDispatcher(ServiceParams{
		Logger:          s.GetLogger(),
		Config:          s.GetConfig(),
		Clock:           s.GetClock(),
		AccountProvider: s.GetStores().AccountRepo,
		TagStore:        s.GetStores().TagRepo,
		Timeline:        s.GetStores().SubscriptionRepo,
		Entitlement:     s.GetStores().SubscriptionRepo,
		InvoiceRepo:     s.GetStores().InvoiceRepo,
		PaymentRepo:     s.GetStores().PaymentRepo,
		BlockingStore:   s.GetStores().BlockingRepo,
		PaymentPlugin:   s.GetPlugin(),
		Locker:          s.GetLocker(),
		EventBus:        s.GetEventBus(),
		Notifications:   s.GetNotifications(),
	})
}

func (s *InvoiceGeneratorSuite) setupTestData() {
	s.testData.account = &account.Account{
		ID:          "acct_1",
		ExternalKey: "bundle-key-1",
		Name:        "Jane Doe",
		Email:       "jane@example.com",
		Currency:    "USD",
		BaseModel:   types.GetDefaultBaseModel(s.GetContext()),
	}
	s.GetStores().AccountRepo.Add(s.testData.account)

	s.testData.subscription = &subscription.Subscription{
		ID:        "sub_1",
		BundleID:  "bndl_1",
		AccountID: s.testData.account.ID,
		Category:  types.ProductCategoryBase,
		BaseModel: types.GetDefaultBaseModel(s.GetContext()),
	}
	s.GetStores().SubscriptionRepo.Add(s.testData.subscription)
}

func (s *InvoiceGeneratorSuite) date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (s *InvoiceGeneratorSuite) dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *InvoiceGeneratorSuite) addTransition(plan string, period types.BillingPeriod, price string, effective time.Time) {
	s.GetStores().SubscriptionRepo.AddTransition(subscription.BillingTransition{
		SubscriptionID: s.testData.subscription.ID,
		PlanName:       plan,
		PhaseName:      "evergreen",
		BillingPeriod:  period,
		RecurringPrice: s.dec(price),
		EffectiveDate:  effective,
	})
}

func (s *InvoiceGeneratorSuite) cancelAt(effective time.Time) {
	s.GetStores().SubscriptionRepo.AddTransition(subscription.BillingTransition{
		SubscriptionID: s.testData.subscription.ID,
		EffectiveDate:  effective,
		IsCancellation: true,
	})
}

func (s *InvoiceGeneratorSuite) generate(targetDate time.Time, opts GenerateOptions) *GenerationResult {
	result, err := s.dispatcher.GenerateInvoice(s.GetContext(), s.testData.account.ID, targetDate, opts)
	s.NoError(err)
	s.NotNil(result)
	return result
}

func (s *InvoiceGeneratorSuite) itemsOfType(items []*invoice.InvoiceItem, t types.InvoiceItemType) []*invoice.InvoiceItem {
	var out []*invoice.InvoiceItem
	for _, item := range items {
		if item.Type == t {
			out = append(out, item)
		}
	}
	return out
}

func (s *InvoiceGeneratorSuite) adjustInvoiceItem(inv *invoice.Invoice, item *invoice.InvoiceItem, amount string) {
	adj, err := invoice.NewItemAdjItem(inv.ID, inv.AccountID, item.ID,
		s.GetClock().UTCNow(), s.dec(amount), inv.Currency, s.GetClock().UTCNow())
	s.Require().NoError(err)
	s.Require().NoError(s.GetStores().InvoiceRepo.AppendItems(s.GetContext(), inv.ID, []*invoice.InvoiceItem{adj}))
}

func (s *InvoiceGeneratorSuite) TestFirstGenerationChargesFullPeriod() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))

	result := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	s.Require().NotNil(result.NewInvoice)
	s.Empty(result.AdjustedItems)

	recurring := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeRecurring)
	s.Require().Len(recurring, 1)
	s.True(recurring[0].Amount.Equal(s.dec("249.95")), "got %s", recurring[0].Amount)
	s.Equal(s.date(2012, 5, 1), recurring[0].StartDate)
	s.Require().NotNil(recurring[0].EndDate)
	s.Equal(s.date(2012, 6, 1), *recurring[0].EndDate)

	s.True(result.NewInvoice.Balance(2, types.RoundingModeHalfUp).Equal(s.dec("249.95")))
}

func (s *InvoiceGeneratorSuite) TestPlanChangeRepairsInvalidatedSlice() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	first := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	originalInvoice := first.NewInvoice
	originalItem := s.itemsOfType(originalInvoice.Items, types.InvoiceItemTypeRecurring)[0]

	// a manual $10 credit against the original charge
	s.adjustInvoiceItem(originalInvoice, originalItem, "10")

	// downgrade one day into the period
	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))

	result := s.generate(s.date(2012, 5, 2), GenerateOptions{})

	// the invalidated slice of the original charge is repaired net of the
	// prior adjustment: 241.88 for [May 2, Jun 1) less the 10 credit
	adjusted := result.AdjustedItems[originalInvoice.ID]
	s.Require().Len(adjusted, 2)
	repairs := s.itemsOfType(adjusted, types.InvoiceItemTypeRepairAdj)
	s.Require().Len(repairs, 1)
	s.True(repairs[0].Amount.Equal(s.dec("-231.88")), "repair got %s", repairs[0].Amount)
	s.Equal(s.date(2012, 5, 2), repairs[0].StartDate)
	s.Require().NotNil(repairs[0].EndDate)
	s.Equal(s.date(2012, 6, 1), *repairs[0].EndDate)
	s.Require().NotNil(repairs[0].LinkedItemID)
	s.Equal(originalItem.ID, *repairs[0].LinkedItemID)

	credits := s.itemsOfType(adjusted, types.InvoiceItemTypeCBAAdj)
	s.Require().Len(credits, 1)
	s.True(credits[0].Amount.Equal(s.dec("231.88")), "credit got %s", credits[0].Amount)

	// the new plan's first slice is prorated against the in-flight period
	// and fully covered by the repair credit
	s.Require().NotNil(result.NewInvoice)
	recurring := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeRecurring)
	s.Require().Len(recurring, 1)
	s.Equal("blowdart-monthly", recurring[0].PlanName)
	s.True(recurring[0].Amount.Equal(s.dec("9.63")), "got %s", recurring[0].Amount)

	consumed := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeCBAAdj)
	s.Require().Len(consumed, 1)
	s.True(consumed[0].Amount.Equal(s.dec("-9.63")), "got %s", consumed[0].Amount)
	s.True(result.NewInvoice.Balance(2, types.RoundingModeHalfUp).IsZero())
}

func (s *InvoiceGeneratorSuite) TestRepairAndCreditSumToZeroOnOriginalInvoice() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	first := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))

	result := s.generate(s.date(2012, 5, 2), GenerateOptions{})

	total := decimal.Zero
	for _, item := range result.AdjustedItems[first.NewInvoice.ID] {
		total = total.Add(item.Amount)
	}
	s.True(total.IsZero(), "repair pair nets to %s", total)
}

func (s *InvoiceGeneratorSuite) TestRerunAfterRepairGeneratesNothing() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	s.generate(s.date(2012, 5, 1), GenerateOptions{})
	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))
	s.generate(s.date(2012, 5, 2), GenerateOptions{})

	_, err := s.dispatcher.GenerateInvoice(s.GetContext(), s.testData.account.ID, s.date(2012, 5, 2), GenerateOptions{})
	s.Error(err)
	s.True(ierr.IsNothingToGenerate(err))
}

func (s *InvoiceGeneratorSuite) TestFullyAdjustedChargeNeedsNoRepair() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	first := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	originalItem := s.itemsOfType(first.NewInvoice.Items, types.InvoiceItemTypeRecurring)[0]

	// adjust the charge away entirely, then change plans
	s.adjustInvoiceItem(first.NewInvoice, originalItem, "249.95")
	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))

	result := s.generate(s.date(2012, 5, 2), GenerateOptions{})

	// nothing left to repair, and no credit to consume
	s.Empty(result.AdjustedItems)
	s.Require().NotNil(result.NewInvoice)
	recurring := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeRecurring)
	s.Require().Len(recurring, 1)
	s.True(recurring[0].Amount.Equal(s.dec("9.63")))
	s.Empty(s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeCBAAdj))
}

func (s *InvoiceGeneratorSuite) TestFullRepairReversesWholeAnnualCharge() {
	s.addTransition("assault-rifle-annual", types.BillingPeriodAnnual, "2399.95", s.date(2012, 5, 1))
	first := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	originalItem := s.itemsOfType(first.NewInvoice.Items, types.InvoiceItemTypeRecurring)[0]
	s.True(originalItem.Amount.Equal(s.dec("2399.95")))

	s.adjustInvoiceItem(first.NewInvoice, originalItem, "10")
	s.cancelAt(s.date(2012, 5, 2))

	result := s.generate(s.date(2012, 5, 2), GenerateOptions{Strategy: types.RepairStrategyFull})

	// the whole original charge reverses, net of the prior adjustment
	adjusted := result.AdjustedItems[first.NewInvoice.ID]
	repairs := s.itemsOfType(adjusted, types.InvoiceItemTypeRepairAdj)
	s.Require().Len(repairs, 1)
	s.True(repairs[0].Amount.Equal(s.dec("-2389.95")), "repair got %s", repairs[0].Amount)
	s.Equal(s.date(2012, 5, 1), repairs[0].StartDate)
	s.Require().NotNil(repairs[0].EndDate)
	s.Equal(s.date(2013, 5, 1), *repairs[0].EndDate)

	// the still valid day is re-invoiced and covered by the repair credit
	s.Require().NotNil(result.NewInvoice)
	recurring := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeRecurring)
	s.Require().Len(recurring, 1)
	s.True(recurring[0].Amount.Equal(s.dec("6.48")), "got %s", recurring[0].Amount)
	s.True(result.NewInvoice.Balance(2, types.RoundingModeHalfUp).IsZero())
}

func (s *InvoiceGeneratorSuite) TestDryRunPersistsNothing() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))

	result := s.generate(s.date(2012, 5, 1), GenerateOptions{DryRun: true})
	s.Require().NotNil(result.NewInvoice)

	persisted, err := s.GetStores().InvoiceRepo.GetByAccount(s.GetContext(), s.testData.account.ID)
	s.NoError(err)
	s.Empty(persisted)
	s.Empty(s.GetEventBus().Events())
}

func (s *InvoiceGeneratorSuite) TestAutoInvoicingOffSuppressesGeneration() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	s.Require().NoError(s.GetStores().TagRepo.AddTag(s.GetContext(), s.testData.account.ID, types.ControlTagAutoInvoicingOff))

	_, err := s.dispatcher.GenerateInvoice(s.GetContext(), s.testData.account.ID, s.date(2012, 5, 1), GenerateOptions{})
	s.Error(err)
	s.True(ierr.IsNothingToGenerate(err))

	persisted, err := s.GetStores().InvoiceRepo.GetByAccount(s.GetContext(), s.testData.account.ID)
	s.NoError(err)
	s.Empty(persisted)
}

func (s *InvoiceGeneratorSuite) TestGenerationPostsEvents() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	s.generate(s.date(2012, 5, 1), GenerateOptions{})
	s.Len(s.GetEventBus().EventsNamed(types.EventInvoiceCreated), 1)
	s.Empty(s.GetEventBus().EventsNamed(types.EventInvoiceAdjusted))

	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))
	s.generate(s.date(2012, 5, 2), GenerateOptions{})
	s.Len(s.GetEventBus().EventsNamed(types.EventInvoiceCreated), 2)
	s.Len(s.GetEventBus().EventsNamed(types.EventInvoiceAdjusted), 1)
}

func (s *InvoiceGeneratorSuite) TestCancellationStopsFutureCoverage() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	s.cancelAt(s.date(2012, 6, 1))

	result := s.generate(s.date(2012, 7, 1), GenerateOptions{})
	s.Require().NotNil(result.NewInvoice)
	recurring := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeRecurring)
	s.Require().Len(recurring, 1)
	s.Require().NotNil(recurring[0].EndDate)
	s.Equal(s.date(2012, 6, 1), *recurring[0].EndDate)
}

func (s *InvoiceGeneratorSuite) TestAddExternalCharge() {
	inv, err := s.dispatcher.AddExternalCharge(s.GetContext(), s.testData.account.ID, s.dec("15"), s.date(2012, 5, 3))
	s.Require().NoError(err)
	charges := s.itemsOfType(inv.Items, types.InvoiceItemTypeExternalCharge)
	s.Require().Len(charges, 1)
	s.True(charges[0].Amount.Equal(s.dec("15")))
	s.True(inv.Balance(2, types.RoundingModeHalfUp).Equal(s.dec("15")))

	_, err = s.dispatcher.AddExternalCharge(s.GetContext(), s.testData.account.ID, decimal.Zero, s.date(2012, 5, 3))
	s.Error(err)
}

func (s *InvoiceGeneratorSuite) TestAccountCreditIsConsumedByNextInvoice() {
	creditInvoice, err := s.dispatcher.AddAccountCredit(s.GetContext(), s.testData.account.ID, s.dec("100"), s.date(2012, 4, 15))
	s.Require().NoError(err)
	s.True(creditInvoice.Balance(2, types.RoundingModeHalfUp).IsZero())

	cba, err := s.GetStores().InvoiceRepo.GetAccountCBA(s.GetContext(), s.testData.account.ID)
	s.NoError(err)
	s.True(cba.Equal(s.dec("100")))

	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 1))
	result := s.generate(s.date(2012, 5, 1), GenerateOptions{})

	consumed := s.itemsOfType(result.NewInvoice.Items, types.InvoiceItemTypeCBAAdj)
	s.Require().Len(consumed, 1)
	s.True(consumed[0].Amount.Equal(s.dec("-9.95")), "got %s", consumed[0].Amount)
	s.True(result.NewInvoice.Balance(2, types.RoundingModeHalfUp).IsZero())
}

// snapshotItems returns every persisted invoice item for the test account
// keyed by item id, in its serialized form.
func (s *InvoiceGeneratorSuite) snapshotItems() map[string][]byte {
	invoices, err := s.GetStores().InvoiceRepo.GetByAccount(s.GetContext(), s.testData.account.ID)
	s.Require().NoError(err)
	out := make(map[string][]byte)
	for _, inv := range invoices {
		for _, item := range inv.Items {
			data, err := json.Marshal(item)
			s.Require().NoError(err)
			out[item.ID] = data
		}
	}
	return out
}

func (s *InvoiceGeneratorSuite) TestStrategySwitchLeavesPersistedItemsUntouched() {
	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	first := s.generate(s.date(2012, 5, 1), GenerateOptions{})
	originalItem := s.itemsOfType(first.NewInvoice.Items, types.InvoiceItemTypeRecurring)[0]
	s.adjustInvoiceItem(first.NewInvoice, originalItem, "10")

	s.addTransition("blowdart-monthly", types.BillingPeriodMonthly, "9.95", s.date(2012, 5, 2))
	s.generate(s.date(2012, 5, 2), GenerateOptions{Strategy: types.RepairStrategyPartial})

	snapshot := s.snapshotItems()

	// a later run under the other strategy appends repairs but never
	// rewrites what earlier runs persisted
	s.addTransition("dart-monthly", types.BillingPeriodMonthly, "19.95", s.date(2012, 5, 3))
	s.generate(s.date(2012, 5, 3), GenerateOptions{Strategy: types.RepairStrategyFull})

	after := s.snapshotItems()
	for id, before := range snapshot {
		s.Require().Contains(after, id)
		s.Equal(string(before), string(after[id]), "item %s was rewritten", id)
	}
	s.Greater(len(after), len(snapshot))

	_, err := s.dispatcher.GenerateInvoice(s.GetContext(), s.testData.account.ID,
		s.date(2012, 5, 3), GenerateOptions{Strategy: types.RepairStrategyFull})
	s.True(ierr.IsNothingToGenerate(err))
}

func (s *InvoiceGeneratorSuite) TestChargedAmountExclTax() {
	s.GetConfig().Invoice.TaxFactors = []config.TaxFactorEntry{
		{EffectiveDate: s.date(2000, 1, 1), Factor: 1.25},
	}

	s.addTransition("shotgun-monthly", types.BillingPeriodMonthly, "249.95", s.date(2012, 5, 1))
	result := s.generate(s.date(2012, 5, 1), GenerateOptions{})

	exclTax, err := s.dispatcher.ChargedAmountExclTax(s.GetContext(), result.NewInvoice.ID)
	s.NoError(err)
	s.True(exclTax.Equal(s.dec("199.96")), "got %s", exclTax)
}
