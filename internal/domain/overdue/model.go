package overdue

import (
	"time"

	"github.com/dynacloud/killbill/internal/config"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// State is one named tier of the configured overdue ladder.
type State struct {
	Name string `json:"name"`

	// IsClear marks the non-overdue resting state.
	IsClear bool `json:"is_clear"`

	// BlockChanges prevents plan changes while the state holds.
	BlockChanges bool `json:"block_changes"`

	// DisableEntitlementAndBilling suspends service and invoicing; entering
	// such a state also tags the account AUTO_INVOICING_OFF.
	DisableEntitlementAndBilling bool `json:"disable_entitlement_and_billing"`

	// CancellationPolicy drives subscription cancellation on entry.
	CancellationPolicy types.BillingActionPolicy `json:"cancellation_policy"`

	// ReevaluationInterval schedules the next overdue re-check after
	// entering this state. Zero means no re-check.
	ReevaluationInterval time.Duration `json:"reevaluation_interval"`

	// DaysBetween is the number of days the earliest unpaid invoice must
	// have aged for this state to apply.
	DaysBetween int `json:"days_between"`

	EmailSubject  string `json:"email_subject"`
	EmailTemplate string `json:"email_template"`
}

// StateSet is the ordered overdue ladder, clear state first, most severe
// last.
type StateSet struct {
	States                      []State       `json:"states"`
	InitialReevaluationInterval time.Duration `json:"initial_reevaluation_interval"`
}

// NewStateSet builds a StateSet from configuration.
func NewStateSet(cfg config.OverdueConfig) (*StateSet, error) {
	set := &StateSet{InitialReevaluationInterval: cfg.InitialReevaluationInterval}
	for _, sc := range cfg.States {
		policy := sc.CancellationPolicy
		if policy == "" {
			policy = types.BillingActionPolicyNone
		}
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		set.States = append(set.States, State{
			Name:                         sc.Name,
			IsClear:                      sc.IsClear,
			BlockChanges:                 sc.BlockChanges,
			DisableEntitlementAndBilling: sc.DisableEntitlement,
			CancellationPolicy:           policy,
			ReevaluationInterval:         sc.ReevaluationInterval,
			DaysBetween:                  sc.DaysBetween,
			EmailSubject:                 sc.EmailSubject,
			EmailTemplate:                sc.EmailTemplate,
		})
	}
	if _, err := set.ClearState(); err != nil {
		return nil, err
	}
	return set, nil
}

// ClearState returns the ladder's clear state.
func (s *StateSet) ClearState() (State, error) {
	for _, st := range s.States {
		if st.IsClear {
			return st, nil
		}
	}
	return State{}, ierr.NewError("overdue state set has no clear state").
		WithHint("Exactly one configured overdue state must be marked clear").
		Mark(ierr.ErrValidation)
}

// FirstState returns the least severe non-clear state.
func (s *StateSet) FirstState() (State, error) {
	for _, st := range s.States {
		if !st.IsClear {
			return st, nil
		}
	}
	return State{}, ierr.NewError("overdue state set has no overdue states").
		WithHint("At least one non-clear overdue state must be configured").
		Mark(ierr.ErrValidation)
}

// Get returns the named state.
func (s *StateSet) Get(name string) (State, error) {
	for _, st := range s.States {
		if st.Name == name {
			return st, nil
		}
	}
	return State{}, ierr.NewError("unknown overdue state").
		WithHintf("Overdue state %q is not part of the configured state set", name).
		Mark(ierr.ErrNotFound)
}

// CalculateStateFor walks the ladder from most severe to least and returns
// the first state whose age threshold the billing state satisfies; the
// clear state when none do or nothing is unpaid.
func (s *StateSet) CalculateStateFor(billing *BillingState, now time.Time) (State, error) {
	clear, err := s.ClearState()
	if err != nil {
		return State{}, err
	}
	if billing == nil || billing.UnpaidInvoiceCount == 0 || billing.DateOfEarliestUnpaidInvoice == nil {
		return clear, nil
	}
	ageDays := int(now.Sub(*billing.DateOfEarliestUnpaidInvoice).Hours() / 24)
	for i := len(s.States) - 1; i >= 0; i-- {
		st := s.States[i]
		if st.IsClear {
			continue
		}
		if ageDays >= st.DaysBetween {
			return st, nil
		}
	}
	return clear, nil
}

// BillingState is the per-account snapshot the overdue evaluation runs
// against. Recomputed on every pass, never persisted.
type BillingState struct {
	AccountID                   string          `json:"account_id"`
	UnpaidInvoiceCount          int             `json:"unpaid_invoice_count"`
	UnpaidBalance               decimal.Decimal `json:"unpaid_balance"`
	DateOfEarliestUnpaidInvoice *time.Time      `json:"date_of_earliest_unpaid_invoice,omitempty"`
}
