package types

// ControlTag is a system-defined boolean tag on an account that modifies
// billing behavior.
type ControlTag string

const (
	// ControlTagAutoPayOff suspends automatic payment attempts for the account.
	ControlTagAutoPayOff ControlTag = "AUTO_PAY_OFF"
	// ControlTagAutoInvoicingOff suppresses invoice generation; toggled by the
	// overdue applicator while billing is blocked.
	ControlTagAutoInvoicingOff ControlTag = "AUTO_INVOICING_OFF"
	// ControlTagOverdueEnforcementOff disables overdue state transitions.
	ControlTagOverdueEnforcementOff ControlTag = "OVERDUE_ENFORCEMENT_OFF"
)

func (t ControlTag) String() string {
	return string(t)
}
