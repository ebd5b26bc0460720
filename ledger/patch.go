package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field is an optional update. A zero Field leaves the column untouched.
type Field[T any] struct {
	Value T
	Set   bool
}

func Set[T any](v T) Field[T] { return Field[T]{Value: v, Set: true} }

func (f Field[T]) apply(dst *T) {
	if f.Set {
		*dst = f.Value
	}
}

// InvoicePatch lists the caller-editable invoice columns. Paid status is
// derived and deliberately absent.
type InvoicePatch struct {
	InvoiceNumber  Field[string]
	Date           Field[time.Time]
	DueDate        Field[time.Time]
	TotalAmountHT  Field[decimal.Decimal]
	TotalAmountTTC Field[decimal.Decimal]
}

// Apply returns a copy of inv with the set fields replaced.
func (p InvoicePatch) Apply(inv Invoice) Invoice {
	p.InvoiceNumber.apply(&inv.InvoiceNumber)
	p.Date.apply(&inv.Date)
	p.DueDate.apply(&inv.DueDate)
	p.TotalAmountHT.apply(&inv.TotalAmountHT)
	p.TotalAmountTTC.apply(&inv.TotalAmountTTC)
	return inv
}

func (p InvoicePatch) Empty() bool {
	return !p.InvoiceNumber.Set && !p.Date.Set && !p.DueDate.Set &&
		!p.TotalAmountHT.Set && !p.TotalAmountTTC.Set
}

// TotalChanged reports whether applying the patch moves the TTC total.
func (p InvoicePatch) TotalChanged(inv Invoice) bool {
	return p.TotalAmountTTC.Set && !p.TotalAmountTTC.Value.Equal(inv.TotalAmountTTC)
}

type PaymentPatch struct {
	Amount      Field[decimal.Decimal]
	Date        Field[time.Time]
	Method      Field[PaymentMethod]
	CheckNumber Field[string]
	Notes       Field[string]
}

func (p PaymentPatch) Apply(pay Payment) Payment {
	p.Amount.apply(&pay.Amount)
	p.Date.apply(&pay.Date)
	p.Method.apply(&pay.Method)
	p.CheckNumber.apply(&pay.CheckNumber)
	p.Notes.apply(&pay.Notes)
	if pay.Method != MethodCheck {
		pay.CheckNumber = ""
	}
	return pay
}

func (p PaymentPatch) Empty() bool {
	return !p.Amount.Set && !p.Date.Set && !p.Method.Set && !p.CheckNumber.Set && !p.Notes.Set
}
