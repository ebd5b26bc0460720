/*
reconciler.go - Payment-status reconciliation

PURPOSE:
  Keeps Invoice.IsPaid/PaidAt (and the same pair on Sale) a function of the
  live payments. Every operation that can move a payment sum or a total
  calls the reconciler inside its own transaction, after its writes.

RULE:
  sum(live payments) >= total_ttc  ->  paid; paid_at stamped when it was
                                       not paid before (or had no stamp)
  sum(live payments) <  total_ttc  ->  unpaid; paid_at cleared
  Status is never sticky: lowering a payment or raising the total flips a
  paid invoice back.

IDEMPOTENCY:
  When the stored pair already matches the rule nothing is written, so a
  second call with no intervening change is a no-op.

PAYMENT ATTRIBUTION:
  A payment counts toward an invoice when its invoice_id is the invoice, or
  when its sale's invoice_id is the invoice. A payment matching both ways
  is counted once.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/ledger"
)

// Reconciler recomputes derived paid status. The zero value uses time.Now.
type Reconciler struct {
	Now func() time.Time
}

// StatusChange is the outcome of one recomputation.
type StatusChange struct {
	Entity  string // "invoice" or "sale"
	ID      string
	Changed bool // a write happened
	IsPaid  bool
	PaidAt  *time.Time
	Paid    decimal.Decimal // sum of live payments
	Total   decimal.Decimal
}

func (r Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// RecomputeInvoiceStatus applies the paid rule to one invoice. Soft-deleted
// invoices are left alone.
func (r Reconciler) RecomputeInvoiceStatus(ctx context.Context, st ledger.Store, id ledger.InvoiceID) (StatusChange, error) {
	if err := st.LockInvoice(ctx, id); err != nil {
		return StatusChange{}, fmt.Errorf("lock invoice %s: %w", id, err)
	}
	inv, err := st.GetInvoice(ctx, id)
	if err != nil {
		return StatusChange{}, err
	}

	change := StatusChange{
		Entity: "invoice",
		ID:     string(id),
		IsPaid: inv.IsPaid,
		PaidAt: inv.PaidAt,
		Total:  inv.TotalAmountTTC,
	}
	if inv.IsDeleted {
		return change, nil
	}

	payments, err := st.PaymentsForInvoice(ctx, id)
	if err != nil {
		return StatusChange{}, fmt.Errorf("sum payments of invoice %s: %w", id, err)
	}
	change.Paid = ledger.SumAmounts(payments)

	if !r.settle(&change) {
		return change, nil
	}
	if err := st.SetInvoicePaid(ctx, id, change.IsPaid, change.PaidAt); err != nil {
		return StatusChange{}, fmt.Errorf("write status of invoice %s: %w", id, err)
	}
	return change, nil
}

// RecomputeSaleStatus applies the same rule to a sale and its own payments.
func (r Reconciler) RecomputeSaleStatus(ctx context.Context, st ledger.Store, id ledger.SaleID) (StatusChange, error) {
	sale, err := st.GetSale(ctx, id)
	if err != nil {
		return StatusChange{}, err
	}

	change := StatusChange{
		Entity: "sale",
		ID:     string(id),
		IsPaid: sale.IsPaid,
		PaidAt: sale.PaidAt,
		Total:  sale.TotalAmountTTC,
	}
	if sale.IsDeleted {
		return change, nil
	}

	payments, err := st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &id})
	if err != nil {
		return StatusChange{}, fmt.Errorf("sum payments of sale %s: %w", id, err)
	}
	change.Paid = ledger.SumAmounts(payments)

	if !r.settle(&change) {
		return change, nil
	}
	if err := st.SetSalePaid(ctx, id, change.IsPaid, change.PaidAt); err != nil {
		return StatusChange{}, fmt.Errorf("write status of sale %s: %w", id, err)
	}
	return change, nil
}

// settle moves c to the status the rule demands and reports whether that
// differs from what is stored.
func (r Reconciler) settle(c *StatusChange) bool {
	if c.Paid.GreaterThanOrEqual(c.Total) {
		if c.IsPaid && c.PaidAt != nil {
			return false
		}
		now := r.now()
		c.IsPaid, c.PaidAt, c.Changed = true, &now, true
		return true
	}
	if !c.IsPaid && c.PaidAt == nil {
		return false
	}
	c.IsPaid, c.PaidAt, c.Changed = false, nil, true
	return true
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

func (t *txn) reconcileInvoice(ctx context.Context, id ledger.InvoiceID) (StatusChange, error) {
	c, err := t.rec.RecomputeInvoiceStatus(ctx, t.st, id)
	if err != nil {
		return c, err
	}
	if c.Changed {
		t.changes = append(t.changes, c)
	}
	return c, nil
}

func (t *txn) reconcileSale(ctx context.Context, id ledger.SaleID) error {
	c, err := t.rec.RecomputeSaleStatus(ctx, t.st, id)
	if err != nil {
		return err
	}
	if c.Changed {
		t.changes = append(t.changes, c)
	}
	return nil
}

// reconcilePayment recomputes everything a payment counts toward.
func (t *txn) reconcilePayment(ctx context.Context, p ledger.Payment) error {
	ids, err := t.invoicesOfPayment(ctx, p)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := t.reconcileInvoice(ctx, id); err != nil {
			return err
		}
	}
	if p.SaleID != nil {
		return t.reconcileSale(ctx, *p.SaleID)
	}
	return nil
}
