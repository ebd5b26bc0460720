package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// RECONCILIATION RULE
// =============================================================================

func TestReconcile_IsIdempotent(t *testing.T) {
	// GIVEN: a paid invoice
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	f.pay(t, s.ID, "120")
	before := f.getInvoice(t, inv.ID)
	require.True(t, before.IsPaid)

	// WHEN: reconciling twice with nothing in between
	first, err := f.svc.ReconcileInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	second, err := f.svc.ReconcileInvoice(f.ctx, inv.ID)
	require.NoError(t, err)

	// THEN: neither call writes and the status is identical
	assert.False(t, first.Changed)
	assert.False(t, second.Changed)
	after := f.getInvoice(t, inv.ID)
	assert.Equal(t, before.IsPaid, after.IsPaid)
	assert.Equal(t, before.PaidAt, after.PaidAt)
}

func TestReconcile_ThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		payments []string
		wantPaid bool
	}{
		{name: "exactly the total", payments: []string{"120"}, wantPaid: true},
		{name: "one cent short", payments: []string{"119.99"}, wantPaid: false},
		{name: "split exactly", payments: []string{"60", "60"}, wantPaid: true},
		{name: "split one cent short", payments: []string{"60", "59.99"}, wantPaid: false},
		{name: "overpaid", payments: []string{"100", "100"}, wantPaid: true},
		{name: "decimal sums stay exact", payments: []string{"40.01", "39.99", "40"}, wantPaid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.sale(t, "120")
			inv := f.invoice(t, "F-001", "120", s.ID)

			for _, amount := range tt.payments {
				f.pay(t, s.ID, amount)
			}

			f.requirePaid(t, inv.ID, tt.wantPaid)
		})
	}
}

func TestReconcile_StatusIsNotSticky(t *testing.T) {
	// GIVEN: invoice total 120 with one payment of 120
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	p := f.pay(t, s.ID, "120")
	f.requirePaid(t, inv.ID, true)

	// WHEN: the payment is soft-deleted
	require.NoError(t, f.svc.DeletePayment(f.ctx, p.ID))

	// THEN: the invoice reverts
	f.requirePaid(t, inv.ID, false)

	// WHEN: the payment is restored
	require.NoError(t, f.svc.RestorePayment(f.ctx, p.ID))

	// THEN: the invoice is paid again
	f.requirePaid(t, inv.ID, true)
}

func TestReconcile_PaidAtStampedFromClock(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)

	f.pay(t, s.ID, "120")

	got := f.getInvoice(t, inv.ID)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(clock))
}

func TestReconcile_DirectInvoicePaymentCounts(t *testing.T) {
	// GIVEN: an invoice paid partly through its sale, partly directly
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	f.pay(t, s.ID, "20")

	// WHEN
	_, err := f.svc.CreatePayment(f.ctx, billing.PaymentInput{
		InvoiceID: ledger.InvoiceIDPtr(inv.ID),
		Amount:    dec("100"),
		Method:    ledger.MethodBankTransfer,
	})
	require.NoError(t, err)

	// THEN
	f.requirePaid(t, inv.ID, true)
	b, err := f.svc.InvoiceBalance(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, b.Paid.Equal(dec("120")))
	assert.True(t, b.Remaining.IsZero())
}

func TestReconcile_SaleStatusFollowsItsPayments(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "80")

	p := f.pay(t, s.ID, "80")
	assert.True(t, f.getSale(t, s.ID).IsPaid)

	_, err := f.svc.UpdatePayment(f.ctx, p.ID, ledger.PaymentPatch{Amount: ledger.Set(dec("30"))})
	require.NoError(t, err)

	got := f.getSale(t, s.ID)
	assert.False(t, got.IsPaid)
	assert.Nil(t, got.PaidAt)
}

func TestReconcileAll_RepairsDrift(t *testing.T) {
	// GIVEN: an invoice whose stored status was corrupted behind the service's back
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	f.pay(t, s.ID, "120")
	require.NoError(t, f.store.SetInvoicePaid(f.ctx, inv.ID, false, nil))

	// WHEN
	res, err := f.svc.ReconcileAll(f.ctx)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, res.Invoices)
	assert.Equal(t, 1, res.InvoicesChanged)
	assert.Equal(t, 0, res.SalesChanged)
	f.requirePaid(t, inv.ID, true)

	// a second sweep finds nothing to do
	res, err = f.svc.ReconcileAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.InvoicesChanged)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestScenario_PaymentAndTotalEdits(t *testing.T) {
	f := newFixture(t)

	// invoice 120 with one sale and one payment of 120 -> paid
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-100", "120", s.ID)
	p := f.pay(t, s.ID, "120")
	f.requirePaid(t, inv.ID, true)

	// reduce the payment to 60 -> unpaid
	_, err := f.svc.UpdatePayment(f.ctx, p.ID, ledger.PaymentPatch{Amount: ledger.Set(dec("60"))})
	require.NoError(t, err)
	f.requirePaid(t, inv.ID, false)

	// raise it back to 120 -> paid
	_, err = f.svc.UpdatePayment(f.ctx, p.ID, ledger.PaymentPatch{Amount: ledger.Set(dec("120"))})
	require.NoError(t, err)
	f.requirePaid(t, inv.ID, true)

	// soft-delete the payment -> unpaid
	require.NoError(t, f.svc.DeletePayment(f.ctx, p.ID))
	f.requirePaid(t, inv.ID, false)

	// restore it -> paid
	require.NoError(t, f.svc.RestorePayment(f.ctx, p.ID))
	f.requirePaid(t, inv.ID, true)

	// raise the invoice total to 200 -> unpaid
	_, err = f.svc.UpdateInvoice(f.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("200"))})
	require.NoError(t, err)
	f.requirePaid(t, inv.ID, false)

	// lower it to 50 -> paid
	_, err = f.svc.UpdateInvoice(f.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("50"))})
	require.NoError(t, err)
	f.requirePaid(t, inv.ID, true)
}

func TestScenario_MultiplePaymentsOneSale(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-200", "120", s.ID)

	f.pay(t, s.ID, "60")
	f.requirePaid(t, inv.ID, false)

	f.pay(t, s.ID, "60")
	f.requirePaid(t, inv.ID, true)
}

func TestScenario_MultiSaleInvoice(t *testing.T) {
	f := newFixture(t)
	s1 := f.sale(t, "120")
	s2 := f.sale(t, "120")
	inv := f.invoice(t, "F-300", "240", s1.ID, s2.ID)
	assert.ElementsMatch(t, []ledger.SaleID{s1.ID, s2.ID}, inv.SaleIDs)

	f.pay(t, s1.ID, "120")
	f.requirePaid(t, inv.ID, false)

	f.pay(t, s2.ID, "120")
	f.requirePaid(t, inv.ID, true)
}
