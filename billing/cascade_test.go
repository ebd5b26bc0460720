package billing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// SALE CASCADES
// =============================================================================

func TestDeleteSale_SoleMemberTakesInvoiceWithIt(t *testing.T) {
	// GIVEN: sale S is the only member of unpaid invoice I, with a partial payment
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	p := f.pay(t, s.ID, "50")

	// WHEN: S is deleted
	require.NoError(t, f.svc.DeleteSale(f.ctx, s.ID))

	// THEN: S, its payment and I are soft-deleted, the link row is gone,
	// and S remembers which invoice it belonged to
	gotSale := f.getSale(t, s.ID)
	assert.True(t, gotSale.IsDeleted)
	assert.NotNil(t, gotSale.DeletedAt)
	require.NotNil(t, gotSale.InvoiceID)
	assert.Equal(t, inv.ID, *gotSale.InvoiceID)

	assert.True(t, f.getPayment(t, p.ID).IsDeleted)

	gotInv := f.getInvoice(t, inv.ID)
	assert.True(t, gotInv.IsDeleted)
	assert.Empty(t, gotInv.SaleIDs)

	live, err := f.svc.ListInvoices(f.ctx, ledger.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, live, "deleted invoices are hidden from default listings")

	// WHEN: S is restored
	require.NoError(t, f.svc.RestoreSale(f.ctx, s.ID))

	// THEN: everything comes back, membership included
	gotSale = f.getSale(t, s.ID)
	assert.False(t, gotSale.IsDeleted)
	assert.Nil(t, gotSale.DeletedAt)
	assert.True(t, gotSale.IsInvoiced)

	assert.False(t, f.getPayment(t, p.ID).IsDeleted)

	gotInv = f.getInvoice(t, inv.ID)
	assert.False(t, gotInv.IsDeleted)
	assert.Equal(t, []ledger.SaleID{s.ID}, gotInv.SaleIDs)
	f.requirePaid(t, inv.ID, false)
}

func TestDeleteSale_InvoiceWithOtherLiveMemberStays(t *testing.T) {
	// GIVEN: invoice I with members S1 and S2
	f := newFixture(t)
	s1 := f.sale(t, "100")
	s2 := f.sale(t, "100")
	inv := f.invoice(t, "F-001", "200", s1.ID, s2.ID)

	// WHEN: only S1 is deleted
	require.NoError(t, f.svc.DeleteSale(f.ctx, s1.ID))

	// THEN: I stays active with S2 as its only linked member
	got := f.getInvoice(t, inv.ID)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, []ledger.SaleID{s2.ID}, got.SaleIDs)
}

func TestRestoreSale_InvoiceWaitsForAllMembers(t *testing.T) {
	// GIVEN: invoice I whose two members were both deleted
	f := newFixture(t)
	s1 := f.sale(t, "100")
	s2 := f.sale(t, "100")
	inv := f.invoice(t, "F-001", "200", s1.ID, s2.ID)
	require.NoError(t, f.svc.DeleteSale(f.ctx, s1.ID))
	require.NoError(t, f.svc.DeleteSale(f.ctx, s2.ID))
	require.True(t, f.getInvoice(t, inv.ID).IsDeleted)

	// WHEN: one member is restored
	require.NoError(t, f.svc.RestoreSale(f.ctx, s1.ID))

	// THEN: I is still deleted
	assert.True(t, f.getInvoice(t, inv.ID).IsDeleted)

	// WHEN: the other member is restored
	require.NoError(t, f.svc.RestoreSale(f.ctx, s2.ID))

	// THEN: I is back with both members
	got := f.getInvoice(t, inv.ID)
	assert.False(t, got.IsDeleted)
	assert.ElementsMatch(t, []ledger.SaleID{s1.ID, s2.ID}, got.SaleIDs)
}

func TestDeleteSale_RejectedBehindPaidInvoice(t *testing.T) {
	// GIVEN: paid invoice I with member S
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	p := f.pay(t, s.ID, "120")

	saleBefore := f.getSale(t, s.ID)
	invBefore := f.getInvoice(t, inv.ID)
	payBefore := f.getPayment(t, p.ID)
	require.True(t, invBefore.IsPaid)

	// WHEN: deleting S
	err := f.svc.DeleteSale(f.ctx, s.ID)

	// THEN: a conflict, and nothing changed
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrConflict))
	var ce *ledger.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "F-001", ce.ID)

	assert.Equal(t, saleBefore, f.getSale(t, s.ID))
	assert.Equal(t, invBefore, f.getInvoice(t, inv.ID))
	assert.Equal(t, payBefore, f.getPayment(t, p.ID))
}

func TestDeleteSale_Twice(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "10")
	require.NoError(t, f.svc.DeleteSale(f.ctx, s.ID))

	err := f.svc.DeleteSale(f.ctx, s.ID)

	assert.True(t, ledger.IsNotFound(err))
}

func TestRestoreSale_LiveSaleIsNoop(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "10")

	require.NoError(t, f.svc.RestoreSale(f.ctx, s.ID))
	assert.Equal(t, s.UpdatedAt, f.getSale(t, s.ID).UpdatedAt)

	assert.True(t, ledger.IsNotFound(f.svc.RestoreSale(f.ctx, "missing")))
}

func TestRestorePayment_RefusedWhileSaleDeleted(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "10")
	p := f.pay(t, s.ID, "5")
	require.NoError(t, f.svc.DeleteSale(f.ctx, s.ID))

	err := f.svc.RestorePayment(f.ctx, p.ID)

	assert.True(t, ledger.IsConflict(err))
	assert.True(t, f.getPayment(t, p.ID).IsDeleted)
}

func TestRestoreSale_AfterInvoiceDeletedAndRestoredWithoutIt(t *testing.T) {
	// GIVEN: invoice I over S1 and S2, S2 fully paid, S1 partly paid
	f := newFixture(t)
	s1 := f.sale(t, "100")
	s2 := f.sale(t, "100")
	inv := f.invoice(t, "F-001", "200", s1.ID, s2.ID)
	f.pay(t, s1.ID, "50")
	p2 := f.pay(t, s2.ID, "150")
	f.requirePaid(t, inv.ID, true)

	_, err := f.svc.UpdateInvoice(f.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("250"))})
	require.NoError(t, err)
	f.requirePaid(t, inv.ID, false)

	// AND: S2 deleted, I soft-deleted, then I restored with S1 only
	require.NoError(t, f.svc.DeleteSale(f.ctx, s2.ID))
	mode, err := f.svc.DeleteInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.SoftDelete, mode)
	require.NoError(t, f.svc.RestoreInvoice(f.ctx, inv.ID))
	_, err = f.svc.UpdateInvoice(f.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("200"))})
	require.NoError(t, err)
	require.Equal(t, []ledger.SaleID{s1.ID}, f.getInvoice(t, inv.ID).SaleIDs)

	// WHEN: S2 is restored
	require.NoError(t, f.svc.RestoreSale(f.ctx, s2.ID))

	// THEN: S2 stays off I and its payment no longer names I
	gotSale := f.getSale(t, s2.ID)
	assert.Nil(t, gotSale.InvoiceID)
	assert.True(t, gotSale.IsPaid)
	gotPayment := f.getPayment(t, p2.ID)
	assert.False(t, gotPayment.IsDeleted)
	assert.Nil(t, gotPayment.InvoiceID)

	// AND: I's stored status agrees with what its payments add up to
	b, err := f.svc.InvoiceBalance(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(b.Paid), b.Paid.String())
	f.requirePaid(t, inv.ID, false)

	change, err := f.svc.ReconcileInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed, "stored status was already current")
}

// =============================================================================
// INVOICE DELETION - Hard vs soft
// =============================================================================

func TestDeleteInvoice_DraftIsHardDeleted(t *testing.T) {
	// GIVEN: an unpaid invoice without payments
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)

	// WHEN
	mode, err := f.svc.DeleteInvoice(f.ctx, inv.ID)

	// THEN: the row and its links are physically gone and the sale is free again
	require.NoError(t, err)
	assert.Equal(t, billing.HardDelete, mode)

	_, err = f.svc.GetInvoice(f.ctx, inv.ID)
	assert.True(t, ledger.IsNotFound(err))

	links, err := f.store.LinksBySale(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	got := f.getSale(t, s.ID)
	assert.False(t, got.IsInvoiced)
	assert.Nil(t, got.InvoiceID)

	// the number can be reused
	f.invoice(t, "F-001", "120", s.ID)
}

func TestDeleteInvoice_WithPaymentsIsSoftDeleted(t *testing.T) {
	// GIVEN: an invoice with one live (partial) payment
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	p := f.pay(t, s.ID, "50")

	// WHEN
	mode, err := f.svc.DeleteInvoice(f.ctx, inv.ID)

	// THEN: the row remains flagged, payments are untouched, the sale is detached
	require.NoError(t, err)
	assert.Equal(t, billing.SoftDelete, mode)

	got := f.getInvoice(t, inv.ID)
	assert.True(t, got.IsDeleted)
	assert.NotNil(t, got.DeletedAt)

	pay := f.getPayment(t, p.ID)
	assert.False(t, pay.IsDeleted)
	require.NotNil(t, pay.InvoiceID)
	assert.Equal(t, inv.ID, *pay.InvoiceID)

	sale := f.getSale(t, s.ID)
	assert.False(t, sale.IsInvoiced)
	assert.Nil(t, sale.InvoiceID)
}

func TestDeleteInvoice_DeletedPaymentDoesNotBlockHardDelete(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	p := f.pay(t, s.ID, "50")
	require.NoError(t, f.svc.DeletePayment(f.ctx, p.ID))

	mode, err := f.svc.DeleteInvoice(f.ctx, inv.ID)

	require.NoError(t, err)
	assert.Equal(t, billing.HardDelete, mode)
	assert.Nil(t, f.getPayment(t, p.ID).InvoiceID, "no payment may reference a vanished invoice")
}

func TestRestoreInvoice_ReattachesMembers(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	f.pay(t, s.ID, "120")
	_, err := f.svc.DeleteInvoice(f.ctx, inv.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.RestoreInvoice(f.ctx, inv.ID))

	got := f.getInvoice(t, inv.ID)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, []ledger.SaleID{s.ID}, got.SaleIDs)
	sale := f.getSale(t, s.ID)
	assert.True(t, sale.IsInvoiced)
	require.NotNil(t, sale.InvoiceID)
	assert.Equal(t, inv.ID, *sale.InvoiceID)
	f.requirePaid(t, inv.ID, true)
}

func TestRestoreInvoice_RefusedWhenMemberReinvoiced(t *testing.T) {
	// GIVEN: F-001 soft-deleted, then its sale billed again on F-002
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	f.pay(t, s.ID, "10")
	_, err := f.svc.DeleteInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	inv2 := f.invoice(t, "F-002", "120", s.ID)

	// WHEN
	err = f.svc.RestoreInvoice(f.ctx, inv.ID)

	// THEN
	assert.True(t, ledger.IsConflict(err))
	assert.True(t, f.getInvoice(t, inv.ID).IsDeleted)
	assert.Equal(t, inv2.ID, *f.getSale(t, s.ID).InvoiceID)
}

func TestRestoreInvoice_RefusedWhileMemberDeleted(t *testing.T) {
	f := newFixture(t)
	s := f.sale(t, "120")
	inv := f.invoice(t, "F-001", "120", s.ID)
	require.NoError(t, f.svc.DeleteSale(f.ctx, s.ID))

	err := f.svc.RestoreInvoice(f.ctx, inv.ID)

	assert.True(t, ledger.IsConflict(err))
	assert.True(t, f.getInvoice(t, inv.ID).IsDeleted)
}
