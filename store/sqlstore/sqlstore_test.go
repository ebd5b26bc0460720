package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
	"github.com/warp/invoice-engine/store/sqlstore"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var clock = time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

type env struct {
	ctx    context.Context
	store  *sqlstore.Store
	svc    *billing.Service
	client ledger.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	svc := billing.NewService(st, billing.WithClock(func() time.Time { return clock }))
	client, err := svc.CreateClient(ctx, billing.ClientInput{Name: "Sider Nord", NIF: "000123456789"})
	require.NoError(t, err)

	return &env{ctx: ctx, store: st, svc: svc, client: client}
}

func (e *env) sale(t *testing.T, ttc string) ledger.Sale {
	t.Helper()
	s, err := e.svc.CreateSale(e.ctx, billing.SaleInput{
		ClientID:       e.client.ID,
		Date:           clock,
		TotalAmount:    dec(ttc),
		TotalAmountTTC: dec(ttc),
		Items: []ledger.SaleItem{{
			Description: "prepainted coil",
			ProductType: ledger.ProductCoil,
			TopCoatRAL:  "9002",
			Thickness:   ledger.NullDecimalOf("0.45"),
			Width:       ledger.NullDecimalOf("1000"),
			Weight:      ledger.NullDecimalOf("1"),
			PricePerTon: dec(ttc),
		}},
	})
	require.NoError(t, err)
	return s
}

func (e *env) invoice(t *testing.T, number, ttc string, sales ...ledger.SaleID) ledger.Invoice {
	t.Helper()
	inv, err := e.svc.CreateInvoice(e.ctx, billing.InvoiceInput{
		InvoiceNumber:  number,
		ClientID:       e.client.ID,
		Date:           clock,
		DueDate:        clock.AddDate(0, 0, 30),
		TotalAmountHT:  dec(ttc),
		TotalAmountTTC: dec(ttc),
		SaleIDs:        sales,
	})
	require.NoError(t, err)
	return inv
}

func (e *env) pay(t *testing.T, sale ledger.SaleID, amount string) ledger.Payment {
	t.Helper()
	p, err := e.svc.CreatePayment(e.ctx, billing.PaymentInput{
		SaleID: ledger.SaleIDPtr(sale),
		Amount: dec(amount),
		Method: ledger.MethodBankTransfer,
	})
	require.NoError(t, err)
	return p
}

func (e *env) requirePaid(t *testing.T, id ledger.InvoiceID, want bool) {
	t.Helper()
	inv, err := e.store.GetInvoice(e.ctx, id)
	require.NoError(t, err)
	require.Equal(t, want, inv.IsPaid)
	if want {
		require.NotNil(t, inv.PaidAt)
	} else {
		require.Nil(t, inv.PaidAt)
	}
}

// =============================================================================
// ROW STORAGE
// =============================================================================

func TestOpen_MigratesOnce(t *testing.T) {
	path := t.TempDir() + "/ledger.db"

	first, err := sqlstore.New(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// reopening an up-to-date database is not an error
	second, err := sqlstore.New(path)
	require.NoError(t, err)
	defer second.Close()
	assert.NoError(t, second.Ping(context.Background()))
}

func TestSale_DecimalsAndItemsSurvive(t *testing.T) {
	e := newEnv(t)

	created, err := e.svc.CreateSale(e.ctx, billing.SaleInput{
		ClientID:          e.client.ID,
		Date:              clock,
		TotalAmount:       dec("1000.10"),
		TotalAmountTTC:    dec("1190.119"),
		TaxRate:           dec("19"),
		TransportationFee: ledger.NullDecimalOf("35.5"),
		Items: []ledger.SaleItem{
			{
				Description: "coil",
				ProductType: ledger.ProductCoil,
				Thickness:   ledger.NullDecimalOf("0.5"),
				Width:       ledger.NullDecimalOf("1250"),
				Weight:      ledger.NullDecimalOf("2.345"),
				PricePerTon: dec("100"),
			},
			{
				Description: "sheets",
				ProductType: ledger.ProductCorrugatedSheet,
				Length:      ledger.NullDecimalOf("6"),
				Quantity:    dec("10"),
				PricePerTon: dec("3.3"),
			},
		},
	})
	require.NoError(t, err)

	got, err := e.store.GetSale(e.ctx, created.ID)
	require.NoError(t, err)

	assert.True(t, got.TotalAmountTTC.Equal(dec("1190.119")))
	assert.True(t, got.TaxRate.Equal(dec("19")))
	require.True(t, got.TransportationFee.Valid)
	assert.True(t, got.TransportationFee.Decimal.Equal(dec("35.5")))
	assert.True(t, got.Date.Equal(clock))

	require.Len(t, got.Items, 2)
	totals := map[ledger.ProductType]decimal.Decimal{}
	for _, it := range got.Items {
		totals[it.ProductType] = it.TotalAmount
	}
	assert.True(t, totals[ledger.ProductCoil].Equal(dec("234.5")))
	assert.True(t, totals[ledger.ProductCorrugatedSheet].Equal(dec("198")))

	for _, it := range got.Items {
		if it.ProductType == ledger.ProductCorrugatedSheet {
			assert.False(t, it.Weight.Valid, "absent dimensions stay NULL")
		}
	}
}

func TestGet_MissingRowIsNotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.store.GetSale(e.ctx, "nope")
	assert.True(t, ledger.IsNotFound(err))
	_, err = e.store.GetInvoice(e.ctx, "nope")
	assert.True(t, ledger.IsNotFound(err))
	_, err = e.store.GetPayment(e.ctx, "nope")
	assert.True(t, ledger.IsNotFound(err))
	assert.True(t, ledger.IsNotFound(e.store.LockInvoice(e.ctx, "nope")))
	assert.True(t, ledger.IsNotFound(e.store.SetInvoicePaid(e.ctx, "nope", true, &clock)))
}

func TestInvoiceNumber_UniqueConstraintIsConflict(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "10")
	e.invoice(t, "F-001", "10", s.ID)

	err := e.store.CreateInvoice(e.ctx, ledger.Invoice{
		ID:            "dup",
		InvoiceNumber: "F-001",
		ClientID:      e.client.ID,
		Date:          clock,
		DueDate:       clock,
		CreatedAt:     clock,
		UpdatedAt:     clock,
	})

	assert.True(t, ledger.IsConflict(err))
}

func TestWithTx_RollsBackEveryTable(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "10")
	boom := errors.New("boom")

	err := e.store.WithTx(e.ctx, func(st ledger.Store) error {
		s.IsPaid = true
		s.PaidAt = &clock
		require.NoError(t, st.UpdateSale(e.ctx, s))
		require.NoError(t, st.CreatePayment(e.ctx, ledger.Payment{
			ID:        "p-1",
			SaleID:    ledger.SaleIDPtr(s.ID),
			ClientID:  e.client.ID,
			Amount:    dec("10"),
			Date:      clock,
			Method:    ledger.MethodCash,
			CreatedAt: clock,
			UpdatedAt: clock,
		}))
		return boom
	})

	require.ErrorIs(t, err, boom)
	got, err := e.store.GetSale(e.ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	_, err = e.store.GetPayment(e.ctx, "p-1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestPatchPayment_MethodSwitchDropsCheckNumber(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "10")
	p, err := e.svc.CreatePayment(e.ctx, billing.PaymentInput{
		SaleID:      ledger.SaleIDPtr(s.ID),
		Amount:      dec("4"),
		Method:      ledger.MethodCheck,
		CheckNumber: "CHK-77",
	})
	require.NoError(t, err)

	// a check number on a non-check payment is ignored
	require.NoError(t, e.store.PatchPayment(e.ctx, p.ID, ledger.PaymentPatch{
		Method: ledger.Set(ledger.MethodCash),
	}))
	require.NoError(t, e.store.PatchPayment(e.ctx, p.ID, ledger.PaymentPatch{
		CheckNumber: ledger.Set("CHK-78"),
	}))

	got, err := e.store.GetPayment(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodCash, got.Method)
	assert.Empty(t, got.CheckNumber)
	assert.True(t, got.Amount.Equal(dec("4")), "unset fields are untouched")
}

func TestPaymentsForInvoice_DirectAndThroughSale(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "100")
	inv := e.invoice(t, "F-010", "100", s.ID)
	e.pay(t, s.ID, "30")
	_, err := e.svc.CreatePayment(e.ctx, billing.PaymentInput{
		InvoiceID: ledger.InvoiceIDPtr(inv.ID),
		Amount:    dec("20"),
		Method:    ledger.MethodCash,
	})
	require.NoError(t, err)
	gone := e.pay(t, s.ID, "50")
	require.NoError(t, e.svc.DeletePayment(e.ctx, gone.ID))

	payments, err := e.store.PaymentsForInvoice(e.ctx, inv.ID)

	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.True(t, ledger.SumAmounts(payments).Equal(dec("50")))
}

func TestAudit_NewestFirst(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "10")
	require.NoError(t, e.svc.DeleteSale(e.ctx, s.ID))

	entries, err := e.svc.ListAudit(e.ctx, ledger.AuditFilter{EntityType: "sale", EntityID: string(s.ID)})

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sale.deleted", entries[0].Action)
	assert.Equal(t, "sale.created", entries[1].Action)

	limited, err := e.svc.ListAudit(e.ctx, ledger.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// SERVICE ON SQLITE
// =============================================================================

func TestScenario_PaymentAndTotalEdits(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "120")
	inv := e.invoice(t, "F-100", "120", s.ID)
	p := e.pay(t, s.ID, "120")
	e.requirePaid(t, inv.ID, true)

	_, err := e.svc.UpdatePayment(e.ctx, p.ID, ledger.PaymentPatch{Amount: ledger.Set(dec("60"))})
	require.NoError(t, err)
	e.requirePaid(t, inv.ID, false)

	_, err = e.svc.UpdatePayment(e.ctx, p.ID, ledger.PaymentPatch{Amount: ledger.Set(dec("120"))})
	require.NoError(t, err)
	e.requirePaid(t, inv.ID, true)

	require.NoError(t, e.svc.DeletePayment(e.ctx, p.ID))
	e.requirePaid(t, inv.ID, false)

	require.NoError(t, e.svc.RestorePayment(e.ctx, p.ID))
	e.requirePaid(t, inv.ID, true)

	_, err = e.svc.UpdateInvoice(e.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("200"))})
	require.NoError(t, err)
	e.requirePaid(t, inv.ID, false)

	_, err = e.svc.UpdateInvoice(e.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("50"))})
	require.NoError(t, err)
	e.requirePaid(t, inv.ID, true)
}

func TestScenario_CascadeRoundTrip(t *testing.T) {
	// GIVEN: invoice I with sole member S and a partial payment
	e := newEnv(t)
	s := e.sale(t, "120")
	inv := e.invoice(t, "F-200", "120", s.ID)
	p := e.pay(t, s.ID, "50")

	// WHEN: S is deleted
	require.NoError(t, e.svc.DeleteSale(e.ctx, s.ID))

	// THEN: the cascade reached the payment and the invoice
	gotInv, err := e.store.GetInvoice(e.ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, gotInv.IsDeleted)
	assert.Empty(t, gotInv.SaleIDs)
	gotPay, err := e.store.GetPayment(e.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, gotPay.IsDeleted)

	// WHEN: S is restored
	require.NoError(t, e.svc.RestoreSale(e.ctx, s.ID))

	// THEN: the invoice and its membership are back
	gotInv, err = e.store.GetInvoice(e.ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, gotInv.IsDeleted)
	assert.Equal(t, []ledger.SaleID{s.ID}, gotInv.SaleIDs)
	e.requirePaid(t, inv.ID, false)
}

func TestScenario_RestoreSaleLeftOffRestoredInvoice(t *testing.T) {
	// GIVEN: invoice I over S1 and S2; S2 deleted, then I soft-deleted and
	// restored, which brings back S1 only
	e := newEnv(t)
	s1 := e.sale(t, "100")
	s2 := e.sale(t, "100")
	inv := e.invoice(t, "F-250", "250", s1.ID, s2.ID)
	e.pay(t, s1.ID, "50")
	p2 := e.pay(t, s2.ID, "150")

	require.NoError(t, e.svc.DeleteSale(e.ctx, s2.ID))
	mode, err := e.svc.DeleteInvoice(e.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.SoftDelete, mode)
	require.NoError(t, e.svc.RestoreInvoice(e.ctx, inv.ID))
	_, err = e.svc.UpdateInvoice(e.ctx, inv.ID, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("200"))})
	require.NoError(t, err)

	// WHEN: S2 is restored
	require.NoError(t, e.svc.RestoreSale(e.ctx, s2.ID))

	// THEN: its payment is live but no longer counts toward I
	gotPay, err := e.store.GetPayment(e.ctx, p2.ID)
	require.NoError(t, err)
	assert.False(t, gotPay.IsDeleted)
	assert.Nil(t, gotPay.InvoiceID)

	payments, err := e.store.PaymentsForInvoice(e.ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	e.requirePaid(t, inv.ID, false)

	change, err := e.svc.ReconcileInvoice(e.ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)
}

func TestScenario_GuardAndHardDelete(t *testing.T) {
	e := newEnv(t)

	// a sale behind a paid invoice cannot be deleted
	paidSale := e.sale(t, "80")
	paidInv := e.invoice(t, "F-300", "80", paidSale.ID)
	e.pay(t, paidSale.ID, "80")
	e.requirePaid(t, paidInv.ID, true)
	assert.True(t, ledger.IsConflict(e.svc.DeleteSale(e.ctx, paidSale.ID)))

	// a draft invoice disappears, and its former member whose link was
	// removed by an earlier sale delete no longer references it
	s1 := e.sale(t, "50")
	s2 := e.sale(t, "50")
	draft := e.invoice(t, "F-301", "100", s1.ID, s2.ID)
	require.NoError(t, e.svc.DeleteSale(e.ctx, s1.ID))

	mode, err := e.svc.DeleteInvoice(e.ctx, draft.ID)

	require.NoError(t, err)
	assert.Equal(t, billing.HardDelete, mode)
	_, err = e.store.GetInvoice(e.ctx, draft.ID)
	assert.True(t, ledger.IsNotFound(err))
	for _, id := range []ledger.SaleID{s1.ID, s2.ID} {
		got, err := e.store.GetSale(e.ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.InvoiceID)
	}
}

func TestReconcileAll_OnSQLite(t *testing.T) {
	e := newEnv(t)
	s := e.sale(t, "120")
	inv := e.invoice(t, "F-400", "120", s.ID)
	e.pay(t, s.ID, "120")
	require.NoError(t, e.store.SetInvoicePaid(e.ctx, inv.ID, false, nil))

	res, err := e.svc.ReconcileAll(e.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.InvoicesChanged)
	e.requirePaid(t, inv.ID, true)
}

func TestReset_ClearsEveryTable(t *testing.T) {
	// GIVEN: an invoiced, partly paid sale with an audit trail
	e := newEnv(t)
	s := e.sale(t, "100")
	inv := e.invoice(t, "F-RESET", "100", s.ID)
	e.pay(t, s.ID, "40")

	// WHEN: the store is reset
	require.NoError(t, e.svc.Reset(e.ctx))

	// THEN: nothing is left, foreign keys notwithstanding
	clients, err := e.svc.ListClients(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	_, err = e.store.GetInvoice(e.ctx, inv.ID)
	assert.True(t, ledger.IsNotFound(err))

	entries, err := e.svc.ListAudit(e.ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
