package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
	"github.com/warp/invoice-engine/ledger/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var clock = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return clock }

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

type fixture struct {
	ctx    context.Context
	svc    *billing.Service
	store  *store.TxMemory
	client ledger.Client
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	svc := billing.NewService(st, append([]billing.Option{billing.WithClock(fixedClock)}, opts...)...)
	ctx := context.Background()

	client, err := svc.CreateClient(ctx, billing.ClientInput{Name: "Acme Steel", Company: "Acme SARL"})
	require.NoError(t, err)

	return &fixture{ctx: ctx, svc: svc, store: st, client: client}
}

func (f *fixture) sale(t *testing.T, ttc string) ledger.Sale {
	t.Helper()
	s, err := f.svc.CreateSale(f.ctx, billing.SaleInput{
		ClientID:       f.client.ID,
		Date:           clock,
		TotalAmount:    dec(ttc),
		TotalAmountTTC: dec(ttc),
		Items: []ledger.SaleItem{{
			Description: "galvanized coil",
			ProductType: ledger.ProductCoil,
			Thickness:   ledger.NullDecimalOf("0.5"),
			Width:       ledger.NullDecimalOf("1250"),
			Weight:      ledger.NullDecimalOf("1"),
			PricePerTon: dec(ttc),
		}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) invoice(t *testing.T, number, ttc string, sales ...ledger.SaleID) ledger.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(f.ctx, billing.InvoiceInput{
		InvoiceNumber:  number,
		ClientID:       f.client.ID,
		Date:           clock,
		DueDate:        clock.AddDate(0, 1, 0),
		TotalAmountHT:  dec(ttc),
		TotalAmountTTC: dec(ttc),
		SaleIDs:        sales,
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) pay(t *testing.T, sale ledger.SaleID, amount string) ledger.Payment {
	t.Helper()
	p, err := f.svc.CreatePayment(f.ctx, billing.PaymentInput{
		SaleID: ledger.SaleIDPtr(sale),
		Amount: dec(amount),
		Method: ledger.MethodCash,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) getInvoice(t *testing.T, id ledger.InvoiceID) ledger.Invoice {
	t.Helper()
	inv, err := f.svc.GetInvoice(f.ctx, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) getSale(t *testing.T, id ledger.SaleID) ledger.Sale {
	t.Helper()
	s, err := f.svc.GetSale(f.ctx, id)
	require.NoError(t, err)
	return s
}

func (f *fixture) getPayment(t *testing.T, id ledger.PaymentID) ledger.Payment {
	t.Helper()
	p, err := f.svc.GetPayment(f.ctx, id)
	require.NoError(t, err)
	return p
}

// requirePaid checks both halves of the paid status together.
func (f *fixture) requirePaid(t *testing.T, id ledger.InvoiceID, want bool) {
	t.Helper()
	inv := f.getInvoice(t, id)
	require.Equal(t, want, inv.IsPaid, "is_paid of invoice %s", inv.InvoiceNumber)
	if want {
		require.NotNil(t, inv.PaidAt, "paid_at must be set on a paid invoice")
	} else {
		require.Nil(t, inv.PaidAt, "paid_at must be cleared on an unpaid invoice")
	}
}
