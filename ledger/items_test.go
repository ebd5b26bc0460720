package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/ledger"
)

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func TestComputeItemTotal(t *testing.T) {
	tests := []struct {
		name string
		item ledger.SaleItem
		want string
	}{
		{
			name: "coil is price per ton times weight",
			item: ledger.SaleItem{ProductType: ledger.ProductCoil, PricePerTon: dec("100"), Weight: ledger.NullDecimalOf("3")},
			want: "300",
		},
		{
			name: "corrugated sheet is quantity times width times price",
			item: ledger.SaleItem{ProductType: ledger.ProductCorrugatedSheet, Quantity: dec("2"), Width: ledger.NullDecimalOf("5"), PricePerTon: dec("10")},
			want: "100",
		},
		{
			name: "corrugated sheet prefers length over width",
			item: ledger.SaleItem{ProductType: ledger.ProductCorrugatedSheet, Quantity: dec("2"), Width: ledger.NullDecimalOf("5"), Length: ledger.NullDecimalOf("7"), PricePerTon: dec("10")},
			want: "140",
		},
		{
			name: "corrugated sheet with zero length falls back to width",
			item: ledger.SaleItem{ProductType: ledger.ProductCorrugatedSheet, Quantity: dec("2"), Width: ledger.NullDecimalOf("5"), Length: ledger.NullDecimalOf("0"), PricePerTon: dec("10")},
			want: "100",
		},
		{
			name: "steel slitting is price per ton times weight",
			item: ledger.SaleItem{ProductType: ledger.ProductSteelSlitting, PricePerTon: dec("85.5"), Weight: ledger.NullDecimalOf("2"), Quantity: dec("4")},
			want: "171",
		},
		{
			name: "unknown type passes the supplied total through",
			item: ledger.SaleItem{ProductType: "service", PricePerTon: dec("999"), TotalAmount: dec("42.10")},
			want: "42.1",
		},
		{
			name: "decimal precision is kept",
			item: ledger.SaleItem{ProductType: ledger.ProductCoil, PricePerTon: dec("0.1"), Weight: ledger.NullDecimalOf("0.2")},
			want: "0.02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.ComputeItemTotal(tt.item)
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestValidateItem(t *testing.T) {
	coil := ledger.SaleItem{
		Description: "coil 0.5mm",
		ProductType: ledger.ProductCoil,
		Thickness:   ledger.NullDecimalOf("0.5"),
		Width:       ledger.NullDecimalOf("1250"),
		Weight:      ledger.NullDecimalOf("3"),
		PricePerTon: dec("100"),
	}

	tests := []struct {
		name      string
		mutate    func(*ledger.SaleItem)
		wantField string
	}{
		{name: "valid coil", mutate: func(*ledger.SaleItem) {}},
		{name: "missing description", mutate: func(it *ledger.SaleItem) { it.Description = "  " }, wantField: "items[0].description"},
		{name: "missing product type", mutate: func(it *ledger.SaleItem) { it.ProductType = "" }, wantField: "items[0].product_type"},
		{name: "coil without thickness", mutate: func(it *ledger.SaleItem) { it.Thickness = decimal.NullDecimal{} }, wantField: "items[0].thickness"},
		{name: "coil with zero width", mutate: func(it *ledger.SaleItem) { it.Width = ledger.NullDecimalOf("0") }, wantField: "items[0].width"},
		{name: "coil with negative weight", mutate: func(it *ledger.SaleItem) { it.Weight = ledger.NullDecimalOf("-1") }, wantField: "items[0].weight"},
		{
			name: "corrugated without length or width",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductCorrugatedSheet
				it.Width = decimal.NullDecimal{}
				it.Quantity = dec("1")
			},
			wantField: "items[0].length",
		},
		{
			name: "corrugated with zero length but a width",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductCorrugatedSheet
				it.Width = ledger.NullDecimalOf("5")
				it.Length = ledger.NullDecimalOf("0")
				it.Quantity = dec("1")
			},
		},
		{
			name: "corrugated with zero length and zero width",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductCorrugatedSheet
				it.Width = ledger.NullDecimalOf("0")
				it.Length = ledger.NullDecimalOf("0")
				it.Quantity = dec("1")
			},
			wantField: "items[0].length",
		},
		{
			name: "corrugated with negative length",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductCorrugatedSheet
				it.Length = ledger.NullDecimalOf("-2")
				it.Quantity = dec("1")
			},
			wantField: "items[0].length",
		},
		{
			name: "corrugated without quantity",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductCorrugatedSheet
			},
			wantField: "items[0].quantity",
		},
		{
			name: "slitting without quantity",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = ledger.ProductSteelSlitting
			},
			wantField: "items[0].quantity",
		},
		{
			name: "unknown type only needs description",
			mutate: func(it *ledger.SaleItem) {
				it.ProductType = "transport"
				it.Thickness, it.Width, it.Weight = decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := coil
			tt.mutate(&it)

			err := ledger.ValidateItem("items[0]", it)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ledger.ErrValidation))
			var ve *ledger.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestPrepareItems_RejectsWholeSetOnFirstInvalidItem(t *testing.T) {
	// GIVEN: one valid coil and one coil missing its weight
	items := []ledger.SaleItem{
		{Description: "a", ProductType: ledger.ProductCoil, Thickness: ledger.NullDecimalOf("1"), Width: ledger.NullDecimalOf("1"), Weight: ledger.NullDecimalOf("2"), PricePerTon: dec("10")},
		{Description: "b", ProductType: ledger.ProductCoil, Thickness: ledger.NullDecimalOf("1"), Width: ledger.NullDecimalOf("1"), PricePerTon: dec("10")},
	}

	// WHEN: preparing them
	out, err := ledger.PrepareItems(items)

	// THEN: nothing is returned and the error names the second item
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "items[1].weight")
}

func TestPrepareItems_FillsTotals(t *testing.T) {
	items := []ledger.SaleItem{
		{Description: "a", ProductType: ledger.ProductSteelSlitting, Weight: ledger.NullDecimalOf("2"), Quantity: dec("1"), PricePerTon: dec("10"), TotalAmount: dec("1")},
	}

	out, err := ledger.PrepareItems(items)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].TotalAmount.Equal(dec("20")))
	assert.True(t, items[0].TotalAmount.Equal(dec("1")), "input slice must not be modified")
}

func TestErrors_Taxonomy(t *testing.T) {
	driverErr := errors.New("disk full")
	err := ledger.Storage("insert payment", driverErr)

	assert.True(t, errors.Is(err, ledger.ErrStorage))
	assert.True(t, errors.Is(err, driverErr))
	assert.False(t, ledger.IsClientError(err))
	assert.Same(t, err, ledger.Storage("commit", err), "already wrapped errors are not wrapped twice")

	assert.True(t, ledger.IsClientError(ledger.Invalid("amount", "must be positive")))
	assert.True(t, ledger.IsClientError(ledger.Conflict("invoice", "inv-1", "is paid")))
	assert.True(t, ledger.IsNotFound(ledger.NotFound("sale", "s-1")))
	assert.Nil(t, ledger.Storage("noop", nil))
}

func TestInvoicePatch_Apply(t *testing.T) {
	inv := ledger.Invoice{InvoiceNumber: "F-1", TotalAmountTTC: dec("120")}

	p := ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("200"))}

	assert.True(t, p.TotalChanged(inv))
	got := p.Apply(inv)
	assert.Equal(t, "F-1", got.InvoiceNumber)
	assert.True(t, got.TotalAmountTTC.Equal(dec("200")))
	assert.False(t, ledger.InvoicePatch{TotalAmountTTC: ledger.Set(dec("120.00"))}.TotalChanged(inv))
	assert.True(t, ledger.InvoicePatch{}.Empty())
}

func TestPaymentPatch_DropsCheckNumberForOtherMethods(t *testing.T) {
	pay := ledger.Payment{Method: ledger.MethodCheck, CheckNumber: "000123"}

	got := ledger.PaymentPatch{Method: ledger.Set(ledger.MethodCash)}.Apply(pay)

	assert.Equal(t, ledger.MethodCash, got.Method)
	assert.Empty(t, got.CheckNumber)
}
