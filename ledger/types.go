/*
Package ledger provides the core records of the invoice engine.

PURPOSE:
  This package contains the entity types shared by every layer: clients,
  sales and their line items, invoices, the invoice/sale membership link,
  and payments. It also defines the persistence contract (store.go), the
  error taxonomy (errors.go) and the pure line-item arithmetic (items.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: a SaleID can never be passed where an InvoiceID is expected
  - Money: decimal.Decimal everywhere, never float64
  - Soft delete: IsDeleted/DeletedAt on Sale, Invoice and Payment
  - Derived status: Invoice.IsPaid/PaidAt are computed, never user-set

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal avoids 119.99999 vs 120 threshold bugs
  2. Type Safety: strong ID types prevent mixing sale and invoice references
  3. History: rows are soft-deleted and restorable; only draft invoices vanish

SEE ALSO:
  - store.go: Persistence interface
  - patch.go: Partial updates
  - billing/: Reconciliation, cascades and guards built on these types
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type SaleID string
type SaleItemID string
type InvoiceID string
type LinkID string
type PaymentID string

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	ID            ClientID
	Name          string
	Company       string
	Email         string
	Phone         string
	Address       string
	Notes         string
	NIF           string
	NIS           string
	RC            string
	AI            string
	RIB           string
	CreditBalance decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// SALE - A client purchase, optionally invoiced
// =============================================================================

type Sale struct {
	ID                SaleID
	ClientID          ClientID
	Date              time.Time
	TotalAmount       decimal.Decimal // pre-tax
	TotalAmountTTC    decimal.Decimal // tax-inclusive
	TaxRate           decimal.Decimal
	Notes             string
	PaymentMethod     string
	TransportationFee decimal.NullDecimal

	// IsInvoiced/InvoiceID mirror the invoice_sales link table.
	// After a cascade delete InvoiceID keeps pointing at the former invoice so
	// a restore can find its way back.
	IsInvoiced bool
	InvoiceID  *InvoiceID

	IsPaid    bool
	PaidAt    *time.Time
	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []SaleItem
}

// =============================================================================
// SALE ITEM - Line item owned by a sale
// =============================================================================

type ProductType string

const (
	ProductCoil            ProductType = "coil"
	ProductCorrugatedSheet ProductType = "corrugated_sheet"
	ProductSteelSlitting   ProductType = "steel_slitting"
)

type SaleItem struct {
	ID          SaleItemID
	SaleID      SaleID
	Description string
	ProductType ProductType

	CoilRef     string
	TopCoatRAL  string
	BackCoatRAL string
	Thickness   decimal.NullDecimal
	Width       decimal.NullDecimal
	Length      decimal.NullDecimal // corrugated sheets only
	Weight      decimal.NullDecimal

	Quantity    decimal.Decimal
	PricePerTon decimal.Decimal
	TotalAmount decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID             InvoiceID
	InvoiceNumber  string
	ClientID       ClientID
	Date           time.Time
	DueDate        time.Time
	TotalAmountHT  decimal.Decimal
	TotalAmountTTC decimal.Decimal

	// Derived by the reconciler.
	IsPaid bool
	PaidAt *time.Time

	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// SaleIDs is populated on reads from the link table.
	SaleIDs []SaleID
}

// InvoiceSale is one row of the many-to-many membership between invoices and
// sales. Membership is structural: rows are removed, never soft-deleted.
type InvoiceSale struct {
	ID        LinkID
	InvoiceID InvoiceID
	SaleID    SaleID
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCreditCard   PaymentMethod = "credit_card"
)

type Payment struct {
	ID          PaymentID
	SaleID      *SaleID
	InvoiceID   *InvoiceID
	ClientID    ClientID
	Amount      decimal.Decimal
	Date        time.Time
	Method      PaymentMethod
	CheckNumber string
	Notes       string
	IsDeleted   bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

type SaleFilter struct {
	ClientID       *ClientID
	IncludeDeleted bool
}

type InvoiceFilter struct {
	ClientID       *ClientID
	IsPaid         *bool
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
}

type PaymentFilter struct {
	SaleID         *SaleID
	InvoiceID      *InvoiceID
	IncludeDeleted bool
}

// =============================================================================
// HELPERS
// =============================================================================

// SumAmounts adds up payment amounts.
func SumAmounts(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// MustParseDecimal panics on malformed input. Use for literals only.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NullDecimalOf(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(MustParseDecimal(s))
}

func TimePtr(t time.Time) *time.Time { return &t }

func SaleIDPtr(id SaleID) *SaleID { return &id }

func InvoiceIDPtr(id InvoiceID) *InvoiceID { return &id }
