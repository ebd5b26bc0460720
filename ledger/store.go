/*
store.go - Persistence interface for the invoice ledger

PURPOSE:
  Defines the interface between the billing logic and the database.
  The Store is a typed row gateway: it reads and writes single rows and
  answers the few join queries the reconciler and cascades need. All
  policy (what to soft-delete, when an invoice is paid) lives in billing/.

KEY INTERFACES:
  Store:     Typed row access for clients, sales, items, invoices, links, payments
  TxStore:   Transactional operations (atomic multi-table writes)
  AuditLog:  Persisted side channel for audit entries

READ SEMANTICS:
  Get* returns the row even when it is soft-deleted; callers decide whether
  a deleted row is acceptable. A missing row is a *NotFoundError.
  List* excludes soft-deleted rows unless the filter asks for them.

LOCKING:
  LockInvoice serializes concurrent writers on one invoice before a payment
  sum is read. Stores that already serialize whole transactions implement it
  as a no-op.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - billing/service.go: The only writer
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Typed row access
// =============================================================================

type Store interface {
	// Clients
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)

	// Sales. CreateSale persists the sale and its items together.
	CreateSale(ctx context.Context, s Sale) error
	GetSale(ctx context.Context, id SaleID) (Sale, error)
	ListSales(ctx context.Context, f SaleFilter) ([]Sale, error)
	// UpdateSale writes every column of the sale row. Items are untouched.
	UpdateSale(ctx context.Context, s Sale) error
	SetSalePaid(ctx context.Context, id SaleID, paid bool, paidAt *time.Time) error
	// ReplaceSaleItems deletes all items of the sale and inserts the given ones.
	ReplaceSaleItems(ctx context.Context, id SaleID, items []SaleItem) error
	// SalesByInvoice returns sales whose back-reference points at the invoice,
	// soft-deleted ones included.
	SalesByInvoice(ctx context.Context, id InvoiceID) ([]Sale, error)

	// Invoices. GetInvoice hydrates SaleIDs from the link table.
	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	// UpdateInvoice writes every column of the invoice row.
	UpdateInvoice(ctx context.Context, inv Invoice) error
	// PatchInvoice updates only the columns set in the patch.
	PatchInvoice(ctx context.Context, id InvoiceID, p InvoicePatch) error
	// SetInvoicePaid writes is_paid and paid_at in one statement.
	SetInvoicePaid(ctx context.Context, id InvoiceID, paid bool, paidAt *time.Time) error
	// DeleteInvoice physically removes the row.
	DeleteInvoice(ctx context.Context, id InvoiceID) error
	LockInvoice(ctx context.Context, id InvoiceID) error

	// Invoice/sale membership
	CreateLink(ctx context.Context, l InvoiceSale) error
	LinksByInvoice(ctx context.Context, id InvoiceID) ([]InvoiceSale, error)
	LinksBySale(ctx context.Context, id SaleID) ([]InvoiceSale, error)
	DeleteLinksBySale(ctx context.Context, id SaleID) error
	DeleteLinksByInvoice(ctx context.Context, id InvoiceID) error

	// Payments
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	PatchPayment(ctx context.Context, id PaymentID, p PaymentPatch) error
	// PaymentsForInvoice returns live payments attached to the invoice either
	// directly or through a sale whose back-reference points at it. Each
	// payment appears once.
	PaymentsForInvoice(ctx context.Context, id InvoiceID) ([]Payment, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Side channel, written after commit
// =============================================================================

type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Action     string // "<entity>.<verb>", e.g. "sale.deleted"
	EntityType string
	EntityID   string
	Details    map[string]any
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
