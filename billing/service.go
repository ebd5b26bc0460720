/*
Package billing keeps sales, invoices and payments mutually consistent.

PURPOSE:
  Service is the only writer of the ledger. Each public method is one
  logical operation executed inside one TxStore.WithTx transaction: base
  row writes, then cascades, then reconciliation of every invoice and sale
  whose payment set or total could have moved. Either all of it commits or
  none of it does.

AFTER COMMIT:
  - status flips are logged at Info and counted
  - cascade row counts go to metrics
  - one audit record is written; a failing sink is logged, never fatal

ERRORS:
  Validation and conflict errors are detected before any write. Storage
  errors are returned as-is and never retried here: re-issuing a financial
  mutation blindly is the caller's decision.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/internal/metrics"
	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   ledger.TxStore
	audit   AuditSink
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

// WithClock replaces time.Now for every timestamp the service writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditSink overrides the default sink. By default a store that is also a
// ledger.AuditLog receives the records; any other store gets none.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store ledger.TxStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		if al, ok := store.(ledger.AuditLog); ok {
			s.audit = LogSink{Log: al, Now: s.now}
		} else {
			s.audit = nopSink{}
		}
	}
	return s
}

// run executes fn in one transaction and reports its effects after commit.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, t *txn) error) error {
	start := time.Now()
	t := &txn{
		now:   s.now().UTC(),
		newID: s.newID,
		rec:   Reconciler{Now: s.now},
		log:   s.log.With(zap.String("op", op)),
	}

	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		t.st = st
		return fn(ctx, t)
	})
	s.metrics.ObserveOperation(op, outcome(err), time.Since(start))

	if err != nil {
		if ledger.IsClientError(err) || ledger.IsNotFound(err) {
			s.log.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		} else {
			s.log.Error("operation failed", zap.String("op", op), zap.Error(err))
		}
		return err
	}

	for _, c := range t.changes {
		s.log.Info("paid status changed",
			zap.String("entity", c.Entity),
			zap.String("id", c.ID),
			zap.Bool("is_paid", c.IsPaid),
			zap.String("paid", c.Paid.String()),
			zap.String("total", c.Total.String()))
		s.metrics.StatusChanged(c.Entity, c.IsPaid)
	}
	for k, n := range t.rows {
		s.metrics.CascadeRows(k.entity, k.action, n)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if err := s.audit.Record(ctx, action, entityType, entityID, details); err != nil {
		s.metrics.AuditFailed()
		s.log.Warn("audit record failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrValidation):
		return "invalid"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// =============================================================================
// INPUTS
// =============================================================================

type ClientInput struct {
	Name    string
	Company string
	Email   string
	Phone   string
	Address string
	Notes   string
	NIF     string
	NIS     string
	RC      string
	AI      string
	RIB     string
}

type SaleInput struct {
	ClientID          ledger.ClientID
	Date              time.Time // zero means now
	TotalAmount       decimal.Decimal
	TotalAmountTTC    decimal.Decimal
	TaxRate           decimal.Decimal
	Notes             string
	PaymentMethod     string
	TransportationFee decimal.NullDecimal
	Items             []ledger.SaleItem
}

type InvoiceInput struct {
	InvoiceNumber  string
	ClientID       ledger.ClientID
	Date           time.Time // zero means now
	DueDate        time.Time // zero means Date
	TotalAmountHT  decimal.Decimal
	TotalAmountTTC decimal.Decimal
	SaleIDs        []ledger.SaleID
}

type PaymentInput struct {
	SaleID      *ledger.SaleID
	InvoiceID   *ledger.InvoiceID
	ClientID    ledger.ClientID // defaults to the sale's or invoice's client
	Amount      decimal.Decimal
	Date        time.Time // zero means now
	Method      ledger.PaymentMethod
	CheckNumber string
	Notes       string
}

// Balance is what is left to pay on an invoice.
type Balance struct {
	InvoiceID ledger.InvoiceID
	TotalTTC  decimal.Decimal
	Paid      decimal.Decimal
	Remaining decimal.Decimal // never negative
	IsPaid    bool
}

// SweepResult summarizes a ReconcileAll pass.
type SweepResult struct {
	Invoices        int
	InvoicesChanged int
	Sales           int
	SalesChanged    int
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Service) CreateClient(ctx context.Context, in ClientInput) (ledger.Client, error) {
	if strings.TrimSpace(in.Name) == "" {
		return ledger.Client{}, ledger.Invalid("name", "is required")
	}

	var out ledger.Client
	err := s.run(ctx, "create_client", func(ctx context.Context, t *txn) error {
		out = ledger.Client{
			ID:            ledger.ClientID(t.newID()),
			Name:          strings.TrimSpace(in.Name),
			Company:       in.Company,
			Email:         in.Email,
			Phone:         in.Phone,
			Address:       in.Address,
			Notes:         in.Notes,
			NIF:           in.NIF,
			NIS:           in.NIS,
			RC:            in.RC,
			AI:            in.AI,
			RIB:           in.RIB,
			CreditBalance: decimal.Zero,
			CreatedAt:     t.now,
			UpdatedAt:     t.now,
		}
		return t.st.CreateClient(ctx, out)
	})
	if err != nil {
		return ledger.Client{}, err
	}
	s.record(ctx, "client.created", "client", string(out.ID), map[string]any{"name": out.Name})
	return out, nil
}

func (s *Service) GetClient(ctx context.Context, id ledger.ClientID) (ledger.Client, error) {
	return s.store.GetClient(ctx, id)
}

func (s *Service) ListClients(ctx context.Context) ([]ledger.Client, error) {
	return s.store.ListClients(ctx)
}

// =============================================================================
// SALES
// =============================================================================

func validateSaleInput(in SaleInput) ([]ledger.SaleItem, error) {
	if in.ClientID == "" {
		return nil, ledger.Invalid("client_id", "is required")
	}
	if in.TotalAmount.IsNegative() {
		return nil, ledger.Invalid("total_amount", "must not be negative")
	}
	if in.TotalAmountTTC.IsNegative() {
		return nil, ledger.Invalid("total_amount_ttc", "must not be negative")
	}
	if in.TaxRate.IsNegative() {
		return nil, ledger.Invalid("tax_rate", "must not be negative")
	}
	if in.TransportationFee.Valid && in.TransportationFee.Decimal.IsNegative() {
		return nil, ledger.Invalid("transportation_fee", "must not be negative")
	}
	return ledger.PrepareItems(in.Items)
}

func (t *txn) stampItems(id ledger.SaleID, items []ledger.SaleItem) []ledger.SaleItem {
	for i := range items {
		items[i].ID = ledger.SaleItemID(t.newID())
		items[i].SaleID = id
		items[i].CreatedAt = t.now
		items[i].UpdatedAt = t.now
	}
	return items
}

// CreateSale validates every line item, derives item totals, and stores the
// sale with its items atomically.
func (s *Service) CreateSale(ctx context.Context, in SaleInput) (ledger.Sale, error) {
	items, err := validateSaleInput(in)
	if err != nil {
		return ledger.Sale{}, err
	}

	var out ledger.Sale
	err = s.run(ctx, "create_sale", func(ctx context.Context, t *txn) error {
		if _, err := t.st.GetClient(ctx, in.ClientID); err != nil {
			return err
		}
		date := in.Date
		if date.IsZero() {
			date = t.now
		}
		id := ledger.SaleID(t.newID())
		sale := ledger.Sale{
			ID:                id,
			ClientID:          in.ClientID,
			Date:              date.UTC(),
			TotalAmount:       in.TotalAmount,
			TotalAmountTTC:    in.TotalAmountTTC,
			TaxRate:           in.TaxRate,
			Notes:             in.Notes,
			PaymentMethod:     in.PaymentMethod,
			TransportationFee: in.TransportationFee,
			CreatedAt:         t.now,
			UpdatedAt:         t.now,
			Items:             t.stampItems(id, items),
		}
		if err := t.st.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
		out, err = t.st.GetSale(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Sale{}, err
	}
	s.record(ctx, "sale.created", "sale", string(out.ID), map[string]any{
		"client_id": out.ClientID,
		"items":     len(out.Items),
		"total_ttc": out.TotalAmountTTC.String(),
	})
	return out, nil
}

// UpdateSale rewrites the sale's fields and replaces its items wholesale.
// Invoice membership is unchanged.
func (s *Service) UpdateSale(ctx context.Context, id ledger.SaleID, in SaleInput) (ledger.Sale, error) {
	items, err := validateSaleInput(in)
	if err != nil {
		return ledger.Sale{}, err
	}

	var out ledger.Sale
	err = s.run(ctx, "update_sale", func(ctx context.Context, t *txn) error {
		sale, err := t.liveSale(ctx, id)
		if err != nil {
			return err
		}
		if _, err := t.st.GetClient(ctx, in.ClientID); err != nil {
			return err
		}

		if !in.Date.IsZero() {
			sale.Date = in.Date.UTC()
		}
		sale.ClientID = in.ClientID
		sale.TotalAmount = in.TotalAmount
		sale.TotalAmountTTC = in.TotalAmountTTC
		sale.TaxRate = in.TaxRate
		sale.Notes = in.Notes
		sale.PaymentMethod = in.PaymentMethod
		sale.TransportationFee = in.TransportationFee
		sale.UpdatedAt = t.now
		sale.Items = nil
		if err := t.st.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("update sale %s: %w", id, err)
		}
		if err := t.st.ReplaceSaleItems(ctx, id, t.stampItems(id, items)); err != nil {
			return fmt.Errorf("replace items of sale %s: %w", id, err)
		}

		payments, err := t.st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &id})
		if err != nil {
			return err
		}
		if len(payments) > 0 {
			if err := t.reconcileSale(ctx, id); err != nil {
				return err
			}
			if sale.InvoiceID != nil {
				if _, err := t.reconcileInvoice(ctx, *sale.InvoiceID); err != nil {
					return err
				}
			}
		}

		out, err = t.st.GetSale(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Sale{}, err
	}
	s.record(ctx, "sale.updated", "sale", string(id), map[string]any{
		"items":     len(out.Items),
		"total_ttc": out.TotalAmountTTC.String(),
	})
	return out, nil
}

func (s *Service) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	return s.store.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, f ledger.SaleFilter) ([]ledger.Sale, error) {
	return s.store.ListSales(ctx, f)
}

// DeleteSale soft-deletes a sale with its payments and detaches it from its
// invoices. A sale behind a paid invoice is refused with a ConflictError.
func (s *Service) DeleteSale(ctx context.Context, id ledger.SaleID) error {
	err := s.run(ctx, "delete_sale", func(ctx context.Context, t *txn) error {
		return t.deleteSale(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "sale.deleted", "sale", string(id), nil)
	return nil
}

// RestoreSale undoes DeleteSale. Restoring a live sale is a no-op.
func (s *Service) RestoreSale(ctx context.Context, id ledger.SaleID) error {
	err := s.run(ctx, "restore_sale", func(ctx context.Context, t *txn) error {
		return t.restoreSale(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "sale.restored", "sale", string(id), nil)
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func validateInvoiceInput(in InvoiceInput) error {
	if strings.TrimSpace(in.InvoiceNumber) == "" {
		return ledger.Invalid("invoice_number", "is required")
	}
	if in.ClientID == "" {
		return ledger.Invalid("client_id", "is required")
	}
	if in.TotalAmountHT.IsNegative() {
		return ledger.Invalid("total_amount_ht", "must not be negative")
	}
	if in.TotalAmountTTC.IsNegative() {
		return ledger.Invalid("total_amount_ttc", "must not be negative")
	}
	if !in.Date.IsZero() && !in.DueDate.IsZero() && in.DueDate.Before(in.Date) {
		return ledger.Invalid("due_date", "must not be before date")
	}
	return nil
}

func (t *txn) requireFreeNumber(ctx context.Context, number string, self ledger.InvoiceID) error {
	existing, err := t.st.GetInvoiceByNumber(ctx, number)
	if ledger.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == self {
		return nil
	}
	return ledger.Conflict("invoice", number, "number already used")
}

// CreateInvoice stores a new unpaid invoice and attaches the given sales to
// it. Paid status starts false whatever the totals; it is reconciled only
// when an attached sale already carries payments.
func (s *Service) CreateInvoice(ctx context.Context, in InvoiceInput) (ledger.Invoice, error) {
	if err := validateInvoiceInput(in); err != nil {
		return ledger.Invoice{}, err
	}

	var out ledger.Invoice
	err := s.run(ctx, "create_invoice", func(ctx context.Context, t *txn) error {
		number := strings.TrimSpace(in.InvoiceNumber)
		if err := t.requireFreeNumber(ctx, number, ""); err != nil {
			return err
		}
		if _, err := t.st.GetClient(ctx, in.ClientID); err != nil {
			return err
		}

		sales, err := t.invoiceableSales(ctx, in.ClientID, in.SaleIDs)
		if err != nil {
			return err
		}

		date := in.Date
		if date.IsZero() {
			date = t.now
		}
		due := in.DueDate
		if due.IsZero() {
			due = date
		}
		if due.Before(date) {
			return ledger.Invalid("due_date", "must not be before date")
		}

		inv := ledger.Invoice{
			ID:             ledger.InvoiceID(t.newID()),
			InvoiceNumber:  number,
			ClientID:       in.ClientID,
			Date:           date.UTC(),
			DueDate:        due.UTC(),
			TotalAmountHT:  in.TotalAmountHT,
			TotalAmountTTC: in.TotalAmountTTC,
			IsPaid:         false,
			PaidAt:         nil,
			CreatedAt:      t.now,
			UpdatedAt:      t.now,
		}
		if err := t.st.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		repointed := 0
		for _, sale := range sales {
			n, err := t.attachSale(ctx, sale, inv.ID)
			if err != nil {
				return err
			}
			repointed += n
		}
		if repointed > 0 {
			if _, err := t.reconcileInvoice(ctx, inv.ID); err != nil {
				return err
			}
		}

		out, err = t.st.GetInvoice(ctx, inv.ID)
		return err
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	s.record(ctx, "invoice.created", "invoice", string(out.ID), map[string]any{
		"invoice_number": out.InvoiceNumber,
		"sales":          len(out.SaleIDs),
		"total_ttc":      out.TotalAmountTTC.String(),
	})
	return out, nil
}

// invoiceableSales loads the sales for a new invoice. Each must be live, owned
// by the client, and not on another live invoice.
func (t *txn) invoiceableSales(ctx context.Context, client ledger.ClientID, ids []ledger.SaleID) ([]ledger.Sale, error) {
	seen := make(map[ledger.SaleID]bool, len(ids))
	var out []ledger.Sale
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		sale, err := t.liveSale(ctx, id)
		if err != nil {
			return nil, err
		}
		if sale.ClientID != client {
			return nil, ledger.Invalid("sale_ids", fmt.Sprintf("sale %s belongs to another client", id))
		}
		if sale.InvoiceID != nil {
			other, err := t.st.GetInvoice(ctx, *sale.InvoiceID)
			if err != nil && !ledger.IsNotFound(err) {
				return nil, err
			}
			if err == nil && !other.IsDeleted {
				return nil, ledger.Conflict("sale", string(id),
					fmt.Sprintf("is already on invoice %s", other.InvoiceNumber))
			}
		}
		out = append(out, sale)
	}
	return out, nil
}

// UpdateInvoice applies a patch of caller-editable fields. A change of the
// TTC total is reconciled in the same transaction.
func (s *Service) UpdateInvoice(ctx context.Context, id ledger.InvoiceID, p ledger.InvoicePatch) (ledger.Invoice, error) {
	if p.InvoiceNumber.Set {
		p.InvoiceNumber.Value = strings.TrimSpace(p.InvoiceNumber.Value)
		if p.InvoiceNumber.Value == "" {
			return ledger.Invoice{}, ledger.Invalid("invoice_number", "must not be empty")
		}
	}
	if p.TotalAmountHT.Set && p.TotalAmountHT.Value.IsNegative() {
		return ledger.Invoice{}, ledger.Invalid("total_amount_ht", "must not be negative")
	}
	if p.TotalAmountTTC.Set && p.TotalAmountTTC.Value.IsNegative() {
		return ledger.Invoice{}, ledger.Invalid("total_amount_ttc", "must not be negative")
	}

	var out ledger.Invoice
	err := s.run(ctx, "update_invoice", func(ctx context.Context, t *txn) error {
		inv, err := t.liveInvoice(ctx, id)
		if err != nil {
			return err
		}
		next := p.Apply(inv)
		if next.DueDate.Before(next.Date) {
			return ledger.Invalid("due_date", "must not be before date")
		}
		if p.InvoiceNumber.Set {
			if err := t.requireFreeNumber(ctx, p.InvoiceNumber.Value, id); err != nil {
				return err
			}
		}

		if !p.Empty() {
			if err := t.st.PatchInvoice(ctx, id, p); err != nil {
				return fmt.Errorf("update invoice %s: %w", id, err)
			}
		}
		if p.TotalChanged(inv) {
			if _, err := t.reconcileInvoice(ctx, id); err != nil {
				return err
			}
		}

		out, err = t.st.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	s.record(ctx, "invoice.updated", "invoice", string(id), map[string]any{
		"total_ttc": out.TotalAmountTTC.String(),
		"is_paid":   out.IsPaid,
	})
	return out, nil
}

func (s *Service) GetInvoice(ctx context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	return s.store.ListInvoices(ctx, f)
}

// DeleteInvoice hard-deletes a draft invoice and soft-deletes anything else.
// The mode used is returned.
func (s *Service) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) (DeletionMode, error) {
	var mode DeletionMode
	err := s.run(ctx, "delete_invoice", func(ctx context.Context, t *txn) error {
		var err error
		mode, err = t.deleteInvoice(ctx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.record(ctx, "invoice.deleted", "invoice", string(id), map[string]any{"mode": mode.String()})
	return mode, nil
}

// RestoreInvoice undoes a soft delete. Restoring a live invoice is a no-op.
func (s *Service) RestoreInvoice(ctx context.Context, id ledger.InvoiceID) error {
	err := s.run(ctx, "restore_invoice", func(ctx context.Context, t *txn) error {
		return t.restoreInvoice(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "invoice.restored", "invoice", string(id), nil)
	return nil
}

func (s *Service) InvoiceBalance(ctx context.Context, id ledger.InvoiceID) (Balance, error) {
	var b Balance
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		inv, err := st.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		payments, err := st.PaymentsForInvoice(ctx, id)
		if err != nil {
			return err
		}
		paid := ledger.SumAmounts(payments)
		b = Balance{
			InvoiceID: id,
			TotalTTC:  inv.TotalAmountTTC,
			Paid:      paid,
			Remaining: decimal.Max(inv.TotalAmountTTC.Sub(paid), decimal.Zero),
			IsPaid:    inv.IsPaid,
		}
		return nil
	})
	return b, err
}

// ReconcileInvoice recomputes one invoice's paid status on demand.
func (s *Service) ReconcileInvoice(ctx context.Context, id ledger.InvoiceID) (StatusChange, error) {
	var c StatusChange
	err := s.run(ctx, "reconcile_invoice", func(ctx context.Context, t *txn) error {
		var err error
		c, err = t.reconcileInvoice(ctx, id)
		return err
	})
	return c, err
}

// ReconcileAll sweeps every live invoice and sale. Each row is reconciled in
// its own transaction so one failure does not hold the others back; the
// first error is returned after the sweep.
func (s *Service) ReconcileAll(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var firstErr error

	invoices, err := s.store.ListInvoices(ctx, ledger.InvoiceFilter{})
	if err != nil {
		s.metrics.Sweep("error")
		return res, err
	}
	for _, inv := range invoices {
		c, err := s.ReconcileInvoice(ctx, inv.ID)
		res.Invoices++
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if c.Changed {
			res.InvoicesChanged++
		}
	}

	sales, err := s.store.ListSales(ctx, ledger.SaleFilter{})
	if err != nil {
		s.metrics.Sweep("error")
		return res, err
	}
	for _, sale := range sales {
		id := sale.ID
		var changed bool
		err := s.run(ctx, "reconcile_sale", func(ctx context.Context, t *txn) error {
			payments, err := t.st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &id})
			if err != nil {
				return err
			}
			if len(payments) == 0 && !sale.IsPaid {
				return nil // never paid anything, nothing to drift
			}
			before := len(t.changes)
			if err := t.reconcileSale(ctx, id); err != nil {
				return err
			}
			changed = len(t.changes) > before
			return nil
		})
		res.Sales++
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			res.SalesChanged++
		}
	}

	if firstErr != nil {
		s.metrics.Sweep("error")
		return res, firstErr
	}
	s.metrics.Sweep("ok")
	return res, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func validatePaymentInput(in PaymentInput) (PaymentInput, error) {
	if !in.Amount.IsPositive() {
		return in, ledger.Invalid("amount", "must be greater than zero")
	}
	if in.SaleID == nil && in.InvoiceID == nil {
		return in, ledger.Invalid("sale_id", "a sale or an invoice is required")
	}
	if strings.TrimSpace(string(in.Method)) == "" {
		return in, ledger.Invalid("method", "is required")
	}
	if in.Method == ledger.MethodCheck {
		if strings.TrimSpace(in.CheckNumber) == "" {
			return in, ledger.Invalid("check_number", "is required for checks")
		}
	} else {
		in.CheckNumber = ""
	}
	return in, nil
}

// CreatePayment records a payment against a sale, an invoice, or both. A
// payment on an invoiced sale always carries that sale's invoice.
func (s *Service) CreatePayment(ctx context.Context, in PaymentInput) (ledger.Payment, error) {
	in, err := validatePaymentInput(in)
	if err != nil {
		return ledger.Payment{}, err
	}

	var out ledger.Payment
	err = s.run(ctx, "create_payment", func(ctx context.Context, t *txn) error {
		client := in.ClientID
		invoiceID := in.InvoiceID

		if in.SaleID != nil {
			sale, err := t.liveSale(ctx, *in.SaleID)
			if err != nil {
				return err
			}
			if client != "" && client != sale.ClientID {
				return ledger.Invalid("client_id", "does not match the sale's client")
			}
			client = sale.ClientID
			if sale.IsInvoiced && sale.InvoiceID != nil {
				if invoiceID != nil && *invoiceID != *sale.InvoiceID {
					return ledger.Invalid("invoice_id", "does not match the sale's invoice")
				}
				invoiceID = sale.InvoiceID
			}
		}
		if invoiceID != nil {
			inv, err := t.liveInvoice(ctx, *invoiceID)
			if err != nil {
				return err
			}
			if client != "" && client != inv.ClientID {
				return ledger.Invalid("client_id", "does not match the invoice's client")
			}
			client = inv.ClientID
		}
		if _, err := t.st.GetClient(ctx, client); err != nil {
			return err
		}

		date := in.Date
		if date.IsZero() {
			date = t.now
		}
		p := ledger.Payment{
			ID:          ledger.PaymentID(t.newID()),
			SaleID:      in.SaleID,
			InvoiceID:   invoiceID,
			ClientID:    client,
			Amount:      in.Amount,
			Date:        date.UTC(),
			Method:      in.Method,
			CheckNumber: in.CheckNumber,
			Notes:       in.Notes,
			CreatedAt:   t.now,
			UpdatedAt:   t.now,
		}
		if err := t.st.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		if err := t.reconcilePayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	s.record(ctx, "payment.created", "payment", string(out.ID), map[string]any{
		"amount": out.Amount.String(),
		"method": string(out.Method),
	})
	return out, nil
}

// UpdatePayment edits a live payment and reconciles what it counts toward.
func (s *Service) UpdatePayment(ctx context.Context, id ledger.PaymentID, p ledger.PaymentPatch) (ledger.Payment, error) {
	if p.Amount.Set && !p.Amount.Value.IsPositive() {
		return ledger.Payment{}, ledger.Invalid("amount", "must be greater than zero")
	}
	if p.Method.Set && strings.TrimSpace(string(p.Method.Value)) == "" {
		return ledger.Payment{}, ledger.Invalid("method", "must not be empty")
	}

	var out ledger.Payment
	err := s.run(ctx, "update_payment", func(ctx context.Context, t *txn) error {
		cur, err := t.livePayment(ctx, id)
		if err != nil {
			return err
		}
		next := p.Apply(cur)
		if next.Method == ledger.MethodCheck && strings.TrimSpace(next.CheckNumber) == "" {
			return ledger.Invalid("check_number", "is required for checks")
		}
		if next.Method != ledger.MethodCheck && cur.CheckNumber != "" && !p.CheckNumber.Set {
			// clearing the number is part of switching away from checks
			p.CheckNumber = ledger.Set("")
		}

		if !p.Empty() {
			if err := t.st.PatchPayment(ctx, id, p); err != nil {
				return fmt.Errorf("update payment %s: %w", id, err)
			}
		}
		out, err = t.st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		return t.reconcilePayment(ctx, out)
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	s.record(ctx, "payment.updated", "payment", string(id), map[string]any{"amount": out.Amount.String()})
	return out, nil
}

func (s *Service) GetPayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	return s.store.ListPayments(ctx, f)
}

func (s *Service) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	err := s.run(ctx, "delete_payment", func(ctx context.Context, t *txn) error {
		p, err := t.livePayment(ctx, id)
		if err != nil {
			return err
		}
		p.IsDeleted = true
		p.DeletedAt = ledger.TimePtr(t.now)
		p.UpdatedAt = t.now
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("soft-delete payment %s: %w", id, err)
		}
		t.count("payment", "soft_deleted", 1)
		return t.reconcilePayment(ctx, p)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "payment.deleted", "payment", string(id), nil)
	return nil
}

// RestorePayment undoes DeletePayment. A payment whose sale is deleted comes
// back only with its sale.
func (s *Service) RestorePayment(ctx context.Context, id ledger.PaymentID) error {
	err := s.run(ctx, "restore_payment", func(ctx context.Context, t *txn) error {
		p, err := t.st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsDeleted {
			return nil
		}
		if p.SaleID != nil {
			sale, err := t.st.GetSale(ctx, *p.SaleID)
			if err != nil {
				return err
			}
			if sale.IsDeleted {
				return ledger.Conflict("payment", string(id),
					fmt.Sprintf("belongs to deleted sale %s; restore the sale instead", sale.ID))
			}
		}
		p.IsDeleted = false
		p.DeletedAt = nil
		p.UpdatedAt = t.now
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("restore payment %s: %w", id, err)
		}
		t.count("payment", "restored", 1)
		return t.reconcilePayment(ctx, p)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "payment.restored", "payment", string(id), nil)
	return nil
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAudit returns recorded entries, newest first. Stores without an audit
// log return nothing.
func (s *Service) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	al, ok := s.store.(ledger.AuditLog)
	if !ok {
		return nil, nil
	}
	return al.QueryAudit(ctx, f)
}

// Resetter is implemented by stores that can drop every row.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Reset empties the ledger. It exists for demo data and is refused by stores
// that do not implement Resetter.
func (s *Service) Reset(ctx context.Context) error {
	r, ok := s.store.(Resetter)
	if !ok {
		return fmt.Errorf("%w: store does not support reset", ledger.ErrConflict)
	}
	if err := r.Reset(ctx); err != nil {
		return err
	}
	s.log.Warn("ledger reset")
	return nil
}
