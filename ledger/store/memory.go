// Package store provides the in-memory ledger.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table as a slice in insertion order. Lookups are linear
// scans, which is fine for tests and small dev datasets.
type Memory struct {
	mu sync.Mutex
	t  *tables
}

type tables struct {
	clients  []ledger.Client
	sales    []ledger.Sale // Items are stored in items, not here
	items    []ledger.SaleItem
	invoices []ledger.Invoice // SaleIDs are derived from links, not stored
	links    []ledger.InvoiceSale
	payments []ledger.Payment
	audit    []ledger.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{t: &tables{}}
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store mutex is held for the whole of fn, so transactions are fully
// serialized and LockInvoice has nothing left to do.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.t.clone()

	if err := fn(tm.t); err != nil {
		tm.t = snapshot
		return err
	}
	return nil
}

// Slices hold values, and every write replaces a whole element, so copying
// the slice headers' contents is a complete snapshot.
func (t *tables) clone() *tables {
	return &tables{
		clients:  append([]ledger.Client(nil), t.clients...),
		sales:    append([]ledger.Sale(nil), t.sales...),
		items:    append([]ledger.SaleItem(nil), t.items...),
		invoices: append([]ledger.Invoice(nil), t.invoices...),
		links:    append([]ledger.InvoiceSale(nil), t.links...),
		payments: append([]ledger.Payment(nil), t.payments...),
		audit:    append([]ledger.AuditEntry(nil), t.audit...),
	}
}

// =============================================================================
// LOCKED ENTRY POINTS - Outside a transaction each call locks on its own
// =============================================================================

func (m *Memory) CreateClient(ctx context.Context, c ledger.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateClient(ctx, c)
}

func (m *Memory) GetClient(ctx context.Context, id ledger.ClientID) (ledger.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.GetClient(ctx, id)
}

func (m *Memory) ListClients(ctx context.Context) ([]ledger.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ListClients(ctx)
}

func (m *Memory) CreateSale(ctx context.Context, s ledger.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateSale(ctx, s)
}

func (m *Memory) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.GetSale(ctx, id)
}

func (m *Memory) ListSales(ctx context.Context, f ledger.SaleFilter) ([]ledger.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ListSales(ctx, f)
}

func (m *Memory) UpdateSale(ctx context.Context, s ledger.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateSale(ctx, s)
}

func (m *Memory) SetSalePaid(ctx context.Context, id ledger.SaleID, paid bool, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SetSalePaid(ctx, id, paid, paidAt)
}

func (m *Memory) ReplaceSaleItems(ctx context.Context, id ledger.SaleID, items []ledger.SaleItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ReplaceSaleItems(ctx, id, items)
}

func (m *Memory) SalesByInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SalesByInvoice(ctx, id)
}

func (m *Memory) CreateInvoice(ctx context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateInvoice(ctx, inv)
}

func (m *Memory) GetInvoice(ctx context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.GetInvoice(ctx, id)
}

func (m *Memory) GetInvoiceByNumber(ctx context.Context, number string) (ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.GetInvoiceByNumber(ctx, number)
}

func (m *Memory) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ListInvoices(ctx, f)
}

func (m *Memory) UpdateInvoice(ctx context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateInvoice(ctx, inv)
}

func (m *Memory) PatchInvoice(ctx context.Context, id ledger.InvoiceID, p ledger.InvoicePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.PatchInvoice(ctx, id, p)
}

func (m *Memory) SetInvoicePaid(ctx context.Context, id ledger.InvoiceID, paid bool, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SetInvoicePaid(ctx, id, paid, paidAt)
}

func (m *Memory) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteInvoice(ctx, id)
}

func (m *Memory) LockInvoice(ctx context.Context, id ledger.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.LockInvoice(ctx, id)
}

func (m *Memory) CreateLink(ctx context.Context, l ledger.InvoiceSale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateLink(ctx, l)
}

func (m *Memory) LinksByInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.InvoiceSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.LinksByInvoice(ctx, id)
}

func (m *Memory) LinksBySale(ctx context.Context, id ledger.SaleID) ([]ledger.InvoiceSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.LinksBySale(ctx, id)
}

func (m *Memory) DeleteLinksBySale(ctx context.Context, id ledger.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteLinksBySale(ctx, id)
}

func (m *Memory) DeleteLinksByInvoice(ctx context.Context, id ledger.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteLinksByInvoice(ctx, id)
}

func (m *Memory) CreatePayment(ctx context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreatePayment(ctx, p)
}

func (m *Memory) GetPayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ListPayments(ctx, f)
}

func (m *Memory) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdatePayment(ctx, p)
}

func (m *Memory) PatchPayment(ctx context.Context, id ledger.PaymentID, p ledger.PaymentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.PatchPayment(ctx, id, p)
}

func (m *Memory) PaymentsForInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.PaymentsForInvoice(ctx, id)
}

// Reset drops every row, audit included.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = &tables{}
	return nil
}

// AppendAudit and QueryAudit make Memory a ledger.AuditLog.
func (m *Memory) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.audit = append(m.t.audit, e)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.AuditEntry
	// newest first, like the SQL store
	for i := len(m.t.audit) - 1; i >= 0; i-- {
		e := m.t.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TABLES - Unlocked ledger.Store, used directly inside WithTx
// =============================================================================

func (t *tables) CreateClient(_ context.Context, c ledger.Client) error {
	if t.clientIndex(c.ID) >= 0 {
		return ledger.Conflict("client", string(c.ID), "already exists")
	}
	t.clients = append(t.clients, c)
	return nil
}

func (t *tables) GetClient(_ context.Context, id ledger.ClientID) (ledger.Client, error) {
	i := t.clientIndex(id)
	if i < 0 {
		return ledger.Client{}, ledger.NotFound("client", string(id))
	}
	return t.clients[i], nil
}

func (t *tables) ListClients(_ context.Context) ([]ledger.Client, error) {
	out := append([]ledger.Client(nil), t.clients...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tables) CreateSale(_ context.Context, s ledger.Sale) error {
	if t.saleIndex(s.ID) >= 0 {
		return ledger.Conflict("sale", string(s.ID), "already exists")
	}
	items := s.Items
	s.Items = nil
	t.sales = append(t.sales, s)
	for _, it := range items {
		it.SaleID = s.ID
		t.items = append(t.items, it)
	}
	return nil
}

func (t *tables) GetSale(_ context.Context, id ledger.SaleID) (ledger.Sale, error) {
	i := t.saleIndex(id)
	if i < 0 {
		return ledger.Sale{}, ledger.NotFound("sale", string(id))
	}
	return t.hydrateSale(t.sales[i]), nil
}

func (t *tables) ListSales(_ context.Context, f ledger.SaleFilter) ([]ledger.Sale, error) {
	var out []ledger.Sale
	for _, s := range t.sales {
		if s.IsDeleted && !f.IncludeDeleted {
			continue
		}
		if f.ClientID != nil && s.ClientID != *f.ClientID {
			continue
		}
		out = append(out, t.hydrateSale(s))
	}
	return out, nil
}

func (t *tables) UpdateSale(_ context.Context, s ledger.Sale) error {
	i := t.saleIndex(s.ID)
	if i < 0 {
		return ledger.NotFound("sale", string(s.ID))
	}
	s.Items = nil
	t.sales[i] = s
	return nil
}

func (t *tables) SetSalePaid(_ context.Context, id ledger.SaleID, paid bool, paidAt *time.Time) error {
	i := t.saleIndex(id)
	if i < 0 {
		return ledger.NotFound("sale", string(id))
	}
	t.sales[i].IsPaid = paid
	t.sales[i].PaidAt = paidAt
	return nil
}

func (t *tables) ReplaceSaleItems(_ context.Context, id ledger.SaleID, items []ledger.SaleItem) error {
	if t.saleIndex(id) < 0 {
		return ledger.NotFound("sale", string(id))
	}
	kept := t.items[:0:0]
	for _, it := range t.items {
		if it.SaleID != id {
			kept = append(kept, it)
		}
	}
	for _, it := range items {
		it.SaleID = id
		kept = append(kept, it)
	}
	t.items = kept
	return nil
}

func (t *tables) SalesByInvoice(_ context.Context, id ledger.InvoiceID) ([]ledger.Sale, error) {
	var out []ledger.Sale
	for _, s := range t.sales {
		if s.InvoiceID != nil && *s.InvoiceID == id {
			out = append(out, t.hydrateSale(s))
		}
	}
	return out, nil
}

func (t *tables) CreateInvoice(_ context.Context, inv ledger.Invoice) error {
	if t.invoiceIndex(inv.ID) >= 0 {
		return ledger.Conflict("invoice", string(inv.ID), "already exists")
	}
	for _, existing := range t.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return ledger.Conflict("invoice", inv.InvoiceNumber, "number already used")
		}
	}
	inv.SaleIDs = nil
	t.invoices = append(t.invoices, inv)
	return nil
}

func (t *tables) GetInvoice(_ context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	i := t.invoiceIndex(id)
	if i < 0 {
		return ledger.Invoice{}, ledger.NotFound("invoice", string(id))
	}
	return t.hydrateInvoice(t.invoices[i]), nil
}

func (t *tables) GetInvoiceByNumber(_ context.Context, number string) (ledger.Invoice, error) {
	for _, inv := range t.invoices {
		if inv.InvoiceNumber == number {
			return t.hydrateInvoice(inv), nil
		}
	}
	return ledger.Invoice{}, ledger.NotFound("invoice", number)
}

func (t *tables) ListInvoices(_ context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	var out []ledger.Invoice
	for _, inv := range t.invoices {
		if inv.IsDeleted && !f.IncludeDeleted {
			continue
		}
		if f.ClientID != nil && inv.ClientID != *f.ClientID {
			continue
		}
		if f.IsPaid != nil && inv.IsPaid != *f.IsPaid {
			continue
		}
		if f.From != nil && inv.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && inv.Date.After(*f.To) {
			continue
		}
		out = append(out, t.hydrateInvoice(inv))
	}
	return out, nil
}

func (t *tables) UpdateInvoice(_ context.Context, inv ledger.Invoice) error {
	i := t.invoiceIndex(inv.ID)
	if i < 0 {
		return ledger.NotFound("invoice", string(inv.ID))
	}
	inv.SaleIDs = nil
	t.invoices[i] = inv
	return nil
}

func (t *tables) PatchInvoice(_ context.Context, id ledger.InvoiceID, p ledger.InvoicePatch) error {
	i := t.invoiceIndex(id)
	if i < 0 {
		return ledger.NotFound("invoice", string(id))
	}
	t.invoices[i] = p.Apply(t.invoices[i])
	return nil
}

func (t *tables) SetInvoicePaid(_ context.Context, id ledger.InvoiceID, paid bool, paidAt *time.Time) error {
	i := t.invoiceIndex(id)
	if i < 0 {
		return ledger.NotFound("invoice", string(id))
	}
	t.invoices[i].IsPaid = paid
	t.invoices[i].PaidAt = paidAt
	return nil
}

func (t *tables) DeleteInvoice(_ context.Context, id ledger.InvoiceID) error {
	i := t.invoiceIndex(id)
	if i < 0 {
		return ledger.NotFound("invoice", string(id))
	}
	t.invoices = append(t.invoices[:i:i], t.invoices[i+1:]...)
	return nil
}

func (t *tables) LockInvoice(_ context.Context, id ledger.InvoiceID) error {
	if t.invoiceIndex(id) < 0 {
		return ledger.NotFound("invoice", string(id))
	}
	return nil
}

func (t *tables) CreateLink(_ context.Context, l ledger.InvoiceSale) error {
	for _, existing := range t.links {
		if existing.InvoiceID == l.InvoiceID && existing.SaleID == l.SaleID {
			return ledger.Conflict("sale", string(l.SaleID), "already linked to invoice "+string(l.InvoiceID))
		}
	}
	t.links = append(t.links, l)
	return nil
}

func (t *tables) LinksByInvoice(_ context.Context, id ledger.InvoiceID) ([]ledger.InvoiceSale, error) {
	var out []ledger.InvoiceSale
	for _, l := range t.links {
		if l.InvoiceID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *tables) LinksBySale(_ context.Context, id ledger.SaleID) ([]ledger.InvoiceSale, error) {
	var out []ledger.InvoiceSale
	for _, l := range t.links {
		if l.SaleID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *tables) DeleteLinksBySale(_ context.Context, id ledger.SaleID) error {
	t.links = filterLinks(t.links, func(l ledger.InvoiceSale) bool { return l.SaleID != id })
	return nil
}

func (t *tables) DeleteLinksByInvoice(_ context.Context, id ledger.InvoiceID) error {
	t.links = filterLinks(t.links, func(l ledger.InvoiceSale) bool { return l.InvoiceID != id })
	return nil
}

func (t *tables) CreatePayment(_ context.Context, p ledger.Payment) error {
	if t.paymentIndex(p.ID) >= 0 {
		return ledger.Conflict("payment", string(p.ID), "already exists")
	}
	t.payments = append(t.payments, p)
	return nil
}

func (t *tables) GetPayment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	i := t.paymentIndex(id)
	if i < 0 {
		return ledger.Payment{}, ledger.NotFound("payment", string(id))
	}
	return t.payments[i], nil
}

func (t *tables) ListPayments(_ context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range t.payments {
		if p.IsDeleted && !f.IncludeDeleted {
			continue
		}
		if f.SaleID != nil && (p.SaleID == nil || *p.SaleID != *f.SaleID) {
			continue
		}
		if f.InvoiceID != nil && (p.InvoiceID == nil || *p.InvoiceID != *f.InvoiceID) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *tables) UpdatePayment(_ context.Context, p ledger.Payment) error {
	i := t.paymentIndex(p.ID)
	if i < 0 {
		return ledger.NotFound("payment", string(p.ID))
	}
	t.payments[i] = p
	return nil
}

func (t *tables) PatchPayment(_ context.Context, id ledger.PaymentID, p ledger.PaymentPatch) error {
	i := t.paymentIndex(id)
	if i < 0 {
		return ledger.NotFound("payment", string(id))
	}
	t.payments[i] = p.Apply(t.payments[i])
	return nil
}

func (t *tables) PaymentsForInvoice(_ context.Context, id ledger.InvoiceID) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range t.payments {
		if p.IsDeleted {
			continue
		}
		if p.InvoiceID != nil && *p.InvoiceID == id {
			out = append(out, p)
			continue
		}
		if p.SaleID == nil {
			continue
		}
		if i := t.saleIndex(*p.SaleID); i >= 0 {
			s := t.sales[i]
			if s.InvoiceID != nil && *s.InvoiceID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (t *tables) clientIndex(id ledger.ClientID) int {
	for i := range t.clients {
		if t.clients[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *tables) saleIndex(id ledger.SaleID) int {
	for i := range t.sales {
		if t.sales[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *tables) invoiceIndex(id ledger.InvoiceID) int {
	for i := range t.invoices {
		if t.invoices[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *tables) paymentIndex(id ledger.PaymentID) int {
	for i := range t.payments {
		if t.payments[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *tables) hydrateSale(s ledger.Sale) ledger.Sale {
	s.Items = nil
	for _, it := range t.items {
		if it.SaleID == s.ID {
			s.Items = append(s.Items, it)
		}
	}
	return s
}

func (t *tables) hydrateInvoice(inv ledger.Invoice) ledger.Invoice {
	inv.SaleIDs = nil
	for _, l := range t.links {
		if l.InvoiceID == inv.ID {
			inv.SaleIDs = append(inv.SaleIDs, l.SaleID)
		}
	}
	return inv
}

func filterLinks(links []ledger.InvoiceSale, keep func(ledger.InvoiceSale) bool) []ledger.InvoiceSale {
	out := links[:0:0]
	for _, l := range links {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
