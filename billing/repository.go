/*
repository.go - Typed access to the ledger inside one transaction

PURPOSE:
  A txn is the unit of work of every billing operation. It wraps the
  transactional ledger.Store handed out by TxStore.WithTx together with
  the operation's clock reading, and collects the side effects (status
  flips, cascade row counts) that the Service reports after commit.

  The helpers here turn raw store reads into the lookups the rules need:
  "live" lookups that treat soft-deleted rows as missing, and the
  membership query (link rows plus back-references) used by cascades.

SEE ALSO:
  - reconciler.go: Paid status recomputation
  - cascade.go: Soft-delete/restore propagation
  - guard.go: Deletion vetoes
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/invoice-engine/ledger"
)

type txn struct {
	st    ledger.Store
	now   time.Time
	newID func() string
	rec   Reconciler
	log   *zap.Logger

	changes []StatusChange
	rows    map[rowKey]int
}

type rowKey struct {
	entity string
	action string
}

func (t *txn) count(entity, action string, n int) {
	if n == 0 {
		return
	}
	if t.rows == nil {
		t.rows = make(map[rowKey]int)
	}
	t.rows[rowKey{entity, action}] += n
	t.log.Debug("cascade step",
		zap.String("entity", entity),
		zap.String("action", action),
		zap.Int("rows", n))
}

// =============================================================================
// LIVE LOOKUPS - Soft-deleted rows are reported as not found
// =============================================================================

func (t *txn) liveSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	s, err := t.st.GetSale(ctx, id)
	if err != nil {
		return ledger.Sale{}, err
	}
	if s.IsDeleted {
		return ledger.Sale{}, ledger.NotFound("sale", string(id))
	}
	return s, nil
}

func (t *txn) liveInvoice(ctx context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	inv, err := t.st.GetInvoice(ctx, id)
	if err != nil {
		return ledger.Invoice{}, err
	}
	if inv.IsDeleted {
		return ledger.Invoice{}, ledger.NotFound("invoice", string(id))
	}
	return inv, nil
}

func (t *txn) livePayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	p, err := t.st.GetPayment(ctx, id)
	if err != nil {
		return ledger.Payment{}, err
	}
	if p.IsDeleted {
		return ledger.Payment{}, ledger.NotFound("payment", string(id))
	}
	return p, nil
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

// memberSales returns every sale that belongs to the invoice, deleted ones
// included: sales with a link row, plus sales whose back-reference still
// points at it (a deleted sale loses its link row but keeps the reference).
func (t *txn) memberSales(ctx context.Context, id ledger.InvoiceID) ([]ledger.Sale, error) {
	links, err := t.st.LinksByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load links of invoice %s: %w", id, err)
	}
	byRef, err := t.st.SalesByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load sales of invoice %s: %w", id, err)
	}

	seen := make(map[ledger.SaleID]bool, len(links)+len(byRef))
	var out []ledger.Sale
	for _, l := range links {
		if seen[l.SaleID] {
			continue
		}
		s, err := t.st.GetSale(ctx, l.SaleID)
		if err != nil {
			return nil, fmt.Errorf("load member sale %s: %w", l.SaleID, err)
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	for _, s := range byRef {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out, nil
}

func liveCount(sales []ledger.Sale) int {
	n := 0
	for _, s := range sales {
		if !s.IsDeleted {
			n++
		}
	}
	return n
}

func (t *txn) hasLink(ctx context.Context, inv ledger.InvoiceID, sale ledger.SaleID) (bool, error) {
	links, err := t.st.LinksBySale(ctx, sale)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.InvoiceID == inv {
			return true, nil
		}
	}
	return false, nil
}

// attachSale makes sale a member of inv: back-reference, link row, and every
// payment of the sale re-pointed at the invoice. It returns the number of
// live payments re-pointed.
func (t *txn) attachSale(ctx context.Context, sale ledger.Sale, inv ledger.InvoiceID) (int, error) {
	sale.IsInvoiced = true
	sale.InvoiceID = ledger.InvoiceIDPtr(inv)
	sale.UpdatedAt = t.now
	if err := t.st.UpdateSale(ctx, sale); err != nil {
		return 0, fmt.Errorf("attach sale %s: %w", sale.ID, err)
	}

	linked, err := t.hasLink(ctx, inv, sale.ID)
	if err != nil {
		return 0, fmt.Errorf("check link of sale %s: %w", sale.ID, err)
	}
	if !linked {
		err := t.st.CreateLink(ctx, ledger.InvoiceSale{
			ID:        ledger.LinkID(t.newID()),
			InvoiceID: inv,
			SaleID:    sale.ID,
			CreatedAt: t.now,
		})
		if err != nil {
			return 0, fmt.Errorf("link sale %s: %w", sale.ID, err)
		}
		t.count("invoice_sale", "linked", 1)
	}

	payments, err := t.st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &sale.ID, IncludeDeleted: true})
	if err != nil {
		return 0, fmt.Errorf("load payments of sale %s: %w", sale.ID, err)
	}
	live := 0
	for _, p := range payments {
		if !p.IsDeleted {
			live++
		}
		if p.InvoiceID != nil && *p.InvoiceID == inv {
			continue
		}
		p.InvoiceID = ledger.InvoiceIDPtr(inv)
		p.UpdatedAt = t.now
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return 0, fmt.Errorf("re-point payment %s: %w", p.ID, err)
		}
		t.count("payment", "repointed", 1)
	}
	return live, nil
}

// detachSales clears the back-reference of every member sale that still
// points at inv, deleted sales included, so they can be invoiced again.
func (t *txn) detachSales(ctx context.Context, inv ledger.InvoiceID) error {
	members, err := t.memberSales(ctx, inv)
	if err != nil {
		return err
	}
	for _, s := range members {
		if s.InvoiceID != nil && *s.InvoiceID != inv {
			continue // already re-invoiced elsewhere
		}
		s.IsInvoiced = false
		s.InvoiceID = nil
		s.UpdatedAt = t.now
		if err := t.st.UpdateSale(ctx, s); err != nil {
			return fmt.Errorf("detach sale %s: %w", s.ID, err)
		}
		t.count("sale", "detached", 1)
	}
	return nil
}

// invoicesOfPayment lists the invoices whose paid status depends on p.
func (t *txn) invoicesOfPayment(ctx context.Context, p ledger.Payment) ([]ledger.InvoiceID, error) {
	var ids []ledger.InvoiceID
	if p.InvoiceID != nil {
		ids = append(ids, *p.InvoiceID)
	}
	if p.SaleID != nil {
		s, err := t.st.GetSale(ctx, *p.SaleID)
		if err != nil && !ledger.IsNotFound(err) {
			return nil, err
		}
		if err == nil && s.InvoiceID != nil && (p.InvoiceID == nil || *s.InvoiceID != *p.InvoiceID) {
			ids = append(ids, *s.InvoiceID)
		}
	}
	return ids, nil
}
