/*
cascade.go - Soft-delete and restore propagation

PURPOSE:
  Walks the Sale -> Payments -> Invoice graph when a sale or an invoice is
  deleted or restored. Every function here runs inside the caller's
  transaction; the first error aborts and rolls back the whole cascade.

TRANSITIONS:
  deleteSale:     guard, sale deleted, its payments deleted, its link rows
                  removed, any invoice left without live members deleted
  restoreSale:    sale and payments restored, link row recreated from the
                  back-reference, invoice restored once all members are live;
                  a sale with no back-reference takes its payments off any
                  invoice they still name
  deleteInvoice:  hard or soft, chosen by the guard
  restoreInvoice: members re-attached, invoice restored

  A deleted sale keeps its invoice back-reference. It is the record of
  former membership that restoreSale uses to recreate the link row.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// SALE
// =============================================================================

func (t *txn) deleteSale(ctx context.Context, id ledger.SaleID) error {
	sale, err := t.liveSale(ctx, id)
	if err != nil {
		return err
	}

	invoices, err := CheckSaleDeletable(ctx, t.st, sale)
	if err != nil {
		return err
	}

	sale.IsDeleted = true
	sale.DeletedAt = ledger.TimePtr(t.now)
	sale.UpdatedAt = t.now
	sale.Items = nil
	if err := t.st.UpdateSale(ctx, sale); err != nil {
		return fmt.Errorf("soft-delete sale %s: %w", id, err)
	}
	t.count("sale", "soft_deleted", 1)

	payments, err := t.st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &id})
	if err != nil {
		return fmt.Errorf("load payments of sale %s: %w", id, err)
	}
	for _, p := range payments {
		p.IsDeleted = true
		p.DeletedAt = ledger.TimePtr(t.now)
		p.UpdatedAt = t.now
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("soft-delete payment %s: %w", p.ID, err)
		}
	}
	t.count("payment", "soft_deleted", len(payments))

	links, err := t.st.LinksBySale(ctx, id)
	if err != nil {
		return fmt.Errorf("load links of sale %s: %w", id, err)
	}
	if err := t.st.DeleteLinksBySale(ctx, id); err != nil {
		return fmt.Errorf("unlink sale %s: %w", id, err)
	}
	t.count("invoice_sale", "removed", len(links))

	for _, inv := range invoices {
		members, err := t.memberSales(ctx, inv.ID)
		if err != nil {
			return err
		}
		if liveCount(members) > 0 {
			if _, err := t.reconcileInvoice(ctx, inv.ID); err != nil {
				return err
			}
			continue
		}
		if err := t.softDeleteInvoice(ctx, inv.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) restoreSale(ctx context.Context, id ledger.SaleID) error {
	sale, err := t.st.GetSale(ctx, id)
	if err != nil {
		return err
	}
	if !sale.IsDeleted {
		return nil
	}

	sale.IsDeleted = false
	sale.DeletedAt = nil
	sale.UpdatedAt = t.now
	sale.Items = nil
	if err := t.st.UpdateSale(ctx, sale); err != nil {
		return fmt.Errorf("restore sale %s: %w", id, err)
	}
	t.count("sale", "restored", 1)

	payments, err := t.st.ListPayments(ctx, ledger.PaymentFilter{SaleID: &id, IncludeDeleted: true})
	if err != nil {
		return fmt.Errorf("load payments of sale %s: %w", id, err)
	}
	restored := 0
	var former []ledger.InvoiceID
	for _, p := range payments {
		if !p.IsDeleted {
			continue
		}
		p.IsDeleted = false
		p.DeletedAt = nil
		p.UpdatedAt = t.now
		if p.InvoiceID != nil && sale.InvoiceID == nil {
			// The sale was detached while deleted; its payments follow it.
			former = appendInvoiceID(former, *p.InvoiceID)
			p.InvoiceID = nil
		}
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("restore payment %s: %w", p.ID, err)
		}
		restored++
	}
	t.count("payment", "restored", restored)

	if sale.InvoiceID != nil {
		if err := t.rejoinInvoice(ctx, sale); err != nil {
			return err
		}
	}
	for _, invID := range former {
		if _, err := t.reconcileInvoice(ctx, invID); err != nil && !ledger.IsNotFound(err) {
			return err
		}
	}
	return t.reconcileSale(ctx, id)
}

func appendInvoiceID(ids []ledger.InvoiceID, id ledger.InvoiceID) []ledger.InvoiceID {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}

// rejoinInvoice puts a restored sale back into the invoice its back-reference
// names, and restores that invoice once none of its members is deleted.
func (t *txn) rejoinInvoice(ctx context.Context, sale ledger.Sale) error {
	invID := *sale.InvoiceID
	inv, err := t.st.GetInvoice(ctx, invID)
	if ledger.IsNotFound(err) {
		sale.IsInvoiced = false
		sale.InvoiceID = nil
		return t.st.UpdateSale(ctx, sale)
	}
	if err != nil {
		return err
	}

	if _, err := t.attachSale(ctx, sale, invID); err != nil {
		return err
	}

	if inv.IsDeleted {
		members, err := t.memberSales(ctx, invID)
		if err != nil {
			return err
		}
		if liveCount(members) < len(members) {
			return nil
		}
		if err := t.restoreInvoiceRow(ctx, inv); err != nil {
			return err
		}
	}

	_, err = t.reconcileInvoice(ctx, invID)
	return err
}

// =============================================================================
// INVOICE
// =============================================================================

func (t *txn) softDeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	inv, err := t.st.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	inv.IsDeleted = true
	inv.DeletedAt = ledger.TimePtr(t.now)
	inv.UpdatedAt = t.now
	if err := t.st.UpdateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("soft-delete invoice %s: %w", id, err)
	}
	t.count("invoice", "soft_deleted", 1)
	return nil
}

func (t *txn) restoreInvoiceRow(ctx context.Context, inv ledger.Invoice) error {
	inv.IsDeleted = false
	inv.DeletedAt = nil
	inv.UpdatedAt = t.now
	if err := t.st.UpdateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("restore invoice %s: %w", inv.ID, err)
	}
	t.count("invoice", "restored", 1)
	return nil
}

// deleteInvoice removes an invoice the way the guard allows.
func (t *txn) deleteInvoice(ctx context.Context, id ledger.InvoiceID) (DeletionMode, error) {
	if _, err := t.liveInvoice(ctx, id); err != nil {
		return 0, err
	}

	mode, err := ChooseDeletionMode(ctx, t.st, id)
	if err != nil {
		return 0, err
	}

	if err := t.detachSales(ctx, id); err != nil {
		return 0, err
	}

	if mode == SoftDelete {
		return mode, t.softDeleteInvoice(ctx, id)
	}

	links, err := t.st.LinksByInvoice(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load links of invoice %s: %w", id, err)
	}
	if err := t.st.DeleteLinksByInvoice(ctx, id); err != nil {
		return 0, fmt.Errorf("unlink invoice %s: %w", id, err)
	}
	t.count("invoice_sale", "removed", len(links))

	// Deleted payments may still reference the row.
	stale, err := t.st.ListPayments(ctx, ledger.PaymentFilter{InvoiceID: &id, IncludeDeleted: true})
	if err != nil {
		return 0, fmt.Errorf("load payments of invoice %s: %w", id, err)
	}
	for _, p := range stale {
		p.InvoiceID = nil
		p.UpdatedAt = t.now
		if err := t.st.UpdatePayment(ctx, p); err != nil {
			return 0, fmt.Errorf("clear invoice of payment %s: %w", p.ID, err)
		}
	}

	if err := t.st.DeleteInvoice(ctx, id); err != nil {
		return 0, fmt.Errorf("hard-delete invoice %s: %w", id, err)
	}
	t.count("invoice", "hard_deleted", 1)
	return mode, nil
}

// restoreInvoice brings back a soft-deleted invoice with its members. It is
// refused while a member is deleted or belongs to another live invoice.
func (t *txn) restoreInvoice(ctx context.Context, id ledger.InvoiceID) error {
	inv, err := t.st.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if !inv.IsDeleted {
		return nil
	}

	members, err := t.memberSales(ctx, id)
	if err != nil {
		return err
	}
	for _, s := range members {
		if s.IsDeleted {
			return ledger.Conflict("sale", string(s.ID),
				fmt.Sprintf("is deleted; restore it before invoice %s", inv.InvoiceNumber))
		}
		if s.InvoiceID == nil || *s.InvoiceID == id {
			continue
		}
		other, err := t.st.GetInvoice(ctx, *s.InvoiceID)
		if err != nil && !ledger.IsNotFound(err) {
			return err
		}
		if err == nil && !other.IsDeleted {
			return ledger.Conflict("sale", string(s.ID),
				fmt.Sprintf("is now on invoice %s", other.InvoiceNumber))
		}
	}

	for _, s := range members {
		if _, err := t.attachSale(ctx, s, id); err != nil {
			return err
		}
	}
	if err := t.restoreInvoiceRow(ctx, inv); err != nil {
		return err
	}
	_, err = t.reconcileInvoice(ctx, id)
	return err
}
