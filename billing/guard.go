package billing

import (
	"context"
	"fmt"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// DELETION GUARD - Decides before any row is touched
// =============================================================================

type DeletionMode int

const (
	// HardDelete physically removes a draft invoice: unpaid, no live payments.
	HardDelete DeletionMode = iota + 1
	// SoftDelete flags the invoice and keeps payments and links for restore.
	SoftDelete
)

func (m DeletionMode) String() string {
	switch m {
	case HardDelete:
		return "hard"
	case SoftDelete:
		return "soft"
	default:
		return "unknown"
	}
}

// ChooseDeletionMode picks how an invoice may be deleted. Only an invoice that
// never received money can vanish; anything else keeps its history.
func ChooseDeletionMode(ctx context.Context, st ledger.Store, id ledger.InvoiceID) (DeletionMode, error) {
	if err := st.LockInvoice(ctx, id); err != nil {
		return 0, fmt.Errorf("lock invoice %s: %w", id, err)
	}
	inv, err := st.GetInvoice(ctx, id)
	if err != nil {
		return 0, err
	}
	payments, err := st.PaymentsForInvoice(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("count payments of invoice %s: %w", id, err)
	}
	if !inv.IsPaid && len(payments) == 0 {
		return HardDelete, nil
	}
	return SoftDelete, nil
}

// CheckSaleDeletable returns the live invoices the sale belongs to, or a
// ConflictError if any of them is paid. A sale behind a paid invoice is never
// deleted, not even softly.
func CheckSaleDeletable(ctx context.Context, st ledger.Store, sale ledger.Sale) ([]ledger.Invoice, error) {
	links, err := st.LinksBySale(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("load links of sale %s: %w", sale.ID, err)
	}

	ids := make([]ledger.InvoiceID, 0, len(links)+1)
	for _, l := range links {
		ids = append(ids, l.InvoiceID)
	}
	if sale.InvoiceID != nil {
		ids = append(ids, *sale.InvoiceID)
	}

	seen := make(map[ledger.InvoiceID]bool, len(ids))
	var live []ledger.Invoice
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := st.LockInvoice(ctx, id); err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("lock invoice %s: %w", id, err)
		}
		inv, err := st.GetInvoice(ctx, id)
		if ledger.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if inv.IsDeleted {
			continue
		}
		if inv.IsPaid {
			return nil, ledger.Conflict("invoice", inv.InvoiceNumber,
				fmt.Sprintf("is paid; sale %s cannot be deleted", sale.ID))
		}
		live = append(live, inv)
	}
	return live, nil
}
