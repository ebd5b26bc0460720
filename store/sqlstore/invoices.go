package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, invoice_number, client_id, date, due_date,
	total_amount_ht, total_amount_ttc, is_paid, paid_at, is_deleted, deleted_at,
	created_at, updated_at`

func (c *conn) CreateInvoice(ctx context.Context, inv ledger.Invoice) error {
	_, err := c.exec(ctx, "insert invoice", `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(inv.ID), inv.InvoiceNumber, string(inv.ClientID),
		formatTime(inv.Date), formatTime(inv.DueDate),
		inv.TotalAmountHT.String(), inv.TotalAmountTTC.String(),
		inv.IsPaid, formatTimePtr(inv.PaidAt), inv.IsDeleted, formatTimePtr(inv.DeletedAt),
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("invoice", inv.InvoiceNumber, "number already in use")
	}
	return err
}

func (c *conn) GetInvoice(ctx context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	row := c.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, string(id))
	inv, err := scanInvoice(row)
	if err != nil {
		return ledger.Invoice{}, notFoundOr(err, "invoice", string(id))
	}
	return c.hydrateInvoice(ctx, inv)
}

func (c *conn) GetInvoiceByNumber(ctx context.Context, number string) (ledger.Invoice, error) {
	row := c.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number = ?`, number)
	inv, err := scanInvoice(row)
	if err != nil {
		return ledger.Invoice{}, notFoundOr(err, "invoice", number)
	}
	return c.hydrateInvoice(ctx, inv)
}

func (c *conn) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "is_deleted = ?")
		args = append(args, false)
	}
	if f.ClientID != nil {
		where = append(where, "client_id = ?")
		args = append(args, string(*f.ClientID))
	}
	if f.IsPaid != nil {
		where = append(where, "is_paid = ?")
		args = append(args, *f.IsPaid)
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, invoice_number"

	invoices, err := queryAll(ctx, c, "list invoices", query, scanInvoice, args...)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i], err = c.hydrateInvoice(ctx, invoices[i]); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func (c *conn) UpdateInvoice(ctx context.Context, inv ledger.Invoice) error {
	err := c.execOne(ctx, "update invoice", "invoice", string(inv.ID), `
		UPDATE invoices SET
			invoice_number = ?, client_id = ?, date = ?, due_date = ?,
			total_amount_ht = ?, total_amount_ttc = ?, is_paid = ?, paid_at = ?,
			is_deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`, inv.InvoiceNumber, string(inv.ClientID), formatTime(inv.Date), formatTime(inv.DueDate),
		inv.TotalAmountHT.String(), inv.TotalAmountTTC.String(),
		inv.IsPaid, formatTimePtr(inv.PaidAt), inv.IsDeleted, formatTimePtr(inv.DeletedAt),
		formatTime(inv.UpdatedAt), string(inv.ID))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("invoice", inv.InvoiceNumber, "number already in use")
	}
	return err
}

// PatchInvoice writes only the columns set in p.
func (c *conn) PatchInvoice(ctx context.Context, id ledger.InvoiceID, p ledger.InvoicePatch) error {
	var (
		set  []string
		args []any
	)
	if p.InvoiceNumber.Set {
		set = append(set, "invoice_number = ?")
		args = append(args, p.InvoiceNumber.Value)
	}
	if p.Date.Set {
		set = append(set, "date = ?")
		args = append(args, formatTime(p.Date.Value))
	}
	if p.DueDate.Set {
		set = append(set, "due_date = ?")
		args = append(args, formatTime(p.DueDate.Value))
	}
	if p.TotalAmountHT.Set {
		set = append(set, "total_amount_ht = ?")
		args = append(args, p.TotalAmountHT.Value.String())
	}
	if p.TotalAmountTTC.Set {
		set = append(set, "total_amount_ttc = ?")
		args = append(args, p.TotalAmountTTC.Value.String())
	}
	if len(set) == 0 {
		return c.exists(ctx, "invoices", "invoice", string(id))
	}

	args = append(args, string(id))
	err := c.execOne(ctx, "patch invoice", "invoice", string(id),
		`UPDATE invoices SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if isUniqueConstraintError(err) {
		return ledger.Conflict("invoice", p.InvoiceNumber.Value, "number already in use")
	}
	return err
}

func (c *conn) SetInvoicePaid(ctx context.Context, id ledger.InvoiceID, paid bool, paidAt *time.Time) error {
	return c.execOne(ctx, "set invoice paid", "invoice", string(id),
		`UPDATE invoices SET is_paid = ?, paid_at = ? WHERE id = ?`,
		paid, formatTimePtr(paidAt), string(id))
}

func (c *conn) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	return c.execOne(ctx, "delete invoice", "invoice", string(id),
		`DELETE FROM invoices WHERE id = ?`, string(id))
}

// LockInvoice takes a row lock on PostgreSQL. SQLite transactions are
// already serialized, so there it only checks the row exists.
func (c *conn) LockInvoice(ctx context.Context, id ledger.InvoiceID) error {
	query := `SELECT id FROM invoices WHERE id = ?`
	if c.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	var got string
	if err := c.queryRow(ctx, query, string(id)).Scan(&got); err != nil {
		return notFoundOr(err, "invoice", string(id))
	}
	return nil
}

func (c *conn) exists(ctx context.Context, table, entity, id string) error {
	var one int
	err := c.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if err != nil {
		return notFoundOr(err, entity, id)
	}
	return nil
}

func (c *conn) hydrateInvoice(ctx context.Context, inv ledger.Invoice) (ledger.Invoice, error) {
	links, err := c.LinksByInvoice(ctx, inv.ID)
	if err != nil {
		return ledger.Invoice{}, err
	}
	inv.SaleIDs = nil
	for _, l := range links {
		inv.SaleIDs = append(inv.SaleIDs, l.SaleID)
	}
	return inv, nil
}

func scanInvoice(row scanner) (ledger.Invoice, error) {
	var (
		inv                       ledger.Invoice
		id, clientID, date, due   string
		ht, ttc, created, updated string
		paidAt, deletedAt         sql.NullString
	)
	err := row.Scan(&id, &inv.InvoiceNumber, &clientID, &date, &due, &ht, &ttc,
		&inv.IsPaid, &paidAt, &inv.IsDeleted, &deletedAt, &created, &updated)
	if err != nil {
		return ledger.Invoice{}, err
	}
	inv.ID = ledger.InvoiceID(id)
	inv.ClientID = ledger.ClientID(clientID)

	if inv.Date, err = parseTime(date); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.DueDate, err = parseTime(due); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.TotalAmountHT, err = parseDecimal(ht); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.TotalAmountTTC, err = parseDecimal(ttc); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.PaidAt, err = parseTimePtr(paidAt); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.CreatedAt, err = parseTime(created); err != nil {
		return ledger.Invoice{}, err
	}
	if inv.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.Invoice{}, err
	}
	return inv, nil
}

// =============================================================================
// INVOICE/SALE LINKS
// =============================================================================

const linkColumns = `id, invoice_id, sale_id, created_at`

func (c *conn) CreateLink(ctx context.Context, l ledger.InvoiceSale) error {
	_, err := c.exec(ctx, "insert link",
		`INSERT INTO invoice_sales (`+linkColumns+`) VALUES (?, ?, ?, ?)`,
		string(l.ID), string(l.InvoiceID), string(l.SaleID), formatTime(l.CreatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("invoice_sale", string(l.SaleID), "already linked to invoice "+string(l.InvoiceID))
	}
	return err
}

func (c *conn) LinksByInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.InvoiceSale, error) {
	return queryAll(ctx, c, "links by invoice",
		`SELECT `+linkColumns+` FROM invoice_sales WHERE invoice_id = ? ORDER BY created_at, id`,
		scanLink, string(id))
}

func (c *conn) LinksBySale(ctx context.Context, id ledger.SaleID) ([]ledger.InvoiceSale, error) {
	return queryAll(ctx, c, "links by sale",
		`SELECT `+linkColumns+` FROM invoice_sales WHERE sale_id = ? ORDER BY created_at, id`,
		scanLink, string(id))
}

func (c *conn) DeleteLinksBySale(ctx context.Context, id ledger.SaleID) error {
	_, err := c.exec(ctx, "delete links by sale", `DELETE FROM invoice_sales WHERE sale_id = ?`, string(id))
	return err
}

func (c *conn) DeleteLinksByInvoice(ctx context.Context, id ledger.InvoiceID) error {
	_, err := c.exec(ctx, "delete links by invoice", `DELETE FROM invoice_sales WHERE invoice_id = ?`, string(id))
	return err
}

func scanLink(row scanner) (ledger.InvoiceSale, error) {
	var id, invoiceID, saleID, created string
	if err := row.Scan(&id, &invoiceID, &saleID, &created); err != nil {
		return ledger.InvoiceSale{}, err
	}
	at, err := parseTime(created)
	if err != nil {
		return ledger.InvoiceSale{}, err
	}
	return ledger.InvoiceSale{
		ID:        ledger.LinkID(id),
		InvoiceID: ledger.InvoiceID(invoiceID),
		SaleID:    ledger.SaleID(saleID),
		CreatedAt: at,
	}, nil
}
