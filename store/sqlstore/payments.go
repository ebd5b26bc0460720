package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, sale_id, invoice_id, client_id, amount, date, method,
	check_number, notes, is_deleted, deleted_at, created_at, updated_at`

func (c *conn) CreatePayment(ctx context.Context, p ledger.Payment) error {
	_, err := c.exec(ctx, "insert payment", `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(p.ID), nullID(p.SaleID), nullID(p.InvoiceID), string(p.ClientID),
		p.Amount.String(), formatTime(p.Date), string(p.Method),
		nullString(p.CheckNumber), nullString(p.Notes),
		p.IsDeleted, formatTimePtr(p.DeletedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("payment", string(p.ID), "already exists")
	}
	return err
}

func (c *conn) GetPayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	row := c.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, string(id))
	p, err := scanPayment(row)
	if err != nil {
		return ledger.Payment{}, notFoundOr(err, "payment", string(id))
	}
	return p, nil
}

func (c *conn) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "is_deleted = ?")
		args = append(args, false)
	}
	if f.SaleID != nil {
		where = append(where, "sale_id = ?")
		args = append(args, string(*f.SaleID))
	}
	if f.InvoiceID != nil {
		where = append(where, "invoice_id = ?")
		args = append(args, string(*f.InvoiceID))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, created_at, id"

	return queryAll(ctx, c, "list payments", query, scanPayment, args...)
}

func (c *conn) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	return c.execOne(ctx, "update payment", "payment", string(p.ID), `
		UPDATE payments SET
			sale_id = ?, invoice_id = ?, client_id = ?, amount = ?, date = ?, method = ?,
			check_number = ?, notes = ?, is_deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`, nullID(p.SaleID), nullID(p.InvoiceID), string(p.ClientID), p.Amount.String(),
		formatTime(p.Date), string(p.Method), nullString(p.CheckNumber), nullString(p.Notes),
		p.IsDeleted, formatTimePtr(p.DeletedAt), formatTime(p.UpdatedAt), string(p.ID))
}

// PatchPayment writes only the columns set in p. A check number never
// outlives a switch to another method.
func (c *conn) PatchPayment(ctx context.Context, id ledger.PaymentID, p ledger.PaymentPatch) error {
	var (
		set  []string
		args []any
	)
	if p.Amount.Set {
		set = append(set, "amount = ?")
		args = append(args, p.Amount.Value.String())
	}
	if p.Date.Set {
		set = append(set, "date = ?")
		args = append(args, formatTime(p.Date.Value))
	}
	if p.Notes.Set {
		set = append(set, "notes = ?")
		args = append(args, nullString(p.Notes.Value))
	}
	switch {
	case p.Method.Set && p.Method.Value != ledger.MethodCheck:
		set = append(set, "method = ?", "check_number = NULL")
		args = append(args, string(p.Method.Value))
	case p.Method.Set:
		set = append(set, "method = ?")
		args = append(args, string(p.Method.Value))
		if p.CheckNumber.Set {
			set = append(set, "check_number = ?")
			args = append(args, nullString(p.CheckNumber.Value))
		}
	case p.CheckNumber.Set:
		set = append(set, "check_number = CASE WHEN method = ? THEN ? ELSE NULL END")
		args = append(args, string(ledger.MethodCheck), nullString(p.CheckNumber.Value))
	}
	if len(set) == 0 {
		return c.exists(ctx, "payments", "payment", string(id))
	}

	args = append(args, string(id))
	return c.execOne(ctx, "patch payment", "payment", string(id),
		`UPDATE payments SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
}

// PaymentsForInvoice joins through sales so payments recorded against a
// member sale count even when their own invoice_id is empty.
func (c *conn) PaymentsForInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Payment, error) {
	return queryAll(ctx, c, "payments for invoice", `
		SELECT p.id, p.sale_id, p.invoice_id, p.client_id, p.amount, p.date, p.method,
			p.check_number, p.notes, p.is_deleted, p.deleted_at, p.created_at, p.updated_at
		FROM payments p
		LEFT JOIN sales s ON s.id = p.sale_id
		WHERE p.is_deleted = ? AND (p.invoice_id = ? OR s.invoice_id = ?)
		ORDER BY p.date, p.created_at, p.id
	`, scanPayment, false, string(id), string(id))
}

func scanPayment(row scanner) (ledger.Payment, error) {
	var (
		p                               ledger.Payment
		id, clientID, amount, date      string
		method, created, updated        string
		saleID, invoiceID, check, notes sql.NullString
		deletedAt                       sql.NullString
	)
	err := row.Scan(&id, &saleID, &invoiceID, &clientID, &amount, &date, &method,
		&check, &notes, &p.IsDeleted, &deletedAt, &created, &updated)
	if err != nil {
		return ledger.Payment{}, err
	}
	p.ID = ledger.PaymentID(id)
	p.SaleID = idPtr[ledger.SaleID](saleID)
	p.InvoiceID = idPtr[ledger.InvoiceID](invoiceID)
	p.ClientID = ledger.ClientID(clientID)
	p.Method = ledger.PaymentMethod(method)
	p.CheckNumber = check.String
	p.Notes = notes.String

	if p.Amount, err = parseDecimal(amount); err != nil {
		return ledger.Payment{}, err
	}
	if p.Date, err = parseTime(date); err != nil {
		return ledger.Payment{}, err
	}
	if p.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return ledger.Payment{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return ledger.Payment{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}
