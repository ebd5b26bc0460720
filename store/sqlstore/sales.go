package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, client_id, date, total_amount, total_amount_ttc, tax_rate,
	notes, payment_method, transportation_fee, is_invoiced, invoice_id,
	is_paid, paid_at, is_deleted, deleted_at, created_at, updated_at`

func (c *conn) CreateSale(ctx context.Context, s ledger.Sale) error {
	_, err := c.exec(ctx, "insert sale", `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(s.ID), string(s.ClientID), formatTime(s.Date),
		s.TotalAmount.String(), s.TotalAmountTTC.String(), s.TaxRate.String(),
		nullString(s.Notes), nullString(s.PaymentMethod), formatNullDecimal(s.TransportationFee),
		s.IsInvoiced, nullID(s.InvoiceID), s.IsPaid, formatTimePtr(s.PaidAt),
		s.IsDeleted, formatTimePtr(s.DeletedAt), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("sale", string(s.ID), "already exists")
	}
	if err != nil {
		return err
	}

	for _, it := range s.Items {
		it.SaleID = s.ID
		if err := c.insertItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	row := c.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, string(id))
	s, err := scanSale(row)
	if err != nil {
		return ledger.Sale{}, notFoundOr(err, "sale", string(id))
	}
	if s.Items, err = c.itemsOf(ctx, s.ID); err != nil {
		return ledger.Sale{}, err
	}
	return s, nil
}

func (c *conn) ListSales(ctx context.Context, f ledger.SaleFilter) ([]ledger.Sale, error) {
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

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, created_at, id"

	sales, err := queryAll(ctx, c, "list sales", query, scanSale, args...)
	if err != nil {
		return nil, err
	}
	return c.hydrateSales(ctx, sales)
}

func (c *conn) UpdateSale(ctx context.Context, s ledger.Sale) error {
	return c.execOne(ctx, "update sale", "sale", string(s.ID), `
		UPDATE sales SET
			client_id = ?, date = ?, total_amount = ?, total_amount_ttc = ?, tax_rate = ?,
			notes = ?, payment_method = ?, transportation_fee = ?,
			is_invoiced = ?, invoice_id = ?, is_paid = ?, paid_at = ?,
			is_deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`, string(s.ClientID), formatTime(s.Date), s.TotalAmount.String(), s.TotalAmountTTC.String(),
		s.TaxRate.String(), nullString(s.Notes), nullString(s.PaymentMethod),
		formatNullDecimal(s.TransportationFee), s.IsInvoiced, nullID(s.InvoiceID),
		s.IsPaid, formatTimePtr(s.PaidAt), s.IsDeleted, formatTimePtr(s.DeletedAt),
		formatTime(s.UpdatedAt), string(s.ID))
}

func (c *conn) SetSalePaid(ctx context.Context, id ledger.SaleID, paid bool, paidAt *time.Time) error {
	return c.execOne(ctx, "set sale paid", "sale", string(id),
		`UPDATE sales SET is_paid = ?, paid_at = ? WHERE id = ?`,
		paid, formatTimePtr(paidAt), string(id))
}

func (c *conn) ReplaceSaleItems(ctx context.Context, id ledger.SaleID, items []ledger.SaleItem) error {
	var one int
	err := c.queryRow(ctx, `SELECT 1 FROM sales WHERE id = ?`, string(id)).Scan(&one)
	if err != nil {
		return notFoundOr(err, "sale", string(id))
	}

	if _, err := c.exec(ctx, "delete sale items",
		`DELETE FROM sale_items WHERE sale_id = ?`, string(id)); err != nil {
		return err
	}
	for _, it := range items {
		it.SaleID = id
		if err := c.insertItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) SalesByInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Sale, error) {
	sales, err := queryAll(ctx, c, "sales by invoice",
		`SELECT `+saleColumns+` FROM sales WHERE invoice_id = ? ORDER BY created_at, id`,
		scanSale, string(id))
	if err != nil {
		return nil, err
	}
	return c.hydrateSales(ctx, sales)
}

func (c *conn) hydrateSales(ctx context.Context, sales []ledger.Sale) ([]ledger.Sale, error) {
	for i := range sales {
		items, err := c.itemsOf(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func scanSale(row scanner) (ledger.Sale, error) {
	var (
		s                                   ledger.Sale
		id, clientID, date, total, ttc, tax string
		created, updated                    string
		notes, method, fee, invoiceID       sql.NullString
		paidAt, deletedAt                   sql.NullString
	)
	err := row.Scan(&id, &clientID, &date, &total, &ttc, &tax,
		&notes, &method, &fee, &s.IsInvoiced, &invoiceID,
		&s.IsPaid, &paidAt, &s.IsDeleted, &deletedAt, &created, &updated)
	if err != nil {
		return ledger.Sale{}, err
	}
	s.ID = ledger.SaleID(id)
	s.ClientID = ledger.ClientID(clientID)
	s.Notes = notes.String
	s.PaymentMethod = method.String
	s.InvoiceID = idPtr[ledger.InvoiceID](invoiceID)

	if s.Date, err = parseTime(date); err != nil {
		return ledger.Sale{}, err
	}
	if s.TotalAmount, err = parseDecimal(total); err != nil {
		return ledger.Sale{}, err
	}
	if s.TotalAmountTTC, err = parseDecimal(ttc); err != nil {
		return ledger.Sale{}, err
	}
	if s.TaxRate, err = parseDecimal(tax); err != nil {
		return ledger.Sale{}, err
	}
	if s.TransportationFee, err = parseNullDecimal(fee); err != nil {
		return ledger.Sale{}, err
	}
	if s.PaidAt, err = parseTimePtr(paidAt); err != nil {
		return ledger.Sale{}, err
	}
	if s.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return ledger.Sale{}, err
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return ledger.Sale{}, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.Sale{}, err
	}
	return s, nil
}

// =============================================================================
// SALE ITEMS
// =============================================================================

const itemColumns = `id, sale_id, description, product_type, coil_ref, top_coat_ral,
	back_coat_ral, thickness, width, length, weight, quantity, price_per_ton,
	total_amount, created_at, updated_at`

func (c *conn) insertItem(ctx context.Context, it ledger.SaleItem) error {
	_, err := c.exec(ctx, "insert sale item", `
		INSERT INTO sale_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(it.ID), string(it.SaleID), it.Description, string(it.ProductType),
		nullString(it.CoilRef), nullString(it.TopCoatRAL), nullString(it.BackCoatRAL),
		formatNullDecimal(it.Thickness), formatNullDecimal(it.Width),
		formatNullDecimal(it.Length), formatNullDecimal(it.Weight),
		it.Quantity.String(), it.PricePerTon.String(), it.TotalAmount.String(),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("sale_item", string(it.ID), "already exists")
	}
	return err
}

func (c *conn) itemsOf(ctx context.Context, id ledger.SaleID) ([]ledger.SaleItem, error) {
	return queryAll(ctx, c, "load sale items",
		`SELECT `+itemColumns+` FROM sale_items WHERE sale_id = ? ORDER BY created_at, id`,
		scanItem, string(id))
}

func scanItem(row scanner) (ledger.SaleItem, error) {
	var (
		it                                  ledger.SaleItem
		id, saleID, productType             string
		qty, price, total, created, updated string
		coilRef, top, back                  sql.NullString
		thickness, width, length, weight    sql.NullString
	)
	err := row.Scan(&id, &saleID, &it.Description, &productType, &coilRef, &top, &back,
		&thickness, &width, &length, &weight, &qty, &price, &total, &created, &updated)
	if err != nil {
		return ledger.SaleItem{}, err
	}
	it.ID = ledger.SaleItemID(id)
	it.SaleID = ledger.SaleID(saleID)
	it.ProductType = ledger.ProductType(productType)
	it.CoilRef, it.TopCoatRAL, it.BackCoatRAL = coilRef.String, top.String, back.String

	for _, f := range []struct {
		dst *decimal.NullDecimal
		src sql.NullString
	}{
		{&it.Thickness, thickness}, {&it.Width, width}, {&it.Length, length}, {&it.Weight, weight},
	} {
		if *f.dst, err = parseNullDecimal(f.src); err != nil {
			return ledger.SaleItem{}, err
		}
	}
	if it.Quantity, err = parseDecimal(qty); err != nil {
		return ledger.SaleItem{}, err
	}
	if it.PricePerTon, err = parseDecimal(price); err != nil {
		return ledger.SaleItem{}, err
	}
	if it.TotalAmount, err = parseDecimal(total); err != nil {
		return ledger.SaleItem{}, err
	}
	if it.CreatedAt, err = parseTime(created); err != nil {
		return ledger.SaleItem{}, err
	}
	if it.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.SaleItem{}, err
	}
	return it, nil
}
