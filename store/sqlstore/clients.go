package sqlstore

import (
	"context"
	"database/sql"

	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, name, company, email, phone, address, notes,
	nif, nis, rc, ai, rib, credit_balance, created_at, updated_at`

func (c *conn) CreateClient(ctx context.Context, cl ledger.Client) error {
	_, err := c.exec(ctx, "insert client", `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(cl.ID), cl.Name, nullString(cl.Company), nullString(cl.Email),
		nullString(cl.Phone), nullString(cl.Address), nullString(cl.Notes),
		nullString(cl.NIF), nullString(cl.NIS), nullString(cl.RC), nullString(cl.AI),
		nullString(cl.RIB), cl.CreditBalance.String(),
		formatTime(cl.CreatedAt), formatTime(cl.UpdatedAt))
	if isUniqueConstraintError(err) {
		return ledger.Conflict("client", string(cl.ID), "already exists")
	}
	return err
}

func (c *conn) GetClient(ctx context.Context, id ledger.ClientID) (ledger.Client, error) {
	row := c.queryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, string(id))
	cl, err := scanClient(row)
	if err != nil {
		return ledger.Client{}, notFoundOr(err, "client", string(id))
	}
	return cl, nil
}

func (c *conn) ListClients(ctx context.Context) ([]ledger.Client, error) {
	return queryAll(ctx, c, "list clients",
		`SELECT `+clientColumns+` FROM clients ORDER BY name, id`, scanClient)
}

func scanClient(row scanner) (ledger.Client, error) {
	var (
		cl                                    ledger.Client
		id, credit, created, updated          string
		company, email, phone, address, notes sql.NullString
		nif, nis, rc, ai, rib                 sql.NullString
	)
	err := row.Scan(&id, &cl.Name, &company, &email, &phone, &address, &notes,
		&nif, &nis, &rc, &ai, &rib, &credit, &created, &updated)
	if err != nil {
		return ledger.Client{}, err
	}
	cl.ID = ledger.ClientID(id)
	cl.Company, cl.Email, cl.Phone = company.String, email.String, phone.String
	cl.Address, cl.Notes = address.String, notes.String
	cl.NIF, cl.NIS, cl.RC, cl.AI, cl.RIB = nif.String, nis.String, rc.String, ai.String, rib.String

	if cl.CreditBalance, err = parseDecimal(credit); err != nil {
		return ledger.Client{}, err
	}
	if cl.CreatedAt, err = parseTime(created); err != nil {
		return ledger.Client{}, err
	}
	if cl.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.Client{}, err
	}
	return cl, nil
}
