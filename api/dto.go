/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal. They are written as JSON strings ("120.50")
  and accepted as either strings or numbers.

DATES:
  Business dates (sale date, invoice date, due date, payment date) use
  YYYY-MM-DD; an RFC3339 timestamp is also accepted on input. Audit
  timestamps (created_at, paid_at, deleted_at) are RFC3339.

PATCHES:
  Patch requests use pointer fields: an omitted field is left untouched.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Company       string          `json:"company,omitempty"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Address       string          `json:"address,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	NIF           string          `json:"nif,omitempty"`
	NIS           string          `json:"nis,omitempty"`
	RC            string          `json:"rc,omitempty"`
	AI            string          `json:"ai,omitempty"`
	RIB           string          `json:"rib,omitempty"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	CreatedAt     string          `json:"created_at"`
}

type CreateClientRequest struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
	NIF     string `json:"nif"`
	NIS     string `json:"nis"`
	RC      string `json:"rc"`
	AI      string `json:"ai"`
	RIB     string `json:"rib"`
}

// =============================================================================
// SALES
// =============================================================================

type SaleItemDTO struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description"`
	ProductType string              `json:"product_type"`
	CoilRef     string              `json:"coil_ref,omitempty"`
	TopCoatRAL  string              `json:"top_coat_ral,omitempty"`
	BackCoatRAL string              `json:"back_coat_ral,omitempty"`
	Thickness   decimal.NullDecimal `json:"thickness"`
	Width       decimal.NullDecimal `json:"width"`
	Length      decimal.NullDecimal `json:"length"`
	Weight      decimal.NullDecimal `json:"weight"`
	Quantity    decimal.Decimal     `json:"quantity"`
	PricePerTon decimal.Decimal     `json:"price_per_ton"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
}

type SaleDTO struct {
	ID                string              `json:"id"`
	ClientID          string              `json:"client_id"`
	Date              string              `json:"date"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	TotalAmountTTC    decimal.Decimal     `json:"total_amount_ttc"`
	TaxRate           decimal.Decimal     `json:"tax_rate"`
	Notes             string              `json:"notes,omitempty"`
	PaymentMethod     string              `json:"payment_method,omitempty"`
	TransportationFee decimal.NullDecimal `json:"transportation_fee"`
	IsInvoiced        bool                `json:"is_invoiced"`
	InvoiceID         *string             `json:"invoice_id"`
	IsPaid            bool                `json:"is_paid"`
	PaidAt            *string             `json:"paid_at"`
	IsDeleted         bool                `json:"is_deleted"`
	DeletedAt         *string             `json:"deleted_at"`
	CreatedAt         string              `json:"created_at"`
	Items             []SaleItemDTO       `json:"items"`
}

// SaleRequest creates a sale, or replaces one on PUT.
type SaleRequest struct {
	ClientID          string              `json:"client_id"`
	Date              string              `json:"date"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	TotalAmountTTC    decimal.Decimal     `json:"total_amount_ttc"`
	TaxRate           decimal.Decimal     `json:"tax_rate"`
	Notes             string              `json:"notes"`
	PaymentMethod     string              `json:"payment_method"`
	TransportationFee decimal.NullDecimal `json:"transportation_fee"`
	Items             []SaleItemDTO       `json:"items"`
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceDTO struct {
	ID             string          `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	ClientID       string          `json:"client_id"`
	Date           string          `json:"date"`
	DueDate        string          `json:"due_date"`
	TotalAmountHT  decimal.Decimal `json:"total_amount_ht"`
	TotalAmountTTC decimal.Decimal `json:"total_amount_ttc"`
	IsPaid         bool            `json:"is_paid"`
	PaidAt         *string         `json:"paid_at"`
	IsDeleted      bool            `json:"is_deleted"`
	DeletedAt      *string         `json:"deleted_at"`
	CreatedAt      string          `json:"created_at"`
	SaleIDs        []string        `json:"sale_ids"`
}

type CreateInvoiceRequest struct {
	InvoiceNumber  string          `json:"invoice_number"`
	ClientID       string          `json:"client_id"`
	Date           string          `json:"date"`
	DueDate        string          `json:"due_date"`
	TotalAmountHT  decimal.Decimal `json:"total_amount_ht"`
	TotalAmountTTC decimal.Decimal `json:"total_amount_ttc"`
	SaleIDs        []string        `json:"sale_ids"`
}

type UpdateInvoiceRequest struct {
	InvoiceNumber  *string          `json:"invoice_number,omitempty"`
	Date           *string          `json:"date,omitempty"`
	DueDate        *string          `json:"due_date,omitempty"`
	TotalAmountHT  *decimal.Decimal `json:"total_amount_ht,omitempty"`
	TotalAmountTTC *decimal.Decimal `json:"total_amount_ttc,omitempty"`
}

type DeleteInvoiceResponse struct {
	ID   string `json:"id"`
	Mode string `json:"mode"` // "hard" or "soft"
}

type BalanceDTO struct {
	InvoiceID string          `json:"invoice_id"`
	TotalTTC  decimal.Decimal `json:"total_ttc"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
	IsPaid    bool            `json:"is_paid"`
}

type StatusChangeDTO struct {
	Entity  string          `json:"entity"`
	ID      string          `json:"id"`
	Changed bool            `json:"changed"`
	IsPaid  bool            `json:"is_paid"`
	PaidAt  *string         `json:"paid_at"`
	Paid    decimal.Decimal `json:"paid"`
	Total   decimal.Decimal `json:"total"`
}

type SweepResultDTO struct {
	Invoices        int `json:"invoices"`
	InvoicesChanged int `json:"invoices_changed"`
	Sales           int `json:"sales"`
	SalesChanged    int `json:"sales_changed"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID          string          `json:"id"`
	SaleID      *string         `json:"sale_id"`
	InvoiceID   *string         `json:"invoice_id"`
	ClientID    string          `json:"client_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Method      string          `json:"method"`
	CheckNumber string          `json:"check_number,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	IsDeleted   bool            `json:"is_deleted"`
	DeletedAt   *string         `json:"deleted_at"`
	CreatedAt   string          `json:"created_at"`
}

type CreatePaymentRequest struct {
	SaleID      *string         `json:"sale_id"`
	InvoiceID   *string         `json:"invoice_id"`
	ClientID    string          `json:"client_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Method      string          `json:"method"`
	CheckNumber string          `json:"check_number"`
	Notes       string          `json:"notes"`
}

type UpdatePaymentRequest struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Date        *string          `json:"date,omitempty"`
	Method      *string          `json:"method,omitempty"`
	CheckNumber *string          `json:"check_number,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatStampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatStamp(*t)
	return &s
}

func idString[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toClientDTO(c ledger.Client) ClientDTO {
	return ClientDTO{
		ID:            string(c.ID),
		Name:          c.Name,
		Company:       c.Company,
		Email:         c.Email,
		Phone:         c.Phone,
		Address:       c.Address,
		Notes:         c.Notes,
		NIF:           c.NIF,
		NIS:           c.NIS,
		RC:            c.RC,
		AI:            c.AI,
		RIB:           c.RIB,
		CreditBalance: c.CreditBalance,
		CreatedAt:     formatStamp(c.CreatedAt),
	}
}

func toSaleDTO(s ledger.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleItemDTO{
			ID:          string(it.ID),
			Description: it.Description,
			ProductType: string(it.ProductType),
			CoilRef:     it.CoilRef,
			TopCoatRAL:  it.TopCoatRAL,
			BackCoatRAL: it.BackCoatRAL,
			Thickness:   it.Thickness,
			Width:       it.Width,
			Length:      it.Length,
			Weight:      it.Weight,
			Quantity:    it.Quantity,
			PricePerTon: it.PricePerTon,
			TotalAmount: it.TotalAmount,
		}
	}
	return SaleDTO{
		ID:                string(s.ID),
		ClientID:          string(s.ClientID),
		Date:              s.Date.Format(dateLayout),
		TotalAmount:       s.TotalAmount,
		TotalAmountTTC:    s.TotalAmountTTC,
		TaxRate:           s.TaxRate,
		Notes:             s.Notes,
		PaymentMethod:     s.PaymentMethod,
		TransportationFee: s.TransportationFee,
		IsInvoiced:        s.IsInvoiced,
		InvoiceID:         idString(s.InvoiceID),
		IsPaid:            s.IsPaid,
		PaidAt:            formatStampPtr(s.PaidAt),
		IsDeleted:         s.IsDeleted,
		DeletedAt:         formatStampPtr(s.DeletedAt),
		CreatedAt:         formatStamp(s.CreatedAt),
		Items:             items,
	}
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	sales := make([]string, len(inv.SaleIDs))
	for i, id := range inv.SaleIDs {
		sales[i] = string(id)
	}
	return InvoiceDTO{
		ID:             string(inv.ID),
		InvoiceNumber:  inv.InvoiceNumber,
		ClientID:       string(inv.ClientID),
		Date:           inv.Date.Format(dateLayout),
		DueDate:        inv.DueDate.Format(dateLayout),
		TotalAmountHT:  inv.TotalAmountHT,
		TotalAmountTTC: inv.TotalAmountTTC,
		IsPaid:         inv.IsPaid,
		PaidAt:         formatStampPtr(inv.PaidAt),
		IsDeleted:      inv.IsDeleted,
		DeletedAt:      formatStampPtr(inv.DeletedAt),
		CreatedAt:      formatStamp(inv.CreatedAt),
		SaleIDs:        sales,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          string(p.ID),
		SaleID:      idString(p.SaleID),
		InvoiceID:   idString(p.InvoiceID),
		ClientID:    string(p.ClientID),
		Amount:      p.Amount,
		Date:        p.Date.Format(dateLayout),
		Method:      string(p.Method),
		CheckNumber: p.CheckNumber,
		Notes:       p.Notes,
		IsDeleted:   p.IsDeleted,
		DeletedAt:   formatStampPtr(p.DeletedAt),
		CreatedAt:   formatStamp(p.CreatedAt),
	}
}

func toBalanceDTO(b billing.Balance) BalanceDTO {
	return BalanceDTO{
		InvoiceID: string(b.InvoiceID),
		TotalTTC:  b.TotalTTC,
		Paid:      b.Paid,
		Remaining: b.Remaining,
		IsPaid:    b.IsPaid,
	}
}

func toStatusChangeDTO(c billing.StatusChange) StatusChangeDTO {
	return StatusChangeDTO{
		Entity:  c.Entity,
		ID:      c.ID,
		Changed: c.Changed,
		IsPaid:  c.IsPaid,
		PaidAt:  formatStampPtr(c.PaidAt),
		Paid:    c.Paid,
		Total:   c.Total,
	}
}

func toAuditDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  formatStamp(e.Timestamp),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
	}
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
