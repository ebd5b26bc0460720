/*
handlers.go - HTTP API handlers for the invoice engine

PURPOSE:
  Exposes billing.Service via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the service.

ENDPOINTS:
  Clients:
    GET    /api/clients                 List clients
    POST   /api/clients                 Create client
    GET    /api/clients/{id}            Get client

  Sales:
    GET    /api/sales                   List (?client_id, ?include_deleted)
    POST   /api/sales                   Create sale with items
    GET    /api/sales/{id}              Get sale
    PUT    /api/sales/{id}              Replace sale fields and items
    DELETE /api/sales/{id}              Soft-delete with cascade (409 behind a paid invoice)
    POST   /api/sales/{id}/restore      Undo a delete

  Invoices:
    GET    /api/invoices                List (?client_id, ?is_paid, ?from, ?to, ?include_deleted)
    POST   /api/invoices                Create invoice over sales
    GET    /api/invoices/{id}           Get invoice with member sale ids
    PATCH  /api/invoices/{id}           Edit number, dates or totals
    DELETE /api/invoices/{id}           Hard delete a draft, soft delete otherwise
    POST   /api/invoices/{id}/restore   Undo a soft delete
    GET    /api/invoices/{id}/balance   Total, paid, remaining
    POST   /api/invoices/{id}/reconcile Recompute paid status

  Payments:
    GET    /api/payments                List (?sale_id, ?invoice_id, ?include_deleted)
    POST   /api/payments                Record payment
    GET    /api/payments/{id}           Get payment
    PATCH  /api/payments/{id}           Edit amount, date, method, check number, notes
    DELETE /api/payments/{id}           Soft-delete
    POST   /api/payments/{id}/restore   Undo a delete

  Admin:
    POST   /api/admin/reconcile         Sweep every invoice and sale
    GET    /api/audit                   Audit trail (?entity_type, ?entity_id, ?limit)

  Scenarios (outside production only, see scenarios.go):
    GET    /api/scenarios               List demo scenarios
    GET    /api/scenarios/current       Currently loaded scenario
    POST   /api/scenarios/load          Reset, then load a scenario
    POST   /api/scenarios/reset         Reset the ledger

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found (or soft-deleted where a live row is needed)
  - 409: Conflict (paid invoice guard, duplicate number, restore refused)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo data loaders
  - billing/service.go: The operations behind every endpoint
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *billing.Service
	log     *zap.Logger

	mu              sync.Mutex // guards currentScenario and serializes loads
	currentScenario string
}

// NewHandler creates a new handler. A nil logger is replaced by a no-op one.
func NewHandler(svc *billing.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, log: log}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Service.ListClients(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(clients, toClientDTO))
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateClient(r.Context(), billing.ClientInput{
		Name:    req.Name,
		Company: req.Company,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Notes:   req.Notes,
		NIF:     req.NIF,
		NIS:     req.NIS,
		RC:      req.RC,
		AI:      req.AI,
		RIB:     req.RIB,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetClient(r.Context(), ledger.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.SaleFilter{}
	if v := q.Get("client_id"); v != "" {
		id := ledger.ClientID(v)
		f.ClientID = &id
	}
	var err error
	if f.IncludeDeleted, err = queryBool(q.Get("include_deleted"), "include_deleted"); err != nil {
		h.fail(w, r, err)
		return
	}

	sales, err := h.Service.ListSales(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(sales, toSaleDTO))
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Service.CreateSale(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(s))
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.GetSale(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(s))
}

func (h *Handler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Service.UpdateSale(r.Context(), ledger.SaleID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(s))
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteSale(r.Context(), ledger.SaleID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreSale(w http.ResponseWriter, r *http.Request) {
	id := ledger.SaleID(chi.URLParam(r, "id"))
	if err := h.Service.RestoreSale(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Service.GetSale(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(s))
}

func (req SaleRequest) input() (billing.SaleInput, error) {
	date, err := parseDate(req.Date, "date")
	if err != nil {
		return billing.SaleInput{}, err
	}
	items := make([]ledger.SaleItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = ledger.SaleItem{
			Description: it.Description,
			ProductType: ledger.ProductType(it.ProductType),
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
	return billing.SaleInput{
		ClientID:          ledger.ClientID(req.ClientID),
		Date:              date,
		TotalAmount:       req.TotalAmount,
		TotalAmountTTC:    req.TotalAmountTTC,
		TaxRate:           req.TaxRate,
		Notes:             req.Notes,
		PaymentMethod:     req.PaymentMethod,
		TransportationFee: req.TransportationFee,
		Items:             items,
	}, nil
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f, err := invoiceFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	invoices, err := h.Service.ListInvoices(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(invoices, toInvoiceDTO))
}

func invoiceFilter(r *http.Request) (ledger.InvoiceFilter, error) {
	q := r.URL.Query()
	var (
		f   ledger.InvoiceFilter
		err error
	)
	if v := q.Get("client_id"); v != "" {
		id := ledger.ClientID(v)
		f.ClientID = &id
	}
	if v := q.Get("is_paid"); v != "" {
		paid, err := queryBool(v, "is_paid")
		if err != nil {
			return f, err
		}
		f.IsPaid = &paid
	}
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(bound.key); v != "" {
			t, err := parseDate(v, bound.key)
			if err != nil {
				return f, err
			}
			*bound.dst = &t
		}
	}
	if f.IncludeDeleted, err = queryBool(q.Get("include_deleted"), "include_deleted"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	due, err := parseDate(req.DueDate, "due_date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sales := make([]ledger.SaleID, len(req.SaleIDs))
	for i, id := range req.SaleIDs {
		sales[i] = ledger.SaleID(id)
	}

	inv, err := h.Service.CreateInvoice(r.Context(), billing.InvoiceInput{
		InvoiceNumber:  req.InvoiceNumber,
		ClientID:       ledger.ClientID(req.ClientID),
		Date:           date,
		DueDate:        due,
		TotalAmountHT:  req.TotalAmountHT,
		TotalAmountTTC: req.TotalAmountTTC,
		SaleIDs:        sales,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Service.GetInvoice(r.Context(), ledger.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req UpdateInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	var p ledger.InvoicePatch
	if req.InvoiceNumber != nil {
		p.InvoiceNumber = ledger.Set(*req.InvoiceNumber)
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date, "date")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p.Date = ledger.Set(d)
	}
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate, "due_date")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p.DueDate = ledger.Set(d)
	}
	if req.TotalAmountHT != nil {
		p.TotalAmountHT = ledger.Set(*req.TotalAmountHT)
	}
	if req.TotalAmountTTC != nil {
		p.TotalAmountTTC = ledger.Set(*req.TotalAmountTTC)
	}

	inv, err := h.Service.UpdateInvoice(r.Context(), ledger.InvoiceID(chi.URLParam(r, "id")), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mode, err := h.Service.DeleteInvoice(r.Context(), ledger.InvoiceID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteInvoiceResponse{ID: id, Mode: mode.String()})
}

func (h *Handler) RestoreInvoice(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))
	if err := h.Service.RestoreInvoice(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.Service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) GetInvoiceBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.InvoiceBalance(r.Context(), ledger.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

func (h *Handler) ReconcileInvoice(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.ReconcileInvoice(r.Context(), ledger.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusChangeDTO(c))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.PaymentFilter
	if v := q.Get("sale_id"); v != "" {
		f.SaleID = ledger.SaleIDPtr(ledger.SaleID(v))
	}
	if v := q.Get("invoice_id"); v != "" {
		f.InvoiceID = ledger.InvoiceIDPtr(ledger.InvoiceID(v))
	}
	var err error
	if f.IncludeDeleted, err = queryBool(q.Get("include_deleted"), "include_deleted"); err != nil {
		h.fail(w, r, err)
		return
	}

	payments, err := h.Service.ListPayments(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(payments, toPaymentDTO))
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := billing.PaymentInput{
		ClientID:    ledger.ClientID(req.ClientID),
		Amount:      req.Amount,
		Date:        date,
		Method:      ledger.PaymentMethod(req.Method),
		CheckNumber: req.CheckNumber,
		Notes:       req.Notes,
	}
	if req.SaleID != nil && *req.SaleID != "" {
		in.SaleID = ledger.SaleIDPtr(ledger.SaleID(*req.SaleID))
	}
	if req.InvoiceID != nil && *req.InvoiceID != "" {
		in.InvoiceID = ledger.InvoiceIDPtr(ledger.InvoiceID(*req.InvoiceID))
	}

	p, err := h.Service.CreatePayment(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	var p ledger.PaymentPatch
	if req.Amount != nil {
		p.Amount = ledger.Set(*req.Amount)
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date, "date")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p.Date = ledger.Set(d)
	}
	if req.Method != nil {
		p.Method = ledger.Set(ledger.PaymentMethod(*req.Method))
	}
	if req.CheckNumber != nil {
		p.CheckNumber = ledger.Set(*req.CheckNumber)
	}
	if req.Notes != nil {
		p.Notes = ledger.Set(*req.Notes)
	}

	pay, err := h.Service.UpdatePayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(pay))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeletePayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestorePayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	if err := h.Service.RestorePayment(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Service.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ReconcileAll runs the drift sweep on demand.
// POST /api/admin/reconcile
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ReconcileAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{
		Invoices:        res.Invoices,
		InvoicesChanged: res.InvoicesChanged,
		Sales:           res.Sales,
		SalesChanged:    res.SalesChanged,
	})
}

// ListAudit returns the audit trail, newest first.
// GET /api/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, r, ledger.Invalid("limit", "must be a positive integer"))
			return
		}
		f.Limit = n
	}

	entries, err := h.Service.ListAudit(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditDTO))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusOf maps the ledger error taxonomy to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal details of 5xx errors are
// logged, not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal error", nil)
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var ve *ledger.ValidationError
	var ce *ledger.ConflictError
	var ne *ledger.NotFoundError
	switch {
	case errors.As(err, &ve):
		resp.Details = map[string]string{"field": ve.Field, "reason": ve.Reason}
	case errors.As(err, &ce):
		resp.Details = map[string]string{"entity": ce.Entity, "id": ce.ID, "reason": ce.Reason}
	case errors.As(err, &ne):
		resp.Details = map[string]string{"entity": ne.Entity, "id": ne.ID}
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseDate accepts YYYY-MM-DD or RFC3339. Empty input yields the zero time,
// which the service replaces with its defaults.
func parseDate(s, field string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ledger.Invalid(field, "use YYYY-MM-DD or RFC3339")
	}
	return t.UTC(), nil
}

func queryBool(v, field string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, ledger.Invalid(field, "must be true or false")
	}
	return b, nil
}
