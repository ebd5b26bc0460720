/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for testing and demos. Each scenario creates clients, sales,
	invoices and payments through billing.Service, so every row is
	reconciled exactly as it would be in production.

AVAILABLE SCENARIOS:

	partial-payments: Invoice over two sales with one partial transfer
	paid-invoice:     Invoice settled by a check on its sale; the sale is guarded
	cascade-restore:  Deleted sale whose payments went with it, ready to restore
	mixed-products:   One sale per product type, showing item totals

HOW SCENARIOS WORK:
 1. Reset the ledger (clear all data)
 2. Create clients
 3. Create sales with line items
 4. Bill sales on invoices
 5. Record payments, optionally delete rows

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payments"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, svc)
 3. Add it to the 'loaders' map

NOTE:

	Scenarios reset the ledger. Routes are only mounted outside production.

SEE ALSO:
  - handlers.go: Handler
  - billing/service.go: Reset and every operation used here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Invoice over two sales, one bank transfer covering part of it",
		Category:    "payments",
	},
	{
		ID:          "paid-invoice",
		Name:        "Paid Invoice",
		Description: "Check on the sale settles the invoice; deleting the sale is refused",
		Category:    "payments",
	},
	{
		ID:          "cascade-restore",
		Name:        "Cascade and Restore",
		Description: "A deleted sale took its payments with it and left its invoice",
		Category:    "deletion",
	},
	{
		ID:          "mixed-products",
		Name:        "Mixed Products",
		Description: "Coil, corrugated sheet and steel slitting items on one sale",
		Category:    "sales",
	},
}

type scenarioLoader func(ctx context.Context, svc *billing.Service) error

var loaders = map[string]scenarioLoader{
	"partial-payments": loadPartialPaymentsScenario,
	"paid-invoice":     loadPaidInvoiceScenario,
	"cascade-restore":  loadCascadeRestoreScenario,
	"mixed-products":   loadMixedProductsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the ledger and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Service.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := load(ctx, h.Service); err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetLedger clears every row without loading anything.
func (h *Handler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Service.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var (
	demoDay = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	demoTax = decimal.NewFromInt(19)
)

func loadPartialPaymentsScenario(ctx context.Context, svc *billing.Service) error {
	client, err := svc.CreateClient(ctx, billing.ClientInput{
		Name:    "Sider Nord",
		Company: "Sider Nord SARL",
		NIF:     "000216001234567",
	})
	if err != nil {
		return err
	}

	// 2.5 t and 1.8 t of prepainted coil
	first, err := demoSale(ctx, svc, client.ID, demoDay, coilItem("RAL 9002 coil", "2.5", "180000"))
	if err != nil {
		return err
	}
	second, err := demoSale(ctx, svc, client.ID, demoDay.AddDate(0, 0, 2), coilItem("RAL 5010 coil", "1.8", "185000"))
	if err != nil {
		return err
	}

	inv, err := demoInvoice(ctx, svc, "FAC-2025-0001", client.ID, first, second)
	if err != nil {
		return err
	}

	_, err = svc.CreatePayment(ctx, billing.PaymentInput{
		InvoiceID: ledger.InvoiceIDPtr(inv.ID),
		Amount:    decimal.NewFromInt(500000),
		Date:      demoDay.AddDate(0, 0, 10),
		Method:    ledger.MethodBankTransfer,
		Notes:     "first instalment",
	})
	return err
}

func loadPaidInvoiceScenario(ctx context.Context, svc *billing.Service) error {
	client, err := svc.CreateClient(ctx, billing.ClientInput{Name: "Tolerie Est", Company: "Tolerie Est EURL"})
	if err != nil {
		return err
	}
	sale, err := demoSale(ctx, svc, client.ID, demoDay, sheetItem("TN40 sheets", "40", "6", "950"))
	if err != nil {
		return err
	}
	if _, err := demoInvoice(ctx, svc, "FAC-2025-0002", client.ID, sale); err != nil {
		return err
	}

	// Paid against the sale; the invoice is settled through it.
	_, err = svc.CreatePayment(ctx, billing.PaymentInput{
		SaleID:      ledger.SaleIDPtr(sale.ID),
		Amount:      sale.TotalAmountTTC,
		Date:        demoDay.AddDate(0, 0, 5),
		Method:      ledger.MethodCheck,
		CheckNumber: "0048812",
	})
	return err
}

func loadCascadeRestoreScenario(ctx context.Context, svc *billing.Service) error {
	client, err := svc.CreateClient(ctx, billing.ClientInput{Name: "Hangar Sud"})
	if err != nil {
		return err
	}
	kept, err := demoSale(ctx, svc, client.ID, demoDay, slittingItem("slit strip 200mm", "1.2", "3", "210000"))
	if err != nil {
		return err
	}
	dropped, err := demoSale(ctx, svc, client.ID, demoDay.AddDate(0, 0, 1), coilItem("galvanized coil", "3", "160000"))
	if err != nil {
		return err
	}
	if _, err := demoInvoice(ctx, svc, "FAC-2025-0003", client.ID, kept, dropped); err != nil {
		return err
	}

	for _, amount := range []int64{100000, 50000} {
		if _, err := svc.CreatePayment(ctx, billing.PaymentInput{
			SaleID: ledger.SaleIDPtr(dropped.ID),
			Amount: decimal.NewFromInt(amount),
			Date:   demoDay.AddDate(0, 0, 3),
			Method: ledger.MethodCash,
		}); err != nil {
			return err
		}
	}

	// The invoice is unpaid, so the guard lets the sale go.
	return svc.DeleteSale(ctx, dropped.ID)
}

func loadMixedProductsScenario(ctx context.Context, svc *billing.Service) error {
	client, err := svc.CreateClient(ctx, billing.ClientInput{Name: "Atelier Centre", Email: "achats@atelier-centre.dz"})
	if err != nil {
		return err
	}
	_, err = demoSale(ctx, svc, client.ID, demoDay,
		coilItem("prepainted coil 0.5mm", "2.345", "175000"),
		sheetItem("corrugated sheet TN40", "10", "6", "3.3"),
		slittingItem("slit strip 120mm", "0.8", "4", "200000"),
	)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// demoSale creates a sale whose totals are the item totals plus 19% tax.
func demoSale(ctx context.Context, svc *billing.Service, client ledger.ClientID, date time.Time, items ...ledger.SaleItem) (ledger.Sale, error) {
	ht := decimal.Zero
	for _, it := range items {
		ht = ht.Add(ledger.ComputeItemTotal(it))
	}
	ttc := ht.Add(ht.Mul(demoTax).Div(decimal.NewFromInt(100))).Round(2)

	return svc.CreateSale(ctx, billing.SaleInput{
		ClientID:       client,
		Date:           date,
		TotalAmount:    ht,
		TotalAmountTTC: ttc,
		TaxRate:        demoTax,
		PaymentMethod:  string(ledger.MethodBankTransfer),
		Items:          items,
	})
}

// demoInvoice bills sales at the sum of their totals, due in 30 days.
func demoInvoice(ctx context.Context, svc *billing.Service, number string, client ledger.ClientID, sales ...ledger.Sale) (ledger.Invoice, error) {
	in := billing.InvoiceInput{
		InvoiceNumber:  number,
		ClientID:       client,
		Date:           demoDay.AddDate(0, 0, 7),
		DueDate:        demoDay.AddDate(0, 0, 37),
		TotalAmountHT:  decimal.Zero,
		TotalAmountTTC: decimal.Zero,
	}
	for _, s := range sales {
		in.TotalAmountHT = in.TotalAmountHT.Add(s.TotalAmount)
		in.TotalAmountTTC = in.TotalAmountTTC.Add(s.TotalAmountTTC)
		in.SaleIDs = append(in.SaleIDs, s.ID)
	}
	return svc.CreateInvoice(ctx, in)
}

func coilItem(desc, weight, pricePerTon string) ledger.SaleItem {
	return ledger.SaleItem{
		Description: desc,
		ProductType: ledger.ProductCoil,
		CoilRef:     "BOB-" + weight,
		TopCoatRAL:  "9002",
		Thickness:   ledger.NullDecimalOf("0.5"),
		Width:       ledger.NullDecimalOf("1250"),
		Weight:      ledger.NullDecimalOf(weight),
		PricePerTon: ledger.MustParseDecimal(pricePerTon),
	}
}

func sheetItem(desc, qty, length, price string) ledger.SaleItem {
	return ledger.SaleItem{
		Description: desc,
		ProductType: ledger.ProductCorrugatedSheet,
		Thickness:   ledger.NullDecimalOf("0.4"),
		Length:      ledger.NullDecimalOf(length),
		Quantity:    ledger.MustParseDecimal(qty),
		PricePerTon: ledger.MustParseDecimal(price),
	}
}

func slittingItem(desc, weight, qty, pricePerTon string) ledger.SaleItem {
	return ledger.SaleItem{
		Description: desc,
		ProductType: ledger.ProductSteelSlitting,
		Weight:      ledger.NullDecimalOf(weight),
		Quantity:    ledger.MustParseDecimal(qty),
		PricePerTon: ledger.MustParseDecimal(pricePerTon),
	}
}
