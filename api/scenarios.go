/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic pawn-shop data so the forms and
	dashboard can be demoed. Each scenario creates items through the item
	factory and drives them through the engine exactly as the forms would.

AVAILABLE SCENARIOS:

	single-loan:      One necklace, one month of interest settled
	dealer-lot:       Three items re-pledged into one dealer lot, lot interest paid
	mixed-portfolio:  Items in every custody state, one past dealer stint

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create items via factory JSON
 3. Transfer, pay and release through the coordinator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "dealer-lot"}

NOTE:

	Scenarios reset the store. Only available when the server runs on the
	memory or sqlite backend.

SEE ALSO:
  - handlers.go: Handler, error mapping
  - factory/item.go: Item JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-loan",
		Name:        "Single Loan",
		Description: "One necklace pledged in January, February interest settled",
	},
	{
		ID:          "dealer-lot",
		Name:        "Dealer Lot",
		Description: "Three items re-pledged into one dealer lot with a lot interest payment",
	},
	{
		ID:          "mixed-portfolio",
		Name:        "Mixed Portfolio",
		Description: "Items in hand, with a dealer, returned from a dealer and released",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"single-loan":     (*Handler).loadSingleLoanScenario,
	"dealer-lot":      (*Handler).loadDealerLotScenario,
	"mixed-portfolio": (*Handler).loadMixedPortfolioScenario,
}

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.fail(w, r, "Unknown scenario", &pledge.FieldError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}
	if h.reset == nil {
		writeError(w, http.StatusConflict, "Scenarios are disabled for this store backend", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.InfoFields(ctx, "scenario loaded", map[string]any{"scenario": req.ScenarioID})

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetData clears the store.
// POST /api/scenarios/reset
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	if h.reset == nil {
		writeError(w, http.StatusConflict, "Reset is disabled for this store backend", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) createItems(ctx context.Context, doc string) error {
	inputs, err := h.Items.Parse([]byte(doc))
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if _, err := h.Engine.Registry.Create(ctx, in); err != nil {
			return fmt.Errorf("create %s: %w", in.ID, err)
		}
	}
	return nil
}

// requireClean fails when any batch line was rejected.
func requireClean(report girvi.BatchReport, err error) error {
	if err != nil {
		return err
	}
	if f := report.Failures(); len(f) > 0 {
		return fmt.Errorf("%s: item %s: %s", report.Operation, f[0].ItemID, f[0].Error)
	}
	return nil
}

func (h *Handler) loadSingleLoanScenario(ctx context.Context) error {
	err := h.createItems(ctx, `{
		"id": "G-1001", "customer_id": "cust-ravi", "agent_id": "agent-1",
		"category": "necklace", "purity": "22K", "weight_grams": "24.5",
		"principal": "50000", "annual_rate": "24", "compounding": "monthly",
		"acquired_on": "2024-01-15"
	}`)
	if err != nil {
		return err
	}

	// settle exactly what accrued in the first month
	return requireClean(h.Engine.Coordinator.BulkInterestPayment(ctx,
		[]pledge.ItemID{"G-1001"}, pledge.ZeroMoney(), pledge.NewDate(2024, 2, 15), "cash"))
}

func (h *Handler) loadDealerLotScenario(ctx context.Context) error {
	err := h.createItems(ctx, `[
		{"id": "G-2001", "customer_id": "cust-anita", "agent_id": "agent-1", "category": "bangle", "purity": "22K",
		 "principal": "40000", "acquired_on": "2024-01-05"},
		{"id": "G-2002", "customer_id": "cust-anita", "agent_id": "agent-1", "category": "chain", "purity": "18K",
		 "principal": "25000", "acquired_on": "2024-01-12"},
		{"id": "G-2003", "customer_id": "cust-vikram", "agent_id": "agent-2", "category": "ring", "purity": "22K",
		 "principal": "18000", "acquired_on": "2024-01-20"}
	]`)
	if err != nil {
		return err
	}

	err = requireClean(h.Engine.Coordinator.TransferLot(ctx, girvi.LotTransfer{
		DealerID: "dealer-mehta",
		Lot:      "L-2024-01",
		Rate:     decimal.NewFromInt(12),
		Date:     pledge.NewDate(2024, 2, 1),
		Items: []girvi.LotMember{
			{ItemID: "G-2001", Advance: pledge.NewMoneyFromInt(30000)},
			{ItemID: "G-2002", Advance: pledge.NewMoneyFromInt(20000)},
			{ItemID: "G-2003", Advance: pledge.NewMoneyFromInt(15000)},
		},
	}))
	if err != nil {
		return err
	}

	return requireClean(h.Engine.Coordinator.BulkDealerPayment(ctx, girvi.LotPayment{
		DealerID: "dealer-mehta",
		Lot:      "L-2024-01",
		Amount:   pledge.NewMoneyFromInt(500),
		Type:     girvi.AllocateInterest,
		Date:     pledge.NewDate(2024, 3, 1),
		Mode:     "neft",
	}))
}

func (h *Handler) loadMixedPortfolioScenario(ctx context.Context) error {
	err := h.createItems(ctx, `[
		{"id": "G-3001", "customer_id": "cust-farah", "agent_id": "agent-1", "category": "earrings",
		 "principal": "12000", "acquired_on": "2024-01-08"},
		{"id": "G-3002", "customer_id": "cust-farah", "agent_id": "agent-1", "category": "anklet",
		 "principal": "10000", "annual_rate": "18", "acquired_on": "2024-01-10"},
		{"id": "G-3003", "customer_id": "cust-joseph", "agent_id": "agent-2", "category": "necklace",
		 "principal": "30000", "compounding": "quarterly", "acquired_on": "2024-01-15"},
		{"id": "G-3004", "customer_id": "cust-joseph", "agent_id": "agent-2", "category": "coin",
		 "principal": "20000", "acquired_on": "2024-01-18"}
	]`)
	if err != nil {
		return err
	}
	co := h.Engine.Coordinator

	// G-3002 repaid and released
	if _, err := h.Engine.Customer.RecordPayment(ctx, girvi.CustomerPaymentInput{
		ItemID: "G-3002", Interest: pledge.ZeroMoney(), Principal: pledge.NewMoneyFromInt(10000),
		Date: pledge.NewDate(2024, 3, 10), Mode: "upi",
	}); err != nil {
		return err
	}
	if _, err := co.ReleaseSingle(ctx, "G-3002", pledge.NewDate(2024, 3, 10)); err != nil {
		return err
	}

	// G-3003 and G-3004 go to the same lot; G-3003 is redeemed from the dealer
	for _, t := range []girvi.TransferRequest{
		{ItemID: "G-3003", Advance: pledge.NewMoneyFromInt(22000)},
		{ItemID: "G-3004", Advance: pledge.NewMoneyFromInt(15000)},
	} {
		t.DealerID, t.Lot, t.Rate, t.Date = "dealer-shah", "L7", decimal.NewFromInt(10), pledge.NewDate(2024, 2, 1)
		if _, err := co.TransferSingle(ctx, t); err != nil {
			return err
		}
	}
	if _, err := h.Engine.Dealer.RecordPayment(ctx, girvi.DealerPaymentInput{
		ItemID: "G-3003", Interest: pledge.ZeroMoney(), Principal: pledge.NewMoneyFromInt(22000),
		Date: pledge.NewDate(2024, 3, 1), Mode: "neft",
	}); err != nil {
		return err
	}
	_, err = co.ReturnSingle(ctx, "G-3003", pledge.NewDate(2024, 3, 1))
	return err
}
