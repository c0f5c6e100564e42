/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts travel as
  decimal strings ("50000", "493.15") and dates as YYYY-MM-DD so clients
  never see float artefacts.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator/v10 tags (see factory/validate.go for the
  money, decimal and isodate tags). Business rules stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/item.go: ItemJSON, the create-item request body
*/
package api

import (
	"time"

	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// ITEMS
// =============================================================================

type ItemDTO struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customer_id"`
	AgentID     string         `json:"agent_id"`
	Category    string         `json:"category,omitempty"`
	Purity      string         `json:"purity,omitempty"`
	WeightGrams string         `json:"weight_grams,omitempty"`
	Description string         `json:"description,omitempty"`
	Principal   pledge.Money   `json:"principal"`
	AnnualRate  string         `json:"annual_rate"`
	Compounding string         `json:"compounding"`
	AcquiredOn  pledge.Date    `json:"acquired_on"`
	State       string         `json:"state"`
	Dealer      *DealerLinkDTO `json:"dealer,omitempty"`
	ReleasedOn  *pledge.Date   `json:"released_on,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
}

type DealerLinkDTO struct {
	DealerID      string       `json:"dealer_id"`
	Lot           string       `json:"lot"`
	Advance       pledge.Money `json:"advance"`
	Rate          string       `json:"rate"`
	TransferredOn pledge.Date  `json:"transferred_on"`
}

func toItemDTO(it pledge.JewelryItem) ItemDTO {
	dto := ItemDTO{
		ID:          string(it.ID),
		CustomerID:  string(it.CustomerID),
		AgentID:     string(it.AgentID),
		Category:    it.Category,
		Purity:      it.Purity,
		Description: it.Description,
		Principal:   it.Principal,
		AnnualRate:  it.AnnualRate.String(),
		Compounding: string(it.Compounding),
		AcquiredOn:  it.AcquiredOn,
		State:       string(it.State),
		ReleasedOn:  it.ReleasedOn,
	}
	if !it.WeightGrams.IsZero() {
		dto.WeightGrams = it.WeightGrams.String()
	}
	if it.Dealer != nil {
		dto.Dealer = &DealerLinkDTO{
			DealerID:      string(it.Dealer.DealerID),
			Lot:           string(it.Dealer.Lot),
			Advance:       it.Dealer.Advance,
			Rate:          it.Dealer.Rate.String(),
			TransferredOn: it.Dealer.TransferredOn,
		}
	}
	if !it.CreatedAt.IsZero() {
		dto.CreatedAt = it.CreatedAt.Format(time.RFC3339)
		dto.UpdatedAt = it.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toItemDTOs(items []pledge.JewelryItem) []ItemDTO {
	out := make([]ItemDTO, len(items))
	for i, it := range items {
		out[i] = toItemDTO(it)
	}
	return out
}

// =============================================================================
// LEDGERS
// =============================================================================

// StatementDTO is what a payment form pre-fills. Accrued is rounded to
// paise, the amount a payment may settle.
type StatementDTO struct {
	ItemID        string       `json:"item_id"`
	Ledger        string       `json:"ledger"`
	AsOf          pledge.Date  `json:"as_of"`
	Principal     pledge.Money `json:"principal"`
	Outstanding   pledge.Money `json:"outstanding"`
	Accrued       pledge.Money `json:"accrued"`
	PrincipalPaid pledge.Money `json:"principal_paid"`
	InterestPaid  pledge.Money `json:"interest_paid"`
	Basis         pledge.Date  `json:"basis"`
	LastPaymentOn *pledge.Date `json:"last_payment_on,omitempty"`
	Payments      int          `json:"payments"`
}

func toStatementDTO(ledger string, st pledge.Statement) StatementDTO {
	return StatementDTO{
		ItemID:        string(st.ItemID),
		Ledger:        ledger,
		AsOf:          st.AsOf,
		Principal:     st.Principal,
		Outstanding:   st.Outstanding,
		Accrued:       st.Accrued.RoundPaise(),
		PrincipalPaid: st.PrincipalPaid,
		InterestPaid:  st.InterestPaid,
		Basis:         st.Basis,
		LastPaymentOn: st.LastPaymentOn,
		Payments:      st.Payments,
	}
}

type PaymentDTO struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	ItemID    string       `json:"item_id"`
	DealerID  string       `json:"dealer_id,omitempty"`
	Lot       string       `json:"lot,omitempty"`
	Interest  pledge.Money `json:"interest"`
	Principal pledge.Money `json:"principal"`
	Date      pledge.Date  `json:"date"`
	Mode      string       `json:"mode,omitempty"`
}

func toPaymentDTO(p pledge.Payment) PaymentDTO {
	rec := p.Record()
	return PaymentDTO{
		ID:        string(rec.ID),
		Kind:      string(p.Kind()),
		ItemID:    string(rec.ItemID),
		DealerID:  string(rec.DealerID),
		Lot:       string(rec.Lot),
		Interest:  rec.Interest,
		Principal: rec.Principal,
		Date:      rec.Date,
		Mode:      string(rec.Mode),
	}
}

type PaymentRequest struct {
	Interest       string `json:"interest" validate:"required,money"`
	Principal      string `json:"principal" validate:"required,money"`
	Date           string `json:"date,omitempty" validate:"omitempty,isodate"`
	Mode           string `json:"mode,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type DealerPaymentRequest struct {
	PaymentRequest
	DealerID string `json:"dealer_id,omitempty"`
	Lot      string `json:"lot,omitempty"`
}

// =============================================================================
// CUSTODY
// =============================================================================

type TransferRequest struct {
	DealerID string `json:"dealer_id" validate:"required"`
	Lot      string `json:"lot" validate:"required"`
	Rate     string `json:"rate" validate:"required,decimal"`
	Advance  string `json:"advance" validate:"required,money"`
	Date     string `json:"date,omitempty" validate:"omitempty,isodate"`
}

// DateRequest is the body of return and release. An empty body means today.
type DateRequest struct {
	Date string `json:"date,omitempty" validate:"omitempty,isodate"`
}

// =============================================================================
// BATCHES
// =============================================================================

type BulkInterestRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required"`
	Amount  string   `json:"amount,omitempty" validate:"omitempty,money"`
	Date    string   `json:"date,omitempty" validate:"omitempty,isodate"`
	Mode    string   `json:"mode,omitempty"`
}

type BulkReleaseRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required"`
	Date    string   `json:"date,omitempty" validate:"omitempty,isodate"`
}

type LotMemberRequest struct {
	ItemID  string `json:"item_id" validate:"required"`
	Advance string `json:"advance" validate:"required,money"`
}

type BulkTransferRequest struct {
	DealerID string             `json:"dealer_id" validate:"required"`
	Lot      string             `json:"lot" validate:"required"`
	Rate     string             `json:"rate" validate:"required,decimal"`
	Date     string             `json:"date,omitempty" validate:"omitempty,isodate"`
	Items    []LotMemberRequest `json:"items" validate:"required,min=1,dive"`
}

// LotPaymentRequest is the body of lot payments and lot returns. Amount
// may be omitted on a return.
type LotPaymentRequest struct {
	Amount string `json:"amount,omitempty" validate:"omitempty,money"`
	Type   string `json:"type,omitempty" validate:"omitempty,oneof=interest principal split"`
	Date   string `json:"date,omitempty" validate:"omitempty,isodate"`
	Mode   string `json:"mode,omitempty"`
}

type ItemResultDTO struct {
	ItemID    string        `json:"item_id"`
	OK        bool          `json:"ok"`
	Kind      string        `json:"kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Interest  *pledge.Money `json:"interest,omitempty"`
	Principal *pledge.Money `json:"principal,omitempty"`
}

type BatchReportDTO struct {
	Operation string          `json:"operation"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []ItemResultDTO `json:"results"`
}

func toBatchReportDTO(r girvi.BatchReport) BatchReportDTO {
	dto := BatchReportDTO{
		Operation: r.Operation,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Results:   make([]ItemResultDTO, len(r.Results)),
	}
	for i, res := range r.Results {
		line := ItemResultDTO{
			ItemID: string(res.ItemID),
			OK:     res.OK,
			Kind:   string(res.Kind),
			Error:  res.Error,
		}
		if !res.Interest.IsZero() || !res.Principal.IsZero() {
			interest, principal := res.Interest, res.Principal
			line.Interest, line.Principal = &interest, &principal
		}
		dto.Results[i] = line
	}
	return dto
}

// =============================================================================
// DASHBOARD
// =============================================================================

type LotDTO struct {
	DealerID string       `json:"dealer_id"`
	Lot      string       `json:"lot"`
	Items    []string     `json:"items"`
	Advance  pledge.Money `json:"advance"`
}

func toLotDTO(l pledge.Lot) LotDTO {
	items := make([]string, len(l.Items))
	for i, id := range l.Items {
		items[i] = string(id)
	}
	return LotDTO{DealerID: string(l.DealerID), Lot: string(l.Number), Items: items, Advance: l.Advance}
}

type LedgerTotalsDTO struct {
	Outstanding pledge.Money `json:"outstanding"`
	Accrued     pledge.Money `json:"accrued"`
}

type SummaryDTO struct {
	AsOf     pledge.Date     `json:"as_of"`
	Items    int             `json:"items"`
	ByState  map[string]int  `json:"by_state"`
	OpenLots int             `json:"open_lots"`
	Customer LedgerTotalsDTO `json:"customer"`
	Dealer   LedgerTotalsDTO `json:"dealer"`
}

func toSummaryDTO(s girvi.Summary) SummaryDTO {
	byState := make(map[string]int, len(s.ByState))
	for state, n := range s.ByState {
		byState[string(state)] = n
	}
	return SummaryDTO{
		AsOf:     s.AsOf,
		Items:    s.Items,
		ByState:  byState,
		OpenLots: s.OpenLots,
		Customer: LedgerTotalsDTO{Outstanding: s.Customer.Outstanding, Accrued: s.Customer.Accrued},
		Dealer:   LedgerTotalsDTO{Outstanding: s.Dealer.Outstanding, Accrued: s.Dealer.Accrued},
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}
