/*
handlers.go - HTTP API handlers for the girvi engine

PURPOSE:
  Exposes the engine to the forms and dashboard layer. Handlers parse and
  validate the request, call one engine operation and serialize the
  result. No business rule lives here.

ENDPOINTS:
  Items:
    POST   /api/items                     Create one item or an array of items
    GET    /api/items?state=&customer_id= List items
    GET    /api/items/{id}                Get item
    DELETE /api/items/{id}                Delete an item without history
    GET    /api/items/{id}/payments       Both ledgers, chronological
    GET    /api/items/{id}/closures       Past dealer stints

  Ledgers:
    GET    /api/items/{id}/customer?as_of=          Customer statement
    POST   /api/items/{id}/customer/payments        Record customer payment
    GET    /api/items/{id}/dealer?as_of=            Dealer statement
    POST   /api/items/{id}/dealer/payments          Record dealer payment

  Custody:
    POST   /api/items/{id}/transfer       InHand -> WithDealer
    POST   /api/items/{id}/return         WithDealer -> InHand
    POST   /api/items/{id}/release        InHand -> Released

  Batches (200 with a report, partial success is normal):
    POST   /api/bulk/interest
    POST   /api/bulk/release
    POST   /api/bulk/transfer
    POST   /api/lots/{dealer}/{lot}/payments
    POST   /api/lots/{dealer}/{lot}/return

  Dashboard:
    GET    /api/lots
    GET    /api/summary?as_of=

ERROR HANDLING:
  Errors are returned as {error, kind, details} with:
  - 400: InvalidInput, InvalidAmount, InvalidDate, malformed JSON
  - 404: unknown item or lot
  - 409: InvalidState, OutstandingBalance, ReferencedEntity, Duplicate
  - 422: ExceedsAccrued, ExceedsOutstanding
  - 503: LockTimeout
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/factory"
	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/logging"
	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes a store. Demo scenarios need it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *girvi.Engine
	Items  *factory.ItemFactory

	validate *factory.Validator
	log      *logging.Logger
	metrics  http.Handler
	reset    Resetter

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(m http.Handler) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithResetter enables demo scenario loading.
func WithResetter(r Resetter) HandlerOption {
	return func(h *Handler) { h.reset = r }
}

func NewHandler(eng *girvi.Engine, items *factory.ItemFactory, opts ...HandlerOption) *Handler {
	h := &Handler{
		Engine:   eng,
		Items:    items,
		validate: factory.NewValidator(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// CreateItem accepts a single item or an array. Arrays stop at the first
// rejected item; the error details carry how many were created.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	inputs, err := h.Items.Parse(body)
	if err != nil {
		h.fail(w, r, "Invalid item definition", err)
		return
	}

	created := make([]pledge.JewelryItem, 0, len(inputs))
	for _, in := range inputs {
		item, err := h.Engine.Registry.Create(r.Context(), in)
		if err != nil {
			if len(inputs) > 1 {
				err = fmt.Errorf("created %d of %d items: %w", len(created), len(inputs), err)
			}
			h.fail(w, r, "Failed to create item", err)
			return
		}
		created = append(created, item)
	}

	if len(created) == 1 && body[firstNonSpace(body)] != '[' {
		writeJSON(w, http.StatusCreated, toItemDTO(created[0]))
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTOs(created))
}

// ListItems returns items, optionally filtered.
// GET /api/items?state=in_hand&customer_id=c1&dealer_id=d1&lot=L1
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pledge.ItemFilter{
		State:      pledge.CustodyState(q.Get("state")),
		CustomerID: pledge.CustomerID(q.Get("customer_id")),
		DealerID:   pledge.DealerID(q.Get("dealer_id")),
		Lot:        pledge.LotNumber(q.Get("lot")),
	}
	if filter.State != "" && !filter.State.IsValid() {
		h.fail(w, r, "Invalid state filter", &pledge.FieldError{Field: "state", Reason: fmt.Sprintf("unknown state %q", filter.State)})
		return
	}

	items, err := h.Engine.Registry.AllItems(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

// GetItem returns a single item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.Registry.Get(r.Context(), itemID(r))
	if err != nil {
		h.fail(w, r, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// DeleteItem removes an item that never moved money or custody.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Registry.Delete(r.Context(), itemID(r)); err != nil {
		h.fail(w, r, "Failed to delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPayments returns both ledgers' payments of an item.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Engine.PaymentsFor(r.Context(), itemID(r))
	if err != nil {
		h.fail(w, r, "Failed to get payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClosures returns the audit trail of past dealer stints.
func (h *Handler) GetClosures(w http.ResponseWriter, r *http.Request) {
	closures, err := h.Engine.Registry.Closures(r.Context(), itemID(r))
	if err != nil {
		h.fail(w, r, "Failed to get closures", err)
		return
	}
	type closureDTO struct {
		DealerLinkDTO
		ReturnedOn pledge.Date `json:"returned_on"`
	}
	dtos := make([]closureDTO, len(closures))
	for i, c := range closures {
		dtos[i] = closureDTO{
			DealerLinkDTO: DealerLinkDTO{
				DealerID:      string(c.Link.DealerID),
				Lot:           string(c.Link.Lot),
				Advance:       c.Link.Advance,
				Rate:          c.Link.Rate.String(),
				TransferredOn: c.Link.TransferredOn,
			},
			ReturnedOn: c.ReturnedOn,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetCustomerStatement returns what the customer owes as of a date.
// GET /api/items/{id}/customer?as_of=2024-03-01
func (h *Handler) GetCustomerStatement(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, "Invalid as_of", err)
		return
	}
	st, err := h.Engine.Customer.Statement(r.Context(), itemID(r), asOf)
	if err != nil {
		h.fail(w, r, "Failed to get customer statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO("customer", st))
}

// RecordCustomerPayment records interest and/or principal paid by the customer.
// POST /api/items/{id}/customer/payments
func (h *Handler) RecordCustomerPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	interest, principal, date, err := parsePayment(req)
	if err != nil {
		h.fail(w, r, "Invalid payment", err)
		return
	}

	p, err := h.Engine.Customer.RecordPayment(r.Context(), girvi.CustomerPaymentInput{
		ItemID:         itemID(r),
		Interest:       interest,
		Principal:      principal,
		Date:           date,
		Mode:           pledge.PaymentMode(req.Mode),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, r, "Failed to record customer payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetDealerStatement returns what the shop owes the dealer for the item.
// GET /api/items/{id}/dealer?as_of=&dealer_id=&lot=
func (h *Handler) GetDealerStatement(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, "Invalid as_of", err)
		return
	}
	key := girvi.DealerKey{
		ItemID:   itemID(r),
		DealerID: pledge.DealerID(r.URL.Query().Get("dealer_id")),
		Lot:      pledge.LotNumber(r.URL.Query().Get("lot")),
	}
	st, err := h.Engine.Dealer.Statement(r.Context(), key, asOf)
	if err != nil {
		h.fail(w, r, "Failed to get dealer statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO("dealer", st))
}

// RecordDealerPayment records interest and/or principal paid to the dealer.
// POST /api/items/{id}/dealer/payments
func (h *Handler) RecordDealerPayment(w http.ResponseWriter, r *http.Request) {
	var req DealerPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	interest, principal, date, err := parsePayment(req.PaymentRequest)
	if err != nil {
		h.fail(w, r, "Invalid payment", err)
		return
	}

	p, err := h.Engine.Dealer.RecordPayment(r.Context(), girvi.DealerPaymentInput{
		ItemID:         itemID(r),
		DealerID:       pledge.DealerID(req.DealerID),
		Lot:            pledge.LotNumber(req.Lot),
		Interest:       interest,
		Principal:      principal,
		Date:           date,
		Mode:           pledge.PaymentMode(req.Mode),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, r, "Failed to record dealer payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// =============================================================================
// CUSTODY HANDLERS
// =============================================================================

// TransferItem re-pledges an item into a dealer lot.
// POST /api/items/{id}/transfer
func (h *Handler) TransferItem(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	advance, err := pledge.ParseMoney(req.Advance)
	if err != nil {
		h.fail(w, r, "Invalid advance", err)
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return
	}

	item, err := h.Engine.Coordinator.TransferSingle(r.Context(), girvi.TransferRequest{
		ItemID:   itemID(r),
		DealerID: pledge.DealerID(req.DealerID),
		Lot:      pledge.LotNumber(req.Lot),
		Rate:     decimal.RequireFromString(req.Rate),
		Advance:  advance,
		Date:     date,
	})
	if err != nil {
		h.fail(w, r, "Failed to transfer item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// ReturnItem brings an item back from its dealer.
// POST /api/items/{id}/return
func (h *Handler) ReturnItem(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	item, err := h.Engine.Coordinator.ReturnSingle(r.Context(), itemID(r), date)
	if err != nil {
		h.fail(w, r, "Failed to return item from dealer", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// ReleaseItem hands an item back to its customer.
// POST /api/items/{id}/release
func (h *Handler) ReleaseItem(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	item, err := h.Engine.Coordinator.ReleaseSingle(r.Context(), itemID(r), date)
	if err != nil {
		h.fail(w, r, "Failed to release item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// BulkInterest records one interest amount on many items. An omitted or
// zero amount pays each item's full accrued interest.
// POST /api/bulk/interest
func (h *Handler) BulkInterest(w http.ResponseWriter, r *http.Request) {
	var req BulkInterestRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount := pledge.ZeroMoney()
	if req.Amount != "" {
		amount = pledge.MustParseMoney(req.Amount)
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return
	}

	report, err := h.Engine.Coordinator.BulkInterestPayment(r.Context(), itemIDs(req.ItemIDs), amount, date, pledge.PaymentMode(req.Mode))
	h.writeReport(w, r, report, err)
}

// BulkRelease releases many items to their customers.
// POST /api/bulk/release
func (h *Handler) BulkRelease(w http.ResponseWriter, r *http.Request) {
	var req BulkReleaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return
	}

	report, err := h.Engine.Coordinator.BulkRelease(r.Context(), itemIDs(req.ItemIDs), date)
	h.writeReport(w, r, report, err)
}

// BulkTransfer moves many items into one dealer lot.
// POST /api/bulk/transfer
func (h *Handler) BulkTransfer(w http.ResponseWriter, r *http.Request) {
	var req BulkTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return
	}
	members := make([]girvi.LotMember, len(req.Items))
	for i, m := range req.Items {
		members[i] = girvi.LotMember{ItemID: pledge.ItemID(m.ItemID), Advance: pledge.MustParseMoney(m.Advance)}
	}

	report, err := h.Engine.Coordinator.TransferLot(r.Context(), girvi.LotTransfer{
		DealerID: pledge.DealerID(req.DealerID),
		Lot:      pledge.LotNumber(req.Lot),
		Rate:     decimal.RequireFromString(req.Rate),
		Date:     date,
		Items:    members,
	})
	h.writeReport(w, r, report, err)
}

// LotPayment spreads one payment over a dealer lot.
// POST /api/lots/{dealer}/{lot}/payments
func (h *Handler) LotPayment(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeLotPayment(w, r)
	if !ok {
		return
	}
	report, err := h.Engine.Coordinator.BulkDealerPayment(r.Context(), in)
	h.writeReport(w, r, report, err)
}

// LotReturn pays the optional amount and returns every settled member.
// POST /api/lots/{dealer}/{lot}/return
func (h *Handler) LotReturn(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeLotPayment(w, r)
	if !ok {
		return
	}
	report, err := h.Engine.Coordinator.BulkDealerReturn(r.Context(), in)
	h.writeReport(w, r, report, err)
}

func (h *Handler) decodeLotPayment(w http.ResponseWriter, r *http.Request) (girvi.LotPayment, bool) {
	var req LotPaymentRequest
	if !h.decodeOptional(w, r, &req) {
		return girvi.LotPayment{}, false
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return girvi.LotPayment{}, false
	}
	amount := pledge.ZeroMoney()
	if req.Amount != "" {
		amount = pledge.MustParseMoney(req.Amount)
	}
	return girvi.LotPayment{
		DealerID: pledge.DealerID(chi.URLParam(r, "dealer")),
		Lot:      pledge.LotNumber(chi.URLParam(r, "lot")),
		Amount:   amount,
		Type:     girvi.AllocationType(req.Type),
		Date:     date,
		Mode:     pledge.PaymentMode(req.Mode),
	}, true
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, report girvi.BatchReport, err error) {
	if err != nil {
		h.fail(w, r, "Batch rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchReportDTO(report))
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// ListLots returns every open dealer lot.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.Engine.Registry.Lots(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list lots", err)
		return
	}
	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns counts and both ledgers' totals.
// GET /api/summary?as_of=2024-03-01
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, "Invalid as_of", err)
		return
	}
	s, err := h.Engine.Summary(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// decode reads a required JSON body and validates it. On failure the
// response is written and false returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.fail(w, r, "Validation failed", err)
		return false
	}
	return true
}

// decodeOptional is decode for bodies that may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.fail(w, r, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) decodeDate(w http.ResponseWriter, r *http.Request) (pledge.Date, bool) {
	var req DateRequest
	if !h.decodeOptional(w, r, &req) {
		return pledge.Date{}, false
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", err)
		return pledge.Date{}, false
	}
	return date, true
}

func parsePayment(req PaymentRequest) (interest, principal pledge.Money, date pledge.Date, err error) {
	if interest, err = pledge.ParseMoney(req.Interest); err != nil {
		return
	}
	if principal, err = pledge.ParseMoney(req.Principal); err != nil {
		return
	}
	date, err = optionalDate(req.Date)
	return
}

// optionalDate parses s; empty means the engine's today.
func optionalDate(s string) (pledge.Date, error) {
	if s == "" {
		return pledge.Date{}, nil
	}
	return pledge.ParseDate(s)
}

func queryDate(r *http.Request, key string) (pledge.Date, error) {
	return optionalDate(r.URL.Query().Get(key))
}

func itemID(r *http.Request) pledge.ItemID {
	return pledge.ItemID(chi.URLParam(r, "id"))
}

func itemIDs(ids []string) []pledge.ItemID {
	out := make([]pledge.ItemID, len(ids))
	for i, id := range ids {
		out[i] = pledge.ItemID(id)
	}
	return out
}

func firstNonSpace(b []byte) int {
	for i, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return 0
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// fail maps an engine error to its status and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), message, err)
	}

	resp := ErrorResponse{Error: message, Kind: string(pledge.KindOf(err)), Details: err.Error()}
	var ve *factory.ValidationError
	if errors.As(err, &ve) {
		resp.Details = ve.Fields
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch pledge.KindOf(err) {
	case pledge.KindInvalidInput, pledge.KindInvalidAmount, pledge.KindInvalidDate:
		return http.StatusBadRequest
	case pledge.KindNotFound:
		return http.StatusNotFound
	case pledge.KindInvalidState, pledge.KindOutstandingBalance, pledge.KindReferencedEntity, pledge.KindDuplicate:
		return http.StatusConflict
	case pledge.KindExceedsAccrued, pledge.KindExceedsOutstanding:
		return http.StatusUnprocessableEntity
	case pledge.KindLockTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

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
