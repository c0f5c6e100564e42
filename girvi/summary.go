package girvi

import (
	"context"

	"github.com/warp/girvi-engine/pledge"
)

// Summary is the dashboard aggregate as of one date. Released items are
// counted but contribute nothing to the balances.
type Summary struct {
	AsOf     pledge.Date                 `json:"as_of"`
	Items    int                         `json:"items"`
	ByState  map[pledge.CustodyState]int `json:"by_state"`
	OpenLots int                         `json:"open_lots"`
	Customer LedgerTotals                `json:"customer"`
	Dealer   LedgerTotals                `json:"dealer"`
}

type LedgerTotals struct {
	Outstanding pledge.Money `json:"outstanding"`
	Accrued     pledge.Money `json:"accrued"` // rounded to paise per item, then summed
}

func zeroTotals() LedgerTotals {
	return LedgerTotals{Outstanding: pledge.ZeroMoney(), Accrued: pledge.ZeroMoney()}
}

// Summary aggregates every item. It only reads.
func (e *Engine) Summary(ctx context.Context, asOf pledge.Date) (Summary, error) {
	asOf = e.dateOr(asOf)
	items, err := e.store.ListItems(ctx, pledge.ItemFilter{})
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		AsOf:     asOf,
		Items:    len(items),
		ByState:  make(map[pledge.CustodyState]int, 3),
		Customer: zeroTotals(),
		Dealer:   zeroTotals(),
	}
	for _, st := range pledge.AllStates() {
		s.ByState[st] = 0
	}

	for _, it := range items {
		s.ByState[it.State]++
		if it.State == pledge.StateReleased {
			continue
		}

		pos, err := e.customerPosition(ctx, it)
		if err != nil {
			return Summary{}, err
		}
		if err := s.Customer.add(pos, asOf); err != nil {
			return Summary{}, err
		}

		if it.State == pledge.StateWithDealer {
			pos, err := e.dealerPosition(ctx, it)
			if err != nil {
				return Summary{}, err
			}
			if err := s.Dealer.add(pos, asOf); err != nil {
				return Summary{}, err
			}
		}
	}
	s.OpenLots = len(pledge.GroupLots(items))
	return s, nil
}

// add folds one position in. A date before the position's basis counts
// only the carried arrears.
func (t *LedgerTotals) add(pos pledge.Position, asOf pledge.Date) error {
	t.Outstanding = t.Outstanding.Add(pos.Outstanding)
	if asOf.Before(pos.Basis) {
		t.Accrued = t.Accrued.Add(pos.Arrears.RoundPaise())
		return nil
	}
	accrued, err := pos.AccruedAsOf(asOf)
	if err != nil {
		return err
	}
	t.Accrued = t.Accrued.Add(accrued.RoundPaise())
	return nil
}
