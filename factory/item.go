/*
Package factory converts JSON item definitions into engine inputs.

PURPOSE:
  Intake forms and bulk imports describe pledged items as JSON. The
  factory validates them, fills master-data defaults (annual rate and
  compounding) and produces girvi.NewItem values ready for
  Registry.Create.

JSON SCHEMA:
  {
    "id": "G-1042",                  optional, generated when empty
    "customer_id": "cust-17",
    "agent_id": "agent-3",
    "category": "necklace",
    "purity": "22K",
    "weight_grams": "18.450",
    "description": "two-strand chain",
    "principal": "50000",
    "annual_rate": "24",             optional, factory default
    "compounding": "monthly",        optional, factory default
    "acquired_on": "2024-01-15"      optional, today
  }

  A document may hold one object or an array of them.

USAGE:
  f := factory.NewItemFactory(decimal.NewFromInt(24), pledge.CompoundMonthly)
  items, err := f.Parse(body)
  for _, in := range items {
      eng.Registry.Create(ctx, in)
  }

SEE ALSO:
  - girvi/registry.go: Create and its business validation
  - config/config.go: GIRVI_DEFAULT_RATE, GIRVI_DEFAULT_COMPOUNDING
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ItemJSON is the JSON representation of a pledged item.
type ItemJSON struct {
	ID          string `json:"id,omitempty"`
	CustomerID  string `json:"customer_id" validate:"required"`
	AgentID     string `json:"agent_id" validate:"required"`
	Category    string `json:"category,omitempty"`
	Purity      string `json:"purity,omitempty"`
	WeightGrams string `json:"weight_grams,omitempty" validate:"omitempty,decimal"`
	Description string `json:"description,omitempty"`
	Principal   string `json:"principal" validate:"required,money"`
	AnnualRate  string `json:"annual_rate,omitempty" validate:"omitempty,decimal"`
	Compounding string `json:"compounding,omitempty" validate:"omitempty,oneof=daily monthly quarterly annually"`
	AcquiredOn  string `json:"acquired_on,omitempty" validate:"omitempty,isodate"`
}

// =============================================================================
// ITEM FACTORY
// =============================================================================

// ItemFactory converts JSON items to girvi.NewItem.
type ItemFactory struct {
	DefaultRate        decimal.Decimal
	DefaultCompounding pledge.Compounding

	validate *Validator
}

func NewItemFactory(rate decimal.Decimal, compounding pledge.Compounding) *ItemFactory {
	return &ItemFactory{
		DefaultRate:        rate,
		DefaultCompounding: compounding,
		validate:           NewValidator(),
	}
}

// Parse accepts a single object or an array of objects.
func (f *ItemFactory) Parse(data []byte) ([]girvi.NewItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &pledge.FieldError{Field: "body", Reason: "empty document"}
	}

	var docs []ItemJSON
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("%w: failed to parse item JSON: %v", pledge.ErrInvalidInput, err)
		}
	} else {
		var one ItemJSON
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("%w: failed to parse item JSON: %v", pledge.ErrInvalidInput, err)
		}
		docs = []ItemJSON{one}
	}

	out := make([]girvi.NewItem, 0, len(docs))
	for i, doc := range docs {
		in, err := f.FromJSON(doc)
		if err != nil {
			if len(docs) > 1 {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// FromJSON validates one definition and applies defaults.
func (f *ItemFactory) FromJSON(doc ItemJSON) (girvi.NewItem, error) {
	if err := f.validate.Struct(doc); err != nil {
		return girvi.NewItem{}, err
	}

	principal, err := pledge.ParseMoney(doc.Principal)
	if err != nil {
		return girvi.NewItem{}, err
	}

	rate := f.DefaultRate
	if doc.AnnualRate != "" {
		rate = decimal.RequireFromString(doc.AnnualRate)
	}

	compounding := f.DefaultCompounding
	if doc.Compounding != "" {
		compounding = pledge.Compounding(doc.Compounding)
	}

	var weight decimal.Decimal
	if doc.WeightGrams != "" {
		weight = decimal.RequireFromString(doc.WeightGrams)
	}

	var acquired pledge.Date
	if doc.AcquiredOn != "" {
		acquired = pledge.MustParseDate(doc.AcquiredOn)
	}

	return girvi.NewItem{
		ID:          pledge.ItemID(doc.ID),
		CustomerID:  pledge.CustomerID(doc.CustomerID),
		AgentID:     pledge.AgentID(doc.AgentID),
		Category:    doc.Category,
		Purity:      doc.Purity,
		WeightGrams: weight,
		Description: doc.Description,
		Principal:   principal,
		AnnualRate:  rate,
		Compounding: compounding,
		AcquiredOn:  acquired,
	}, nil
}

// ToJSON converts a stored item back to its JSON definition.
func (f *ItemFactory) ToJSON(item pledge.JewelryItem) ItemJSON {
	doc := ItemJSON{
		ID:          string(item.ID),
		CustomerID:  string(item.CustomerID),
		AgentID:     string(item.AgentID),
		Category:    item.Category,
		Purity:      item.Purity,
		Description: item.Description,
		Principal:   item.Principal.Decimal(),
		AnnualRate:  item.AnnualRate.String(),
		Compounding: string(item.Compounding),
		AcquiredOn:  item.AcquiredOn.String(),
	}
	if !item.WeightGrams.IsZero() {
		doc.WeightGrams = item.WeightGrams.String()
	}
	return doc
}
