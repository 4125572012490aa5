package cost

import (
	"slices"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Tier is a priced model class.
type Tier struct {
	Name        string
	Model       string
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// Price returns the cost of the given token counts.
func (t Tier) Price(promptTokens, completionTokens int) decimal.Decimal {
	in := t.InputPer1K.Mul(decimal.NewFromInt(int64(promptTokens)))
	out := t.OutputPer1K.Mul(decimal.NewFromInt(int64(completionTokens)))
	return in.Add(out).Div(thousand)
}

func (t Tier) unitCost() decimal.Decimal {
	return t.InputPer1K.Add(t.OutputPer1K)
}

// sortTiers orders tiers cheapest first, keeping declaration order on ties.
func sortTiers(tiers []Tier) []Tier {
	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b Tier) int {
		return a.unitCost().Cmp(b.unitCost())
	})
	return sorted
}

// ParseTier builds a tier from decimal price strings.
func ParseTier(name, model, inputPer1K, outputPer1K string) (Tier, error) {
	in, err := decimal.NewFromString(inputPer1K)
	if err != nil {
		return Tier{}, err
	}
	out, err := decimal.NewFromString(outputPer1K)
	if err != nil {
		return Tier{}, err
	}
	return Tier{Name: name, Model: model, InputPer1K: in, OutputPer1K: out}, nil
}
