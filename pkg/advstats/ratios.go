package advstats

import "github.com/shopspring/decimal"

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// Places is the scale of every stored money amount and ratio.
const Places = 2

type rounding func(d decimal.Decimal, places int32) decimal.Decimal

func halfAwayFromZero(d decimal.Decimal, places int32) decimal.Decimal { return d.Round(places) }

func halfEven(d decimal.Decimal, places int32) decimal.Decimal { return d.RoundBank(places) }

// CPC is spend per click, undefined when there are no clicks.
func CPC(spend decimal.Decimal, clicks int64) decimal.NullDecimal {
	return cpc(spend, clicks, halfAwayFromZero)
}

// CPM is spend per thousand views, undefined when there are no views.
func CPM(spend decimal.Decimal, views int64) decimal.NullDecimal {
	return cpm(spend, views, halfAwayFromZero)
}

// CTR is the click-through rate in percent, undefined when there are no views.
func CTR(clicks, views int64) decimal.NullDecimal {
	return ctr(clicks, views, halfAwayFromZero)
}

// DailyRatios returns CPC, CTR and CPM for one campaign daily row.
// Campaign rows round half to even; adv params round half away from zero.
func DailyRatios(spend decimal.Decimal, clicks, views int64) (cpcValue, ctrValue, cpmValue decimal.NullDecimal) {
	return cpc(spend, clicks, halfEven), ctr(clicks, views, halfEven), cpm(spend, views, halfEven)
}

func cpc(spend decimal.Decimal, clicks int64, round rounding) decimal.NullDecimal {
	if clicks <= 0 {
		return decimal.NullDecimal{}
	}
	return valid(spend.Div(decimal.NewFromInt(clicks)), round)
}

func cpm(spend decimal.Decimal, views int64, round rounding) decimal.NullDecimal {
	if views <= 0 {
		return decimal.NullDecimal{}
	}
	return valid(spend.Div(decimal.NewFromInt(views)).Mul(thousand), round)
}

func ctr(clicks, views int64, round rounding) decimal.NullDecimal {
	if views <= 0 {
		return decimal.NullDecimal{}
	}
	return valid(decimal.NewFromInt(clicks).Div(decimal.NewFromInt(views)).Mul(hundred), round)
}

// Money rounds an amount to the stored scale, half away from zero like postgres numeric.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func valid(d decimal.Decimal, round rounding) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: round(d, Places), Valid: true}
}

// distinct is a null-aware comparison: two nulls are not distinct.
func distinct(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return true
	}
	if !a.Valid {
		return false
	}
	return !a.Decimal.Equal(b.Decimal)
}
