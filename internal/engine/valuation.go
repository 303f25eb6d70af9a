package engine

import (
	"sort"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/parse"
)

// TradeTaxMultiplier is what remains of a sale after the exchange takes
// its 1/8 cut.
const TradeTaxMultiplier = 1.0 - 1.0/8.0

// Valuer prices items and runs from a merged quote table. Build one per
// request from the store's current quotes and setting toggles; it holds no
// mutable state.
type Valuer struct {
	quotes         map[int64]db.PriceQuote
	taxEnabled     bool
	mapCostEnabled bool
}

func NewValuer(quotes map[int64]db.PriceQuote, taxEnabled, mapCostEnabled bool) *Valuer {
	if quotes == nil {
		quotes = map[int64]db.PriceQuote{}
	}
	return &Valuer{quotes: quotes, taxEnabled: taxEnabled, mapCostEnabled: mapCostEnabled}
}

// MapCostEnabled reports whether map costs are deducted from net values.
func (v *Valuer) MapCostEnabled() bool { return v.mapCostEnabled }

// UnitPrice returns the effective price of one item after the trade-tax
// toggle. Flame Elementium is always exactly 1 and never taxed; unpriced
// items return ok = false.
func (v *Valuer) UnitPrice(configBaseID int64) (price float64, ok bool) {
	price, ok = v.UnitPriceNoTax(configBaseID)
	if !ok || configBaseID == gamedata.FEConfigBaseID {
		return price, ok
	}
	if v.taxEnabled {
		price *= TradeTaxMultiplier
	}
	return price, true
}

// UnitPriceNoTax returns the effective price before tax, as used for map
// costs (you pay the sticker price to open a map, tax applies to selling).
func (v *Valuer) UnitPriceNoTax(configBaseID int64) (price float64, ok bool) {
	if configBaseID == gamedata.FEConfigBaseID {
		return 1, true
	}
	q, ok := v.quotes[configBaseID]
	if !ok {
		return 0, false
	}
	return q.Price, true
}

// RunValue is the priced summary of one run (or any delta aggregate).
type RunValue struct {
	Gross       float64 `json:"gross"`
	MapCost     float64 `json:"map_cost"`
	Net         float64 `json:"net"`
	HasUnpriced bool    `json:"has_unpriced"`
}

// ItemValue is one item's contribution to a run, sign preserved.
type ItemValue struct {
	ConfigBaseID int64   `json:"config_base_id"`
	Name         string  `json:"name"`
	IconURL      string  `json:"icon_url"`
	Context      string  `json:"context"`
	Qty          int64   `json:"qty"`
	UnitPrice    float64 `json:"unit_price"`
	Value        float64 `json:"value"`
	Priced       bool    `json:"priced"`
}

// Value prices a set of per-context totals. Gross counts picked-up loot;
// map cost counts items consumed opening maps, untaxed and unsigned. Net
// deducts the cost only when the toggle is on.
func (v *Valuer) Value(totals []db.ContextTotal) RunValue {
	var rv RunValue
	for _, t := range totals {
		switch t.Context {
		case parse.ContextPickItems:
			price, ok := v.UnitPrice(t.ConfigBaseID)
			if !ok {
				rv.HasUnpriced = true
				continue
			}
			rv.Gross += float64(t.Qty) * price
		case parse.ContextMapOpen:
			price, ok := v.UnitPriceNoTax(t.ConfigBaseID)
			if !ok {
				rv.HasUnpriced = true
				continue
			}
			qty := t.Qty
			if qty < 0 {
				qty = -qty
			}
			rv.MapCost += float64(qty) * price
		}
	}
	rv.Net = rv.Gross
	if v.mapCostEnabled {
		rv.Net -= rv.MapCost
	}
	return rv
}

// Items prices each total row individually for per-item breakdowns,
// sorted by value descending. Names come from the catalog join; missing
// ones render as Unknown.
func (v *Valuer) Items(totals []db.ContextTotal, name func(int64) string) []ItemValue {
	out := make([]ItemValue, 0, len(totals))
	for _, t := range totals {
		iv := ItemValue{
			ConfigBaseID: t.ConfigBaseID,
			Name:         name(t.ConfigBaseID),
			IconURL:      t.IconURL,
			Context:      t.Context,
			Qty:          t.Qty,
		}
		price, ok := v.UnitPrice(t.ConfigBaseID)
		if t.Context == parse.ContextMapOpen {
			price, ok = v.UnitPriceNoTax(t.ConfigBaseID)
		}
		if ok {
			iv.UnitPrice = price
			iv.Value = float64(t.Qty) * price
			iv.Priced = true
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// MapDuration is the presentation duration of an outer run: wall-clock
// span minus the spliced sub-run intervals, so excursion time never counts
// twice against value per hour.
func MapDuration(run *db.Run, children []*db.Run, now time.Time) time.Duration {
	d := run.Duration(now)
	for _, c := range children {
		d -= c.Duration(now)
	}
	if d < 0 {
		d = 0
	}
	return d
}
