package engine

import (
	"math"
	"testing"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/parse"
)

func quotes(m map[int64]float64) map[int64]db.PriceQuote {
	q := make(map[int64]db.PriceQuote, len(m))
	for id, p := range m {
		q[id] = db.PriceQuote{ConfigBaseID: id, Price: p, Quote: db.QuoteLocal}
	}
	return q
}

func TestValuer_BaseCurrencyFixedAndUntaxed(t *testing.T) {
	v := NewValuer(nil, true, false)
	price, ok := v.UnitPrice(100300)
	if !ok || price != 1 {
		t.Fatalf("FE price = %v, %v; want exactly 1", price, ok)
	}
}

func TestValuer_TradeTax(t *testing.T) {
	v := NewValuer(quotes(map[int64]float64{200001: 8}), true, false)
	price, ok := v.UnitPrice(200001)
	if !ok || math.Abs(price-7) > 1e-9 {
		t.Fatalf("taxed price = %v, want 7 (8 * 7/8)", price)
	}
	noTax, _ := v.UnitPriceNoTax(200001)
	if noTax != 8 {
		t.Fatalf("untaxed price = %v, want 8", noTax)
	}

	untaxed := NewValuer(quotes(map[int64]float64{200001: 8}), false, false)
	if price, _ := untaxed.UnitPrice(200001); price != 8 {
		t.Fatalf("toggle off price = %v, want 8", price)
	}
}

func TestValuer_RunValue(t *testing.T) {
	v := NewValuer(quotes(map[int64]float64{200001: 2, 200002: 0.5}), false, true)
	totals := []db.ContextTotal{
		{ConfigBaseID: 100300, Context: parse.ContextPickItems, Qty: 31},
		{ConfigBaseID: 200001, Context: parse.ContextPickItems, Qty: 4},
		{ConfigBaseID: 200002, Context: parse.ContextMapOpen, Qty: -6},
		{ConfigBaseID: 999999, Context: parse.ContextPickItems, Qty: 3}, // unpriced
		{ConfigBaseID: 200001, Context: parse.ContextRecycle, Qty: -1}, // neither bucket
	}

	rv := v.Value(totals)
	if math.Abs(rv.Gross-39) > 1e-9 {
		t.Errorf("gross = %v, want 39 (31 FE + 4*2)", rv.Gross)
	}
	if math.Abs(rv.MapCost-3) > 1e-9 {
		t.Errorf("map cost = %v, want 3 (|−6| * 0.5)", rv.MapCost)
	}
	if math.Abs(rv.Net-36) > 1e-9 {
		t.Errorf("net = %v, want 36", rv.Net)
	}
	if !rv.HasUnpriced {
		t.Error("unpriced pickup should flag HasUnpriced")
	}

	noCost := NewValuer(quotes(map[int64]float64{200001: 2, 200002: 0.5}), false, false)
	if rv := noCost.Value(totals); math.Abs(rv.Net-rv.Gross) > 1e-9 {
		t.Errorf("map-cost toggle off: net %v should equal gross %v", rv.Net, rv.Gross)
	}
}

func TestValuer_ItemsPreserveSign(t *testing.T) {
	v := NewValuer(quotes(map[int64]float64{200001: 2}), false, false)
	items := v.Items([]db.ContextTotal{
		{ConfigBaseID: 200001, Context: parse.ContextPickItems, Qty: -3},
	}, func(int64) string { return "Thing" })
	if len(items) != 1 || items[0].Value != -6 {
		t.Fatalf("items = %+v, want value -6", items)
	}
}

func TestValuer_LaterSourceWins(t *testing.T) {
	// EffectivePrices does the merge in SQL-land; this covers the tie rule
	// the valuer sees: the store hands a single quote per item.
	late := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	q := map[int64]db.PriceQuote{
		200001: {ConfigBaseID: 200001, Price: 5, Quote: db.QuoteCloud, UpdatedAt: late},
	}
	v := NewValuer(q, false, false)
	if price, _ := v.UnitPrice(200001); price != 5 {
		t.Fatalf("price = %v, want cloud 5", price)
	}
}

func TestMapDuration_ExcludesSubRuns(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	subStart := start.Add(2 * time.Minute)
	subEnd := subStart.Add(3 * time.Minute)

	outer := &db.Run{StartedAt: start, EndedAt: &end}
	sub := &db.Run{StartedAt: subStart, EndedAt: &subEnd}

	got := MapDuration(outer, []*db.Run{sub}, end)
	if got != 7*time.Minute {
		t.Fatalf("MapDuration = %v, want 7m", got)
	}
	if got := MapDuration(outer, nil, end); got != 10*time.Minute {
		t.Fatalf("MapDuration no subs = %v, want 10m", got)
	}
}
