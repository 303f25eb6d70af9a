package parse

import (
	"sort"
	"time"

	"ti-tracker/internal/gamedata"
)

// RequestTimeout is how long a search request stays correlatable with its
// response. The game answers well under a second; anything slower is a
// different search.
const RequestTimeout = 10 * time.Second

// MinListings is the fewest listings a response may carry and still produce
// a reference price. Below that the market is too thin to trust.
const MinListings = 3

// PriceLearned is emitted when a trade house search resolves to a usable
// reference price.
type PriceLearned struct {
	ConfigBaseID int64
	Price        float64
	Listings     int
	ObservedAt   time.Time
}

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionSend
	sectionRecv
)

type pendingSearch struct {
	configBaseID int64
	sentAt       time.Time
}

// ExchangeParser correlates XchgSearchPrice request sections with their
// response sections by SynId and distills each matched pair into one
// reference price. Sections interleave with unrelated socket traffic, so
// body fragments only count while their STT marker is open.
type ExchangeParser struct {
	section    sectionKind
	synID      int64
	openedAt   time.Time
	referSeen  bool
	currencies []int64
	prices     []float64

	pending map[int64]pendingSearch
}

func NewExchangeParser() *ExchangeParser {
	return &ExchangeParser{pending: make(map[int64]pendingSearch)}
}

// Feed consumes one exchange fragment event. It returns a learned price
// when the event conclusively closes a matched search, nil otherwise.
func (p *ExchangeParser) Feed(ev Event) *PriceLearned {
	switch ev.Kind {
	case KindXchgSend:
		// An unterminated section is dropped when the next STT arrives.
		p.reset()
		p.section = sectionSend
		p.synID = ev.SynID
		p.openedAt = ev.TS
		p.expire(ev.TS)

	case KindXchgRecv:
		p.reset()
		p.section = sectionRecv
		p.synID = ev.SynID
		p.openedAt = ev.TS
		p.expire(ev.TS)

	case KindXchgRefer:
		if p.section == sectionSend && !p.referSeen {
			p.pending[p.synID] = pendingSearch{configBaseID: ev.ConfigBaseID, sentAt: p.openedAt}
			p.referSeen = true
		}

	case KindXchgCurrency:
		if p.section == sectionRecv {
			p.currencies = append(p.currencies, ev.ConfigBaseID)
		}

	case KindXchgUnitPrice:
		if p.section == sectionRecv {
			p.prices = append(p.prices, ev.Price)
		}

	case KindXchgEnd:
		if p.section == sectionRecv {
			learned := p.finalize(ev.TS)
			p.reset()
			return learned
		}
		p.reset()
	}
	return nil
}

func (p *ExchangeParser) finalize(endTS time.Time) *PriceLearned {
	req, ok := p.pending[p.synID]
	if !ok {
		return nil
	}
	delete(p.pending, p.synID)

	if p.openedAt.Sub(req.sentAt) > RequestTimeout {
		return nil
	}
	// Base Currency's value is 1 by definition; never learn it.
	if req.configBaseID == gamedata.FEConfigBaseID {
		return nil
	}

	listings := p.baseCurrencyPrices()
	if len(listings) < MinListings {
		return nil
	}

	observed := endTS
	if observed.IsZero() {
		observed = p.openedAt
	}
	return &PriceLearned{
		ConfigBaseID: req.configBaseID,
		Price:        Percentile10(listings),
		Listings:     len(listings),
		ObservedAt:   observed,
	}
}

// baseCurrencyPrices pairs the currency and unit-price arrays positionally
// and keeps the listings denominated in Flame Elementium. Responses without
// currency tags are all-FE by protocol.
func (p *ExchangeParser) baseCurrencyPrices() []float64 {
	if len(p.currencies) == 0 {
		return p.prices
	}
	n := len(p.currencies)
	if len(p.prices) < n {
		n = len(p.prices)
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if p.currencies[i] == gamedata.FEConfigBaseID {
			out = append(out, p.prices[i])
		}
	}
	return out
}

func (p *ExchangeParser) reset() {
	p.section = sectionNone
	p.synID = 0
	p.referSeen = false
	p.currencies = p.currencies[:0]
	p.prices = p.prices[:0]
}

// expire forgets search requests that never got a response in time.
func (p *ExchangeParser) expire(now time.Time) {
	for syn, req := range p.pending {
		if now.Sub(req.sentAt) > RequestTimeout {
			delete(p.pending, syn)
		}
	}
}

// Percentile10 returns the 10th percentile of the values with linear
// interpolation between ranks: for [0.10 0.12 0.15 0.20 1.50] the rank is
// 0.4, giving 0.10*0.6 + 0.12*0.4 = 0.108.
func Percentile10(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := 0.10 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
