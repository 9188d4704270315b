package main

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"ChartBridge/internal/model"
)

const maxHistoryBars = 5000

type listing struct {
	Symbol      string
	Description string
	Exchange    string
	Type        string
	Base        float64
}

// market produces deterministic history and a random-walk live price per
// symbol.
type market struct {
	listings []listing

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

func newMarket() *market {
	return &market{
		listings: []listing{
			{Symbol: "Crypto.BTC/USD", Description: "Bitcoin / US Dollar", Exchange: "Pyth", Type: "crypto", Base: 65000},
			{Symbol: "Crypto.ETH/USD", Description: "Ethereum / US Dollar", Exchange: "Pyth", Type: "crypto", Base: 3200},
			{Symbol: "Crypto.SOL/USD", Description: "Solana / US Dollar", Exchange: "Pyth", Type: "crypto", Base: 150},
			{Symbol: "FX.EUR/USD", Description: "Euro / US Dollar", Exchange: "Pyth", Type: "forex", Base: 1.08},
			{Symbol: "Metal.XAU/USD", Description: "Gold / US Dollar", Exchange: "Pyth", Type: "metal", Base: 2300},
		},
		prices: make(map[string]float64),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *market) lookup(symbol string) (listing, bool) {
	want := model.CanonicalSymbol(symbol)
	for _, l := range m.listings {
		if l.Symbol == symbol || model.CanonicalSymbol(l.Symbol) == want {
			return l, true
		}
	}
	return listing{}, false
}

func (m *market) search(query, exchange, symbolType string, limit int) []listing {
	q := strings.ToUpper(query)
	var out []listing
	for _, l := range m.listings {
		if exchange != "" && !strings.EqualFold(exchange, l.Exchange) {
			continue
		}
		if symbolType != "" && symbolType != l.Type {
			continue
		}
		if q != "" && !strings.Contains(strings.ToUpper(l.Symbol), q) && !strings.Contains(strings.ToUpper(l.Description), q) {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// priceAt is a smooth deterministic curve around the listing's base price.
func priceAt(l listing, t time.Time) float64 {
	h := fnv.New32a()
	h.Write([]byte(l.Symbol))
	phase := float64(h.Sum32()%1000) / 1000 * 2 * math.Pi
	x := float64(t.Unix()) / 86400
	return l.Base * (1 + 0.08*math.Sin(x/9+phase) + 0.03*math.Sin(x*1.7+phase*2) + 0.01*math.Sin(x*13))
}

func (m *market) history(l listing, res model.Resolution, from, to time.Time) []model.Bar {
	var bars []model.Bar
	step := res.Duration()
	for start := res.PeriodStart(from); !start.After(to); start = res.NextPeriod(start) {
		end := res.NextPeriod(start)
		open := priceAt(l, start)
		closeP := priceAt(l, end)
		mid := priceAt(l, start.Add(step/2))
		bars = append(bars, model.Bar{
			Time:   start.UnixMilli(),
			Open:   open,
			High:   math.Max(math.Max(open, closeP), mid) * 1.002,
			Low:    math.Min(math.Min(open, closeP), mid) * 0.998,
			Close:  closeP,
			Volume: math.Abs(closeP-open) * 1000,
		})
	}
	if len(bars) > maxHistoryBars {
		bars = bars[len(bars)-maxHistoryBars:]
	}
	return bars
}

// nextTick advances the live random walk of l.
func (m *market) nextTick(l listing) model.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	p, ok := m.prices[l.Symbol]
	if !ok {
		p = priceAt(l, now)
	}
	p *= 1 + m.rng.NormFloat64()*0.0008
	m.prices[l.Symbol] = p
	return model.Tick{Channel: l.Symbol, Price: p, Time: now.Unix()}
}
