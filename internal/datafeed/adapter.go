package datafeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ChartBridge/internal/marks"
	"ChartBridge/internal/model"
	"ChartBridge/internal/streaming"
)

const (
	// DefaultMaxLookback bounds the first history request and the size of
	// every later chunk.
	DefaultMaxLookback = 365 * 24 * time.Hour

	searchLimit = 30
)

// Options configures an Adapter.
type Options struct {
	MaxLookback time.Duration
}

// Adapter is the datafeed handed to a chart widget. Its methods never panic
// and never return bare errors to the widget; failures are reported through
// tagged results and logged.
type Adapter struct {
	client      *Client
	reconciler  *streaming.Reconciler
	positions   marks.PositionSource
	maxLookback time.Duration

	prefs atomic.Pointer[model.Preferences]

	cfgOnce sync.Once
	cfgMu   sync.RWMutex
	cfg     Config

	barsMu   sync.Mutex
	lastBars map[string]model.Bar
}

// NewAdapter wires the shim client and the streaming reconciler together.
// positions may be nil when the host has no trading activity to show.
func NewAdapter(client *Client, reconciler *streaming.Reconciler, positions marks.PositionSource, opts Options) *Adapter {
	if opts.MaxLookback <= 0 {
		opts.MaxLookback = DefaultMaxLookback
	} else if opts.MaxLookback < time.Second {
		opts.MaxLookback = time.Second
	}
	a := &Adapter{
		client:      client,
		reconciler:  reconciler,
		positions:   positions,
		maxLookback: opts.MaxLookback,
		lastBars:    make(map[string]model.Bar),
	}
	a.prefs.Store(&model.Preferences{})
	return a
}

// OnReady fetches the shim configuration once and hands it to cb on a
// separate goroutine.
func (a *Adapter) OnReady(cb func(Config)) {
	go func() {
		cb(a.Config(context.Background()))
	}()
}

// Config returns the datafeed configuration, fetching it on first use.
func (a *Adapter) Config(ctx context.Context) Config {
	a.cfgOnce.Do(func() {
		if err := a.RefreshConfig(ctx); err != nil {
			log.Printf("[WARN] datafeed config unavailable, using local defaults: %v", err)
			a.cfgMu.Lock()
			a.cfg = withLocalConfig(Config{SupportsSearch: true})
			a.cfgMu.Unlock()
		}
	})
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	cfg := a.cfg
	cfg.SupportedResolutions = append([]model.Resolution(nil), a.cfg.SupportedResolutions...)
	return cfg
}

// RefreshConfig re-reads the shim configuration. On failure the previous
// configuration stays in place.
func (a *Adapter) RefreshConfig(ctx context.Context) error {
	cfg, err := a.client.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("refresh config: %w", err)
	}
	a.cfgMu.Lock()
	a.cfg = withLocalConfig(cfg)
	a.cfgMu.Unlock()
	return nil
}

// withLocalConfig overrides the fields this adapter decides itself.
func withLocalConfig(cfg Config) Config {
	cfg.SupportedResolutions = append([]model.Resolution(nil), model.SupportedResolutions...)
	cfg.SupportsMarks = true
	cfg.SupportsTimescaleMarks = false
	cfg.SupportsTime = true
	return cfg
}

// SearchSymbols returns matching symbols, or an empty list on failure.
func (a *Adapter) SearchSymbols(ctx context.Context, query, exchange, symbolType string) []SymbolMatch {
	matches, err := a.client.Search(ctx, query, exchange, symbolType, searchLimit)
	if err != nil {
		log.Printf("[WARN] search %q: %v", query, err)
		return []SymbolMatch{}
	}
	if matches == nil {
		matches = []SymbolMatch{}
	}
	return matches
}

// ResolveSymbol looks up a symbol descriptor. Unknown symbols come back as
// StatusNoData with ErrSymbolNotFound.
func (a *Adapter) ResolveSymbol(ctx context.Context, name string) ResolveResult {
	info, err := a.client.Resolve(ctx, name)
	switch {
	case errors.Is(err, ErrSymbolNotFound):
		log.Printf("[WARN] resolve %s: %v", name, err)
		return ResolveResult{Status: StatusNoData, Err: err}
	case err != nil:
		log.Printf("[ERROR] resolve %s: %v", name, err)
		return ResolveResult{Status: StatusError, Err: err}
	}
	if len(info.SupportedResolutions) == 0 {
		info.SupportedResolutions = append([]model.Resolution(nil), model.SupportedResolutions...)
	}
	return ResolveResult{Status: StatusOK, Symbol: info}
}

// GetBars loads historical bars for the window in p. The first request of a
// chart is clamped to the lookback limit; later requests are split into
// lookback-sized chunks fetched in order.
func (a *Adapter) GetBars(ctx context.Context, inst model.Instrument, res model.Resolution, p PeriodParams) BarsResult {
	if err := res.Validate(); err != nil {
		return barsError(err)
	}
	if p.To <= p.From {
		return noData(0)
	}
	lookback := int64(a.maxLookback / time.Second)

	if p.FirstRequest {
		from := p.From
		if p.To-from > lookback {
			from = p.To - lookback
		}
		result := a.fetchWindow(ctx, inst.Symbol, res, from, p.To)
		if result.Status == StatusOK {
			a.barsMu.Lock()
			a.lastBars[inst.Key()] = result.Bars[len(result.Bars)-1]
			a.barsMu.Unlock()
		}
		return result
	}

	var (
		bars     []model.Bar
		nextTime int64
	)
	for start := p.From; start < p.To; start += lookback {
		end := start + lookback
		if end > p.To {
			end = p.To
		}
		r := a.fetchWindow(ctx, inst.Symbol, res, start, end)
		switch r.Status {
		case StatusError:
			return r
		case StatusNoData:
			if nextTime == 0 {
				nextTime = r.NextTime
			}
			continue
		}
		bars = append(bars, r.Bars...)
	}
	if len(bars) == 0 {
		return noData(nextTime)
	}
	return BarsResult{Status: StatusOK, Bars: dedupeSorted(bars)}
}

func (a *Adapter) fetchWindow(ctx context.Context, symbol string, res model.Resolution, from, to int64) BarsResult {
	resp, err := a.client.History(ctx, symbol, res, from, to)
	if err != nil {
		log.Printf("[ERROR] history %s %s [%d,%d]: %v", symbol, res, from, to, err)
		return barsError(err)
	}
	switch resp.S {
	case "ok":
	case "no_data":
		return noData(resp.NextTime)
	case "error":
		err := fmt.Errorf("history %s: %s", symbol, resp.Errmsg)
		log.Printf("[ERROR] %v", err)
		return barsError(err)
	default:
		err := fmt.Errorf("history %s: unexpected status %q", symbol, resp.S)
		log.Printf("[WARN] %v", err)
		return barsError(err)
	}

	bars, err := decodeBars(resp)
	if err != nil {
		log.Printf("[WARN] history %s: %v", symbol, err)
		return barsError(err)
	}
	if len(bars) == 0 {
		return noData(resp.NextTime)
	}
	return BarsResult{Status: StatusOK, Bars: bars}
}

// decodeBars turns the parallel arrays of a history payload into bars sorted
// ascending by time. Empty or non-positive rows are skipped.
func decodeBars(h historyResponse) ([]model.Bar, error) {
	n := len(h.T)
	if len(h.O) != n || len(h.H) != n || len(h.L) != n || len(h.C) != n {
		return nil, fmt.Errorf("malformed history: t=%d o=%d h=%d l=%d c=%d", n, len(h.O), len(h.H), len(h.L), len(h.C))
	}
	if len(h.V) != 0 && len(h.V) != n {
		return nil, fmt.Errorf("malformed history: t=%d v=%d", n, len(h.V))
	}

	bars := make([]model.Bar, 0, n)
	skipped := 0
	for i, ts := range h.T {
		o, hi, lo, c := h.O[i], h.H[i], h.L[i], h.C[i]
		if ts <= 0 || o <= 0 || hi <= 0 || lo <= 0 || c <= 0 {
			skipped++
			continue
		}
		b := model.Bar{Time: ts * 1000, Open: o, High: hi, Low: lo, Close: c}
		if len(h.V) > 0 {
			b.Volume = h.V[i]
		}
		bars = append(bars, b)
	}
	if skipped > 0 {
		log.Printf("[WARN] history: skipped %d empty bars", skipped)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	return bars, nil
}

// dedupeSorted sorts bars and keeps the last bar for each timestamp, which
// removes the overlap between adjacent chunks.
func dedupeSorted(bars []model.Bar) []model.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	out := bars[:0]
	for _, b := range bars {
		if len(out) > 0 && out[len(out)-1].Time == b.Time {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// LastBar returns the cached last historical bar of inst.
func (a *Adapter) LastBar(inst model.Instrument) (model.Bar, bool) {
	a.barsMu.Lock()
	defer a.barsMu.Unlock()
	b, ok := a.lastBars[inst.Key()]
	return b, ok
}

// SetPreferences replaces the mark preferences used by the next GetMarks.
func (a *Adapter) SetPreferences(prefs model.Preferences) {
	a.prefs.Store(&prefs)
}

// Preferences returns the current mark preferences.
func (a *Adapter) Preferences() model.Preferences {
	return *a.prefs.Load()
}

// GetMarks returns the trading-event marks of inst within [from, to], in
// epoch seconds.
func (a *Adapter) GetMarks(inst model.Instrument, from, to int64, res model.Resolution) []model.Mark {
	if a.positions == nil {
		return []model.Mark{}
	}
	all := marks.Collect(inst, a.positions, a.Preferences())
	out := make([]model.Mark, 0, len(all))
	for _, m := range all {
		if m.Time < from || m.Time > to {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SubscribeBars starts live updates for inst, seeding the bar math with the
// cached last historical bar. It returns the subscriber ID in use, or "" if
// the subscription could not be registered.
func (a *Adapter) SubscribeBars(inst model.Instrument, res model.Resolution, handler streaming.Handler, subscriberID string, onReset func()) string {
	channel := inst.Channel
	if channel == "" {
		channel = inst.Symbol
	}
	var seed *model.Bar
	if b, ok := a.LastBar(inst); ok {
		seed = &b
	}
	id, err := a.reconciler.Subscribe(channel, res, seed, subscriberID, handler, onReset)
	if err != nil {
		log.Printf("[ERROR] subscribe %s: %v", channel, err)
		return ""
	}
	return id
}

// UnsubscribeBars stops the updates registered under subscriberID.
func (a *Adapter) UnsubscribeBars(subscriberID string) {
	a.reconciler.Unsubscribe(subscriberID)
}
