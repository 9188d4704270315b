package widget

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ChartBridge/internal/datafeed"
	"ChartBridge/internal/model"

	"github.com/google/uuid"
)

// HeadlessFactory builds Headless widgets.
type HeadlessFactory struct {
	// HistoryWindow is how far back the first bars request reaches.
	// Zero means one year.
	HistoryWindow time.Duration
}

func (f HeadlessFactory) New(opts Options) (Widget, error) {
	if opts.Container == "" {
		return nil, fmt.Errorf("%w: no container", ErrUnavailable)
	}
	if opts.LibraryPath == "" {
		return nil, fmt.Errorf("%w: no widget library", ErrUnavailable)
	}
	if opts.Datafeed == nil {
		return nil, fmt.Errorf("%w: no datafeed", ErrUnavailable)
	}
	window := f.HistoryWindow
	if window < time.Second {
		window = datafeed.DefaultMaxLookback
	}
	return NewHeadless(opts, window), nil
}

// Headless is an in-memory widget. It drives the datafeed the way a
// browser chart does and keeps its drawings and studies in memory.
type Headless struct {
	opts   Options
	window time.Duration
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ready     bool
	readyFns  []func()
	listeners map[EventKind]map[int]func()
	nextID    int
	overrides map[string]any
	shapes    []model.DrawingRecord
	studies   []model.StudyRecord

	symbolGen int
	inst      model.Instrument
	res       model.Resolution
	subID     string
	bars      []model.Bar
	marks     []model.Mark
	removed   bool
}

// NewHeadless starts initializing a widget for opts.Symbol.
func NewHeadless(opts Options, window time.Duration) *Headless {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Headless{
		opts:      opts,
		window:    window,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[EventKind]map[int]func()),
		overrides: make(map[string]any),
	}
	opts.Datafeed.OnReady(func(cfg datafeed.Config) {
		res := opts.Resolution
		if !supported(cfg.SupportedResolutions, res) {
			log.Printf("[WARN] resolution %q not supported by datafeed, using 1D", res)
			res = "1D"
		}
		h.SetSymbol(opts.Symbol, res, h.markReady)
	})
	return h
}

func supported(list []model.Resolution, res model.Resolution) bool {
	if res.Validate() != nil {
		return false
	}
	if len(list) == 0 {
		return true
	}
	for _, r := range list {
		if r == res {
			return true
		}
	}
	return false
}

func (h *Headless) markReady() {
	h.mu.Lock()
	if h.ready || h.removed {
		h.mu.Unlock()
		return
	}
	h.ready = true
	fns := h.readyFns
	h.readyFns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *Headless) OnReady(fn func()) {
	h.mu.Lock()
	if !h.ready {
		h.readyFns = append(h.readyFns, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	go fn()
}

// SetSymbol resolves symbol, calls done, then loads history and starts
// live updates in the background.
func (h *Headless) SetSymbol(symbol string, res model.Resolution, done func()) {
	go func() {
		r := h.opts.Datafeed.ResolveSymbol(h.ctx, symbol)
		channel := symbol
		if r.Status == datafeed.StatusOK && r.Symbol.Ticker != "" {
			channel = r.Symbol.Ticker
		} else if r.Status != datafeed.StatusOK {
			log.Printf("[WARN] headless widget: resolve %s: %v", symbol, r.Err)
		}
		inst := model.Instrument{Symbol: symbol, Channel: channel}

		h.mu.Lock()
		if h.removed {
			h.mu.Unlock()
			return
		}
		prevSub := h.subID
		h.subID = ""
		h.symbolGen++
		gen := h.symbolGen
		h.inst = inst
		h.res = res
		h.bars = nil
		h.marks = nil
		h.mu.Unlock()

		if prevSub != "" {
			h.opts.Datafeed.UnsubscribeBars(prevSub)
		}
		if done != nil {
			done()
		}
		if r.Status == datafeed.StatusOK {
			h.loadData(gen, inst, res)
		}
	}()
}

func (h *Headless) loadData(gen int, inst model.Instrument, res model.Resolution) {
	feed := h.opts.Datafeed
	to := time.Now().Unix()
	from := to - int64(h.window/time.Second)

	result := feed.GetBars(h.ctx, inst, res, datafeed.PeriodParams{From: from, To: to, FirstRequest: true})
	switch result.Status {
	case datafeed.StatusError:
		log.Printf("[WARN] headless widget: bars %s: %v", inst.Symbol, result.Err)
	case datafeed.StatusNoData:
		log.Printf("[INFO] headless widget: no bars for %s", inst.Symbol)
	}
	marks := feed.GetMarks(inst, from, to, res)

	h.mu.Lock()
	if h.removed || gen != h.symbolGen {
		h.mu.Unlock()
		return
	}
	h.bars = result.Bars
	h.marks = marks
	h.mu.Unlock()

	id := feed.SubscribeBars(inst, res, func(b model.Bar) { h.onBar(gen, b) }, uuid.NewString(), func() { h.onReset(gen) })

	h.mu.Lock()
	if h.removed || gen != h.symbolGen {
		h.mu.Unlock()
		if id != "" {
			feed.UnsubscribeBars(id)
		}
		return
	}
	h.subID = id
	h.mu.Unlock()
}

func (h *Headless) onBar(gen int, b model.Bar) {
	h.mu.Lock()
	if h.removed || gen != h.symbolGen {
		h.mu.Unlock()
		return
	}
	if n := len(h.bars); n > 0 && h.bars[n-1].Time == b.Time {
		h.bars[n-1] = b
	} else if n == 0 || b.Time > h.bars[n-1].Time {
		h.bars = append(h.bars, b)
	}
	h.mu.Unlock()
	h.emit(EventBar)
}

// onReset refetches the bars missed while the stream was down.
func (h *Headless) onReset(gen int) {
	h.mu.Lock()
	if h.removed || gen != h.symbolGen || len(h.bars) == 0 {
		h.mu.Unlock()
		return
	}
	inst, res := h.inst, h.res
	from := h.bars[len(h.bars)-1].Time / 1000
	h.mu.Unlock()

	result := h.opts.Datafeed.GetBars(h.ctx, inst, res, datafeed.PeriodParams{From: from, To: time.Now().Unix()})
	if result.Status != datafeed.StatusOK {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removed || gen != h.symbolGen {
		return
	}
	for _, b := range result.Bars {
		if n := len(h.bars); n > 0 && b.Time <= h.bars[n-1].Time {
			if b.Time == h.bars[n-1].Time {
				h.bars[n-1] = b
			}
			continue
		}
		h.bars = append(h.bars, b)
	}
}

func (h *Headless) ApplyOverrides(overrides map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range overrides {
		h.overrides[k] = v
	}
}

func (h *Headless) Subscribe(kind EventKind, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.listeners[kind] == nil {
		h.listeners[kind] = make(map[int]func())
	}
	h.listeners[kind][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[kind], id)
	}
}

func (h *Headless) emit(kind EventKind) {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.listeners[kind]))
	for _, fn := range h.listeners[kind] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *Headless) Shapes() []model.DrawingRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.DrawingRecord(nil), h.shapes...)
}

func (h *Headless) CreateShape(rec model.DrawingRecord) (string, error) {
	h.mu.Lock()
	if h.removed {
		h.mu.Unlock()
		return "", ErrNoInstance
	}
	rec.ID = uuid.NewString()
	h.shapes = append(h.shapes, rec)
	h.mu.Unlock()
	h.emit(EventDrawing)
	return rec.ID, nil
}

func (h *Headless) Studies() []model.StudyRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.StudyRecord(nil), h.studies...)
}

func (h *Headless) CreateStudy(rec model.StudyRecord) (string, error) {
	h.mu.Lock()
	if h.removed {
		h.mu.Unlock()
		return "", ErrNoInstance
	}
	rec.ID = uuid.NewString()
	h.studies = append(h.studies, rec)
	h.mu.Unlock()
	h.emit(EventStudy)
	return rec.ID, nil
}

func (h *Headless) RemoveEntity(id string) error {
	h.mu.Lock()
	kind := EventKind(-1)
	for i, s := range h.shapes {
		if s.ID == id {
			h.shapes = append(h.shapes[:i:i], h.shapes[i+1:]...)
			kind = EventDrawing
			break
		}
	}
	if kind < 0 {
		for i, s := range h.studies {
			if s.ID == id {
				h.studies = append(h.studies[:i:i], h.studies[i+1:]...)
				kind = EventStudy
				break
			}
		}
	}
	h.mu.Unlock()
	if kind < 0 {
		return fmt.Errorf("%s: %w", id, ErrEntityNotFound)
	}
	h.emit(kind)
	return nil
}

func (h *Headless) Remove() {
	h.mu.Lock()
	if h.removed {
		h.mu.Unlock()
		return
	}
	h.removed = true
	sub := h.subID
	h.subID = ""
	h.listeners = make(map[EventKind]map[int]func())
	h.readyFns = nil
	h.mu.Unlock()

	h.cancel()
	if sub != "" {
		h.opts.Datafeed.UnsubscribeBars(sub)
	}
}

// Instrument returns the instrument currently displayed.
func (h *Headless) Instrument() model.Instrument {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inst
}

// Bars returns a copy of the loaded bars.
func (h *Headless) Bars() []model.Bar {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Bar(nil), h.bars...)
}

// LatestBar returns the most recent bar.
func (h *Headless) LatestBar() (model.Bar, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.bars) == 0 {
		return model.Bar{}, false
	}
	return h.bars[len(h.bars)-1], true
}

func (h *Headless) Marks() []model.Mark {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Mark(nil), h.marks...)
}

func (h *Headless) Override(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.overrides[key]
	return v, ok
}
