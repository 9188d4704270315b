package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ChartBridge/internal/datafeed"
	"ChartBridge/internal/marks"
	"ChartBridge/internal/model"
	"ChartBridge/internal/store"
	"ChartBridge/internal/streaming"
	"ChartBridge/internal/syncer"
	"ChartBridge/internal/widget"
)

var ErrClosed = errors.New("chart panel closed")

// State is what the surrounding page sees of the chart.
type State struct {
	Ready   bool
	Loading bool
}

// Deps are the collaborators a panel is built from.
type Deps struct {
	Client    *datafeed.Client
	Transport streaming.Transport
	Store     store.Store
	Factory   widget.Factory
	// Positions may be nil.
	Positions marks.PositionSource
}

// Options tune one panel.
type Options struct {
	LibraryPath string
	Resolution  model.Resolution
	Timezone    string
	MaxLookback time.Duration
	Streaming   streaming.Options
	Debounce    time.Duration
}

// Panel owns one mounted chart: its widget, datafeed, live subscriptions and
// annotation synchronizers. Closing it releases all of them.
type Panel struct {
	opts       Options
	positions  marks.PositionSource
	factory    widget.Factory
	reconciler *streaming.Reconciler
	feed       *datafeed.Adapter
	drawings   *syncer.Synchronizer[model.DrawingRecord]
	studies    *syncer.Synchronizer[model.StudyRecord]

	mu         sync.Mutex
	manager    *widget.Manager
	instrument model.Instrument
	overlays   []string
	closed     bool
}

func New(deps Deps, opts Options) *Panel {
	if opts.Resolution == "" {
		opts.Resolution = "1D"
	}
	if opts.Timezone == "" {
		opts.Timezone = "Etc/UTC"
	}
	rec := streaming.NewReconciler(deps.Transport, opts.Streaming)
	return &Panel{
		opts:       opts,
		positions:  deps.Positions,
		factory:    deps.Factory,
		reconciler: rec,
		feed:       datafeed.NewAdapter(deps.Client, rec, deps.Positions, datafeed.Options{MaxLookback: opts.MaxLookback}),
		drawings:   syncer.NewDrawings(deps.Store, syncer.Options{Debounce: opts.Debounce}),
		studies:    syncer.NewStudies(deps.Store, syncer.Options{Debounce: opts.Debounce}),
	}
}

// AttachChart builds the chart widget into container for inst and waits
// until it is ready or ctx ends.
func (p *Panel) AttachChart(ctx context.Context, container string, inst model.Instrument) (State, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return State{}, ErrClosed
	}
	if p.manager != nil {
		p.manager.Destroy()
	}
	m := widget.NewManager(p.factory, p.feed, container, p.opts.LibraryPath)
	m.SetAttachHook(p.onWidgetReady)
	p.manager = m
	p.instrument = inst
	p.mu.Unlock()

	_, err := m.Create(ctx, inst, p.opts.Resolution, p.opts.Timezone)
	st := m.State()
	return State{Ready: st.Ready, Loading: st.Loading}, err
}

// onWidgetReady attaches the synchronizers, restores saved annotations and
// draws overlays on a freshly built widget.
func (p *Panel) onWidgetReady(w widget.Widget, inst model.Instrument) func() {
	detachDrawings := p.drawings.Attach(w, inst)
	detachStudies := p.studies.Attach(w, inst)
	p.restore(context.Background(), w, inst)
	return func() {
		detachDrawings()
		detachStudies()
	}
}

func (p *Panel) restore(ctx context.Context, w widget.Widget, inst model.Instrument) {
	if err := p.drawings.Sync(ctx, w, inst); err != nil {
		log.Printf("[ERROR] %v", err)
	}
	if err := p.studies.Sync(ctx, w, inst); err != nil {
		log.Printf("[ERROR] %v", err)
	}
	p.redrawOverlays(w, inst)
}

// SetInstrument switches the chart to inst and reconciles its saved
// annotations.
func (p *Panel) SetInstrument(ctx context.Context, inst model.Instrument) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	m := p.manager
	if m == nil || m.Current() == nil {
		p.mu.Unlock()
		return widget.ErrNoInstance
	}
	if p.instrument == inst {
		p.mu.Unlock()
		return nil
	}
	p.instrument = inst
	p.mu.Unlock()

	// Edits made before the synchronizers move to inst still belong to the
	// previous instrument; Sync switches them after flushing.
	if err := m.UpdateSymbol(inst, p.opts.Resolution); err != nil {
		return fmt.Errorf("switch to %s: %w", inst.Symbol, err)
	}
	if w := m.Current(); w != nil {
		p.restore(ctx, w, inst)
	}
	log.Printf("[INFO] chart switched to %s", inst.Symbol)
	return nil
}

// SetPreferences updates mark and overlay preferences.
func (p *Panel) SetPreferences(prefs model.Preferences) {
	p.feed.SetPreferences(prefs)

	p.mu.Lock()
	m, inst := p.manager, p.instrument
	p.mu.Unlock()
	if m == nil {
		return
	}
	if w := m.Current(); w != nil {
		p.redrawOverlays(w, inst)
	}
}

// redrawOverlays replaces the liquidation lines on w.
func (p *Panel) redrawOverlays(w widget.Widget, inst model.Instrument) {
	p.mu.Lock()
	old := p.overlays
	p.overlays = nil
	p.mu.Unlock()
	for _, id := range old {
		if err := w.RemoveEntity(id); err != nil && !errors.Is(err, widget.ErrEntityNotFound) {
			log.Printf("[WARN] remove overlay %s: %v", id, err)
		}
	}

	prefs := p.feed.Preferences()
	if p.positions == nil || !prefs.ShowAllActivePositionsLiquidationLines {
		return
	}
	now := time.Now().Unix()
	var ids []string
	for _, line := range marks.LiquidationLines(inst, p.positions.Active(), prefs) {
		opts, _ := json.Marshal(map[string]any{
			"shape":     "horizontal_line",
			"lock":      true,
			"text":      line.Text,
			"linecolor": line.Color,
		})
		id, err := w.CreateShape(model.DrawingRecord{
			Name:    line.Name,
			Points:  []model.Point{{Time: now, Price: line.Price}},
			Options: opts,
		})
		if err != nil {
			log.Printf("[WARN] draw overlay %s: %v", line.Name, err)
			continue
		}
		ids = append(ids, id)
	}

	p.mu.Lock()
	p.overlays = append(p.overlays, ids...)
	p.mu.Unlock()
}

// State returns the current chart state.
func (p *Panel) State() State {
	p.mu.Lock()
	m := p.manager
	p.mu.Unlock()
	if m == nil {
		return State{}
	}
	st := m.State()
	return State{Ready: st.Ready, Loading: st.Loading}
}

// Reload rebuilds the widget with the current parameters.
func (p *Panel) Reload(ctx context.Context) (State, error) {
	p.mu.Lock()
	m := p.manager
	p.overlays = nil
	p.mu.Unlock()
	if m == nil {
		return State{}, widget.ErrNoInstance
	}
	_, err := m.Reload(ctx)
	st := m.State()
	return State{Ready: st.Ready, Loading: st.Loading}, err
}

// Widget returns the live widget, or nil.
func (p *Panel) Widget() widget.Widget {
	p.mu.Lock()
	m := p.manager
	p.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Current()
}

func (p *Panel) Feed() *datafeed.Adapter { return p.feed }

func (p *Panel) Reconciler() *streaming.Reconciler { return p.reconciler }

// Close flushes pending annotation writes and tears down the widget and
// every live connection.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	m := p.manager
	p.mu.Unlock()

	if m != nil {
		m.Destroy()
	}
	p.drawings.Flush()
	p.studies.Flush()
	p.reconciler.Close()
	log.Println("[INFO] chart panel closed")
}
