package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"ChartBridge/internal/model"
)

// State is the observable lifecycle state of a managed widget.
type State struct {
	Ready         bool
	Loading       bool
	ReloadCounter int
	HasInstance   bool
}

// Handle refers to one constructed widget instance.
type Handle struct {
	Widget     Widget
	Instrument model.Instrument
	Resolution model.Resolution
	generation uint64
}

// AttachHook is invoked once per successfully installed instance. The
// returned func, if any, runs when that instance is destroyed.
type AttachHook func(w Widget, inst model.Instrument) (detach func())

type params struct {
	inst     model.Instrument
	res      model.Resolution
	timezone string
}

// Manager owns the single live widget of a chart panel.
type Manager struct {
	factory     Factory
	feed        Datafeed
	container   string
	libraryPath string

	mu         sync.Mutex
	hook       AttachHook
	instance   Widget
	detach     func()
	ready      bool
	loading    bool
	reloads    int
	generation uint64
	last       params
	hasParams  bool
}

// NewManager creates a Manager building widgets into container from the
// widget library at libraryPath.
func NewManager(factory Factory, feed Datafeed, container, libraryPath string) *Manager {
	return &Manager{
		factory:     factory,
		feed:        feed,
		container:   container,
		libraryPath: libraryPath,
	}
}

// SetAttachHook registers the hook run for every new instance.
func (m *Manager) SetAttachHook(hook AttachHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// Create builds a widget for inst and blocks until it reports ready or ctx
// ends. Any previous instance is destroyed first. When no widget can be
// built it returns a nil handle and ErrUnavailable.
func (m *Manager) Create(ctx context.Context, inst model.Instrument, res model.Resolution, timezone string) (*Handle, error) {
	m.mu.Lock()
	m.teardownLocked()
	m.last = params{inst: inst, res: res, timezone: timezone}
	m.hasParams = true
	m.generation++
	gen := m.generation
	m.loading = true
	m.mu.Unlock()

	return m.construct(ctx, gen)
}

// Reload destroys the current instance and builds a new one with the last
// parameters passed to Create.
func (m *Manager) Reload(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if !m.hasParams {
		m.mu.Unlock()
		return nil, ErrNoInstance
	}
	m.teardownLocked()
	m.reloads++
	m.generation++
	gen := m.generation
	m.loading = true
	m.mu.Unlock()

	log.Printf("[INFO] reloading chart widget (reload #%d)", m.State().ReloadCounter)
	return m.construct(ctx, gen)
}

// UpdateSymbol switches the live instance to inst without rebuilding it.
// Ready is false until the widget confirms the switch.
func (m *Manager) UpdateSymbol(inst model.Instrument, res model.Resolution) error {
	m.mu.Lock()
	w := m.instance
	if w == nil {
		m.mu.Unlock()
		return ErrNoInstance
	}
	m.last.inst = inst
	m.last.res = res
	m.ready = false
	gen := m.generation
	m.mu.Unlock()

	w.SetSymbol(inst.Symbol, res, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.generation == gen && m.instance == w {
			m.ready = true
		}
	})
	return nil
}

// State returns a snapshot of the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Ready:         m.ready,
		Loading:       m.loading,
		ReloadCounter: m.reloads,
		HasInstance:   m.instance != nil,
	}
}

// Current returns the live instance, or nil.
func (m *Manager) Current() Widget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

// Destroy removes the live instance, if any.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.teardownLocked()
	m.loading = false
}

func (m *Manager) teardownLocked() {
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	if m.instance != nil {
		m.instance.Remove()
		m.instance = nil
	}
	m.ready = false
}

func (m *Manager) construct(ctx context.Context, gen uint64) (*Handle, error) {
	m.mu.Lock()
	p := m.last
	m.mu.Unlock()

	w, err := m.factory.New(Options{
		Container:   m.container,
		LibraryPath: m.libraryPath,
		Symbol:      p.inst.Symbol,
		Resolution:  p.res,
		Timezone:    p.timezone,
		Datafeed:    m.feed,
	})
	if err != nil {
		m.finishLoading(gen)
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		log.Printf("[ERROR] create chart widget: %v", err)
		return nil, err
	}

	ready := make(chan struct{})
	var once sync.Once
	w.OnReady(func() { once.Do(func() { close(ready) }) })

	select {
	case <-ready:
	case <-ctx.Done():
		w.Remove()
		m.finishLoading(gen)
		return nil, ctx.Err()
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		w.Remove()
		log.Printf("[WARN] discarding stale chart widget construction")
		return nil, ErrStale
	}
	m.instance = w
	m.ready = true
	m.loading = false
	hook := m.hook
	m.mu.Unlock()

	w.ApplyOverrides(DefaultOverrides())
	if hook != nil {
		detach := hook(w, p.inst)
		m.mu.Lock()
		if m.instance == w {
			m.detach = detach
			detach = nil
		}
		m.mu.Unlock()
		if detach != nil {
			detach()
		}
	}

	log.Printf("[INFO] chart widget ready: %s %s", p.inst.Symbol, p.res)
	return &Handle{Widget: w, Instrument: p.inst, Resolution: p.res, generation: gen}, nil
}

func (m *Manager) finishLoading(gen uint64) {
	m.mu.Lock()
	if gen == m.generation {
		m.loading = false
	}
	m.mu.Unlock()
}
