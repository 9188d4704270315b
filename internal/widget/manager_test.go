package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ChartBridge/internal/model"
)

type stubWidget struct {
	mu         sync.Mutex
	readyFn    func()
	registered chan struct{}
	removed    bool
	overrides  map[string]any
	symbol     string
	symbolDone func()
}

func newStubWidget() *stubWidget {
	return &stubWidget{registered: make(chan struct{}), overrides: map[string]any{}}
}

func (w *stubWidget) OnReady(fn func()) {
	w.mu.Lock()
	w.readyFn = fn
	w.mu.Unlock()
	close(w.registered)
}

func (w *stubWidget) fireReady() {
	<-w.registered
	w.mu.Lock()
	fn := w.readyFn
	w.mu.Unlock()
	fn()
}

func (w *stubWidget) SetSymbol(symbol string, res model.Resolution, done func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbol = symbol
	w.symbolDone = done
}

func (w *stubWidget) ApplyOverrides(o map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range o {
		w.overrides[k] = v
	}
}

func (w *stubWidget) Subscribe(EventKind, func()) func()              { return func() {} }
func (w *stubWidget) Shapes() []model.DrawingRecord                   { return nil }
func (w *stubWidget) CreateShape(model.DrawingRecord) (string, error) { return "", nil }
func (w *stubWidget) Studies() []model.StudyRecord                    { return nil }
func (w *stubWidget) CreateStudy(model.StudyRecord) (string, error)   { return "", nil }
func (w *stubWidget) RemoveEntity(string) error                       { return nil }

func (w *stubWidget) Remove() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = true
}

func (w *stubWidget) isRemoved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removed
}

// stubFactory hands out stub widgets and publishes each on created.
type stubFactory struct {
	created  chan *stubWidget
	autoFire bool
}

func (f *stubFactory) New(opts Options) (Widget, error) {
	w := newStubWidget()
	w.symbol = opts.Symbol
	if f.autoFire {
		go w.fireReady()
	}
	if f.created != nil {
		f.created <- w
	}
	return w, nil
}

var btc = model.Instrument{Symbol: "Crypto.BTC/USD", Channel: "Crypto.BTC/USD"}

func TestManager_CreateUnavailable(t *testing.T) {
	m := NewManager(HeadlessFactory{}, newFakeFeed(), "", "/lib/charting_library")
	h, err := m.Create(context.Background(), btc, "1D", "UTC")
	if h != nil || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got handle=%v err=%v", h, err)
	}
	if st := m.State(); st.Loading || st.Ready || st.HasInstance {
		t.Errorf("unexpected state %+v", st)
	}

	m = NewManager(HeadlessFactory{}, newFakeFeed(), "chart", "")
	if _, err := m.Create(context.Background(), btc, "1D", "UTC"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing library: err = %v", err)
	}
}

func TestManager_CreateAppliesOverridesAndHookOnce(t *testing.T) {
	m := NewManager(&stubFactory{autoFire: true}, newFakeFeed(), "chart", "lib")
	hooks := 0
	m.SetAttachHook(func(w Widget, inst model.Instrument) func() {
		hooks++
		if inst != btc {
			t.Errorf("hook instrument = %+v", inst)
		}
		return nil
	})

	h, err := m.Create(context.Background(), btc, "1D", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	w := h.Widget.(*stubWidget)
	if len(w.overrides) != len(DefaultOverrides()) {
		t.Errorf("overrides applied = %d", len(w.overrides))
	}
	if hooks != 1 {
		t.Errorf("hook ran %d times", hooks)
	}
	if st := m.State(); !st.Ready || st.Loading || !st.HasInstance {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestManager_ReloadReplacesInstance(t *testing.T) {
	m := NewManager(&stubFactory{autoFire: true}, newFakeFeed(), "chart", "lib")
	detached := 0
	m.SetAttachHook(func(Widget, model.Instrument) func() {
		return func() { detached++ }
	})

	first, err := m.Create(context.Background(), btc, "1D", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Reload(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !first.Widget.(*stubWidget).isRemoved() {
		t.Error("previous instance must be destroyed")
	}
	if second.Widget.(*stubWidget).isRemoved() {
		t.Error("new instance removed")
	}
	if detached != 1 {
		t.Errorf("detach ran %d times", detached)
	}
	if st := m.State(); st.ReloadCounter != 1 || !st.Ready {
		t.Errorf("unexpected state %+v", st)
	}
	if m.Current() != second.Widget {
		t.Error("current instance is not the reloaded one")
	}
}

func TestManager_StaleConstructionDestroyed(t *testing.T) {
	f := &stubFactory{created: make(chan *stubWidget, 2)}
	m := NewManager(f, newFakeFeed(), "chart", "lib")

	createErr := make(chan error, 1)
	go func() {
		_, err := m.Create(context.Background(), btc, "1D", "UTC")
		createErr <- err
	}()
	w1 := <-f.created

	reloaded := make(chan *Handle, 1)
	go func() {
		h, _ := m.Reload(context.Background())
		reloaded <- h
	}()
	w2 := <-f.created

	w2.fireReady()
	h := <-reloaded
	if h == nil || h.Widget != Widget(w2) {
		t.Fatalf("reload handle = %+v", h)
	}

	w1.fireReady()
	if err := <-createErr; !errors.Is(err, ErrStale) {
		t.Errorf("create err = %v", err)
	}
	if !w1.isRemoved() {
		t.Error("stale instance must be destroyed")
	}
	if w2.isRemoved() || m.Current() != Widget(w2) {
		t.Error("live instance must survive")
	}
}

func TestManager_UpdateSymbolReadyTransition(t *testing.T) {
	m := NewManager(&stubFactory{autoFire: true}, newFakeFeed(), "chart", "lib")
	h, err := m.Create(context.Background(), btc, "1D", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	eth := model.Instrument{Symbol: "Crypto.ETH/USD", Channel: "Crypto.ETH/USD"}
	if err := m.UpdateSymbol(eth, "60"); err != nil {
		t.Fatal(err)
	}
	if m.State().Ready {
		t.Error("ready must be false during the switch")
	}
	w := h.Widget.(*stubWidget)
	w.mu.Lock()
	done, symbol := w.symbolDone, w.symbol
	w.mu.Unlock()
	if symbol != eth.Symbol {
		t.Errorf("symbol = %s", symbol)
	}
	done()
	if !m.State().Ready {
		t.Error("ready must be true after the switch completes")
	}
}

func TestManager_UpdateSymbolWithoutInstance(t *testing.T) {
	m := NewManager(&stubFactory{}, newFakeFeed(), "chart", "lib")
	if err := m.UpdateSymbol(btc, "1D"); !errors.Is(err, ErrNoInstance) {
		t.Errorf("err = %v", err)
	}
}

func TestManager_CreateContextDone(t *testing.T) {
	f := &stubFactory{created: make(chan *stubWidget, 1)}
	m := NewManager(f, newFakeFeed(), "chart", "lib")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	h, err := m.Create(ctx, btc, "1D", "UTC")
	if h != nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v %v", h, err)
	}
	if w := <-f.created; !w.isRemoved() {
		t.Error("abandoned instance must be destroyed")
	}
	if m.State().Loading {
		t.Error("loading must be cleared")
	}
}
