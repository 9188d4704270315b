package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ChartBridge/internal/marks"
	"ChartBridge/internal/model"
	"ChartBridge/internal/store"
	"ChartBridge/internal/widget"
)

// DefaultDebounce coalesces bursts of widget edits into one write.
const DefaultDebounce = 500 * time.Millisecond

// Entity adapts one kind of widget annotation to the synchronizer.
type Entity[R any] interface {
	Capture(w widget.Widget) []R
	Name(r R) string
	ID(r R) string
	Add(w widget.Widget, r R) error
	Event() widget.EventKind
}

type Options struct {
	Debounce time.Duration
}

// Synchronizer keeps one kind of widget annotation in step with the records
// persisted for the active instrument.
type Synchronizer[R any] struct {
	store     store.Store
	namespace string
	entity    Entity[R]
	debounce  *Debouncer

	mu         sync.Mutex
	instrument model.Instrument
	fresh      bool
	syncing    int
}

// New creates a Synchronizer writing to namespace of st.
func New[R any](st store.Store, namespace string, entity Entity[R], opts Options) *Synchronizer[R] {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Synchronizer[R]{
		store:     st,
		namespace: namespace,
		entity:    entity,
		debounce:  NewDebouncer(opts.Debounce),
	}
}

func (s *Synchronizer[R]) Namespace() string { return s.namespace }

// Capture returns every annotation the widget shows, except overlays drawn
// by the chart itself.
func (s *Synchronizer[R]) Capture(w widget.Widget) []R {
	all := s.entity.Capture(w)
	out := make([]R, 0, len(all))
	for _, r := range all {
		if marks.IsOverlay(s.entity.Name(r)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Load returns the records saved for inst.
func (s *Synchronizer[R]) Load(ctx context.Context, inst model.Instrument) ([]R, error) {
	var records []R
	if _, err := store.GetKey(ctx, s.store, s.namespace, inst.Key(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Persist schedules a write of records under inst. Only inst's key of the
// namespace changes.
func (s *Synchronizer[R]) Persist(inst model.Instrument, records []R) {
	if records == nil {
		records = []R{}
	}
	s.debounce.Trigger(func() {
		if err := store.PutKey(context.Background(), s.store, s.namespace, inst.Key(), records); err != nil {
			log.Printf("[ERROR] persist %s for %s: %v", s.namespace, inst.Symbol, err)
			return
		}
		log.Printf("[INFO] persisted %d %s records for %s", len(records), s.namespace, inst.Symbol)
	})
}

// Flush writes any pending records immediately.
func (s *Synchronizer[R]) Flush() {
	s.debounce.Flush()
}

// Sync makes the widget show exactly the records saved for inst, compared
// by name. Widget entities without a saved counterpart are removed, saved
// records missing from the widget are added, and matching entities are
// left alone. Change events persist under inst afterwards, and a completed
// sync counts as the first capture after Attach.
func (s *Synchronizer[R]) Sync(ctx context.Context, w widget.Widget, inst model.Instrument) error {
	s.debounce.Flush()

	s.mu.Lock()
	s.instrument = inst
	s.syncing++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing--
		s.mu.Unlock()
	}()

	saved, err := s.Load(ctx, inst)
	if err != nil {
		return fmt.Errorf("sync %s: %w", s.namespace, err)
	}

	remaining := make(map[string]int, len(saved))
	for _, r := range saved {
		remaining[s.entity.Name(r)]++
	}

	removed, added := 0, 0
	for _, r := range s.Capture(w) {
		name := s.entity.Name(r)
		if remaining[name] > 0 {
			remaining[name]--
			continue
		}
		if err := w.RemoveEntity(s.entity.ID(r)); err != nil {
			log.Printf("[WARN] sync %s: remove %s: %v", s.namespace, name, err)
			continue
		}
		removed++
	}
	for _, r := range saved {
		name := s.entity.Name(r)
		if remaining[name] == 0 {
			continue
		}
		remaining[name]--
		if err := s.entity.Add(w, r); err != nil {
			log.Printf("[WARN] sync %s: add %s: %v", s.namespace, name, err)
			continue
		}
		added++
	}

	s.mu.Lock()
	s.fresh = false
	s.mu.Unlock()

	if removed > 0 || added > 0 {
		log.Printf("[INFO] synced %s for %s: %d removed, %d added", s.namespace, inst.Symbol, removed, added)
	}
	return nil
}

// Attach subscribes to w's change events. Each change captures the widget
// and persists it for the active instrument. The returned func detaches.
func (s *Synchronizer[R]) Attach(w widget.Widget, inst model.Instrument) (detach func()) {
	s.mu.Lock()
	s.instrument = inst
	s.fresh = true
	s.mu.Unlock()

	cancel := w.Subscribe(s.entity.Event(), func() { s.onChange(w) })
	return func() {
		cancel()
		s.debounce.Flush()
	}
}

func (s *Synchronizer[R]) onChange(w widget.Widget) {
	s.mu.Lock()
	if s.syncing > 0 {
		s.mu.Unlock()
		return
	}
	inst := s.instrument
	first := s.fresh
	s.fresh = false
	s.mu.Unlock()

	records := s.Capture(w)
	if first && len(records) == 0 {
		saved, err := s.Load(context.Background(), inst)
		if err == nil && len(saved) > 0 {
			log.Printf("[WARN] %s: widget empty on first capture, keeping %d saved records for %s", s.namespace, len(saved), inst.Symbol)
			return
		}
	}
	s.Persist(inst, records)
}
