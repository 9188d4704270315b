package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"ChartBridge/internal/model"

	"github.com/google/uuid"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 3 * time.Second
)

var (
	// ErrRetriesExhausted is logged when a channel gives up reconnecting.
	ErrRetriesExhausted = errors.New("stream reconnection attempts exhausted")
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("reconciler closed")

	errStreamEnded = errors.New("stream ended")
)

// Handler receives every bar update for a channel.
type Handler func(model.Bar)

// Options configures the reconnection policy.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

type subscriber struct {
	id      string
	fn      Handler
	onReset func()
}

type entry struct {
	channel    string
	resolution model.Resolution
	lastBar    *model.Bar
	handlers   []subscriber
	cancel     context.CancelFunc
	retries    int
	done       chan struct{}
}

// Reconciler owns the live subscriptions of one chart panel: at most one
// registry entry and one push connection per channel, fanned out to every
// registered handler.
type Reconciler struct {
	transport Transport
	opts      Options

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

// NewReconciler creates a Reconciler. Zero options fall back to 3 retries
// 3 seconds apart.
func NewReconciler(transport Transport, opts Options) *Reconciler {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Reconciler{
		transport: transport,
		opts:      opts,
		entries:   make(map[string]*entry),
	}
}

// Subscribe registers handler for channel and returns immediately. The first
// subscriber of a channel opens its push connection; lastBar seeds the OHLC
// math for the first tick. An empty subscriberID is replaced by a generated
// one, which is returned.
func (r *Reconciler) Subscribe(channel string, res model.Resolution, lastBar *model.Bar, subscriberID string, handler Handler, onReset func()) (string, error) {
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	sub := subscriber{id: subscriberID, fn: handler, onReset: onReset}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	if e, ok := r.entries[channel]; ok {
		e.handlers = append(e.handlers, sub)
		if e.lastBar == nil && lastBar != nil {
			b := *lastBar
			e.lastBar = &b
		}
		log.Printf("[INFO] stream %s: added subscriber %s (%d handlers)", channel, subscriberID, len(e.handlers))
		return subscriberID, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		channel:    channel,
		resolution: res,
		handlers:   []subscriber{sub},
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if lastBar != nil {
		b := *lastBar
		e.lastBar = &b
	}
	r.entries[channel] = e

	r.wg.Add(1)
	go r.run(ctx, e)
	log.Printf("[INFO] stream %s: subscribed %s at resolution %s", channel, subscriberID, res)
	return subscriberID, nil
}

// Unsubscribe removes subscriberID's handler. Removing a channel's last
// handler drops the registry entry and closes its connection. Other
// channels are untouched.
func (r *Reconciler) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel, e := range r.entries {
		for i, s := range e.handlers {
			if s.id != subscriberID {
				continue
			}
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			if len(e.handlers) == 0 {
				delete(r.entries, channel)
				e.cancel()
				log.Printf("[INFO] stream %s: last subscriber left, connection closed", channel)
			}
			return
		}
	}
}

// Close tears down every connection. Subscribe fails afterwards.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for channel, e := range r.entries {
		e.cancel()
		delete(r.entries, channel)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// LastBar returns the current in-progress bar for channel.
func (r *Reconciler) LastBar(channel string) (model.Bar, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channel]
	if !ok || e.lastBar == nil {
		return model.Bar{}, false
	}
	return *e.lastBar, true
}

// ChannelStats describes one registry entry.
type ChannelStats struct {
	Channel  string
	Handlers int
	Retries  int
	LastBar  *model.Bar
}

// Stats returns a snapshot of the registry.
func (r *Reconciler) Stats() []ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChannelStats, 0, len(r.entries))
	for _, e := range r.entries {
		s := ChannelStats{Channel: e.channel, Handlers: len(e.handlers), Retries: e.retries}
		if e.lastBar != nil {
			b := *e.lastBar
			s.LastBar = &b
		}
		out = append(out, s)
	}
	return out
}

// run keeps one channel's connection alive until it is cancelled or its
// retry budget is spent. The budget is not replenished by a successful
// reconnect.
func (r *Reconciler) run(ctx context.Context, e *entry) {
	defer r.wg.Done()
	defer close(e.done)

	for {
		err := r.connectAndRead(ctx, e)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[WARN] stream %s: %v", e.channel, err)

		r.mu.Lock()
		if e.retries >= r.opts.MaxRetries {
			if r.entries[e.channel] == e {
				delete(r.entries, e.channel)
			}
			r.mu.Unlock()
			e.cancel()
			log.Printf("[ERROR] stream %s: %v after %d attempts", e.channel, ErrRetriesExhausted, r.opts.MaxRetries)
			return
		}
		e.retries++
		attempt := e.retries
		r.mu.Unlock()

		log.Printf("[INFO] stream %s: reconnecting in %v (attempt %d/%d)", e.channel, r.opts.RetryDelay, attempt, r.opts.MaxRetries)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.RetryDelay):
		}
	}
}

func (r *Reconciler) connectAndRead(ctx context.Context, e *entry) error {
	stream, err := r.transport.Connect(ctx, e.channel)
	if err != nil {
		return err
	}
	defer stream.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stop:
		}
	}()

	r.mu.Lock()
	reconnected := e.retries > 0
	r.mu.Unlock()
	if reconnected {
		log.Printf("[INFO] stream %s: reconnected", e.channel)
		r.notifyReset(e)
	}

	for {
		raw, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			return fmt.Errorf("read stream: %w", err)
		}
		tick, err := decodeTick(raw)
		if err != nil {
			log.Printf("[WARN] stream %s: dropping malformed tick: %v", e.channel, err)
			continue
		}
		if tick.Channel != e.channel {
			continue
		}
		r.apply(e, tick)
	}
}

// apply folds one tick into the channel's bar and pushes the result to all
// handlers in registration order. Only the channel's own read loop calls it.
func (r *Reconciler) apply(e *entry, tick model.Tick) {
	r.mu.Lock()
	if r.entries[e.channel] != e {
		r.mu.Unlock()
		return
	}
	bar := Aggregate(e.lastBar, e.resolution, tick)
	e.lastBar = &bar
	handlers := make([]subscriber, len(e.handlers))
	copy(handlers, e.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		h.fn(bar)
	}
}

func (r *Reconciler) notifyReset(e *entry) {
	r.mu.Lock()
	handlers := make([]subscriber, len(e.handlers))
	copy(handlers, e.handlers)
	r.mu.Unlock()
	for _, h := range handlers {
		if h.onReset != nil {
			h.onReset()
		}
	}
}

func decodeTick(raw []byte) (model.Tick, error) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return model.Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if tick.Channel == "" {
		return model.Tick{}, errors.New("tick without channel")
	}
	if tick.Time <= 0 {
		return model.Tick{}, fmt.Errorf("tick %s: invalid time %d", tick.Channel, tick.Time)
	}
	if math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) || tick.Price <= 0 {
		return model.Tick{}, fmt.Errorf("tick %s: invalid price %v", tick.Channel, tick.Price)
	}
	return tick, nil
}
