package datafeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"ChartBridge/internal/model"
	"ChartBridge/internal/streaming"
)

type historyCall struct {
	from, to int64
}

type shim struct {
	mu      sync.Mutex
	calls   []historyCall
	history func(from, to int64) any
}

func (s *shim) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"supported_resolutions": []string{"1D"},
			"supports_search":       true,
			"supports_marks":        false,
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]SymbolMatch{{Symbol: "BTCUSD", Ticker: "Crypto.BTC/USD"}})
	})
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "Crypto.BTC/USD" {
			json.NewEncoder(w).Encode(map[string]string{"s": "error", "errmsg": "unknown_symbol"})
			return
		}
		json.NewEncoder(w).Encode(SymbolInfo{Name: "BTCUSD", Ticker: "Crypto.BTC/USD", Pricescale: 100})
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		s.mu.Lock()
		s.calls = append(s.calls, historyCall{from, to})
		s.mu.Unlock()
		json.NewEncoder(w).Encode(s.history(from, to))
	})
	mux.HandleFunc("/streaming", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	return mux
}

func newTestAdapter(t *testing.T, s *shim, lookback time.Duration) (*Adapter, *streaming.Reconciler) {
	t.Helper()
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)
	rec := streaming.NewReconciler(streaming.NewHTTPTransport(srv.URL+"/streaming", ""), streaming.Options{RetryDelay: time.Millisecond})
	t.Cleanup(rec.Close)
	client := NewClient(srv.URL, "", 5*time.Second, 0, 1)
	return NewAdapter(client, rec, nil, Options{MaxLookback: lookback}), rec
}

// oneBarAt answers every window with a single bar at its start.
func oneBarAt(from, to int64) any {
	return historyResponse{S: "ok", T: []int64{from}, O: []float64{1}, H: []float64{2}, L: []float64{0.5}, C: []float64{1.5}, V: []float64{10}}
}

func TestGetBars_FirstRequestClamped(t *testing.T) {
	s := &shim{history: oneBarAt}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "Crypto.BTC/USD"}, "1", PeriodParams{From: 0, To: 100000, FirstRequest: true})
	if res.Status != StatusOK {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if len(s.calls) != 1 {
		t.Fatalf("expected 1 history call, got %d", len(s.calls))
	}
	if got := s.calls[0].from; got != 100000-3600 {
		t.Errorf("from = %d, want %d", got, 100000-3600)
	}
	last, ok := a.LastBar(model.Instrument{Symbol: "Crypto.BTC/USD"})
	if !ok || last.Time != (100000-3600)*1000 {
		t.Errorf("cached last bar = %+v, %v", last, ok)
	}
}

func TestGetBars_LaterRequestChunked(t *testing.T) {
	s := &shim{history: oneBarAt}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 1, To: 3*3600 + 1})
	if res.Status != StatusOK {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if len(s.calls) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(s.calls))
	}
	for i, c := range s.calls {
		if c.to-c.from > 3600 {
			t.Errorf("chunk %d spans %d seconds", i, c.to-c.from)
		}
	}
	if len(res.Bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(res.Bars))
	}
	for i := 1; i < len(res.Bars); i++ {
		if res.Bars[i].Time <= res.Bars[i-1].Time {
			t.Errorf("bars not ascending at %d", i)
		}
	}
	if _, ok := a.LastBar(model.Instrument{Symbol: "X"}); ok {
		t.Error("later requests must not populate the last-bar cache")
	}
}

func TestGetBars_SubSecondLookbackUsesOneSecondChunks(t *testing.T) {
	s := &shim{history: oneBarAt}
	a, _ := newTestAdapter(t, s, 500*time.Millisecond)

	done := make(chan BarsResult, 1)
	go func() {
		done <- a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 1000, To: 1010})
	}()
	var res BarsResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("GetBars did not return")
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) != 10 {
		t.Fatalf("expected 10 one-second chunks, got %d", len(s.calls))
	}
	for i, c := range s.calls {
		if c.to-c.from != 1 {
			t.Errorf("chunk %d spans %d seconds", i, c.to-c.from)
		}
	}
}

func TestGetBars_NoData(t *testing.T) {
	s := &shim{history: func(from, to int64) any {
		return historyResponse{S: "no_data", NextTime: 42}
	}}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 0, To: 60, FirstRequest: true})
	if res.Status != StatusNoData || res.NextTime != 42 {
		t.Errorf("got %v nextTime=%d", res.Status, res.NextTime)
	}
}

func TestGetBars_MalformedArrays(t *testing.T) {
	s := &shim{history: func(from, to int64) any {
		return map[string]any{"s": "ok", "t": []int64{1, 2}, "o": []float64{1}, "h": []float64{1, 1}, "l": []float64{1, 1}, "c": []float64{1, 1}}
	}}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 0, To: 60, FirstRequest: true})
	if res.Status != StatusError || res.Err == nil {
		t.Errorf("expected error result, got %v", res.Status)
	}
}

func TestGetBars_ErrorStatus(t *testing.T) {
	s := &shim{history: func(from, to int64) any {
		return historyResponse{S: "error", Errmsg: "boom"}
	}}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 0, To: 60})
	if res.Status != StatusError {
		t.Errorf("expected error result, got %v", res.Status)
	}
}

func TestGetBars_SortsAndSkipsEmptyRows(t *testing.T) {
	s := &shim{history: func(from, to int64) any {
		return historyResponse{
			S: "ok",
			T: []int64{300, 100, 200},
			O: []float64{3, 1, 0},
			H: []float64{3, 1, 0},
			L: []float64{3, 1, 0},
			C: []float64{3, 1, 0},
		}
	}}
	a, _ := newTestAdapter(t, s, time.Hour)

	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 0, To: 600, FirstRequest: true})
	if res.Status != StatusOK {
		t.Fatalf("status = %v", res.Status)
	}
	if len(res.Bars) != 2 || res.Bars[0].Time != 100000 || res.Bars[1].Time != 300000 {
		t.Errorf("unexpected bars %+v", res.Bars)
	}
}

func TestGetBars_TransportFailure(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", time.Second, 0, 1)
	a := NewAdapter(client, nil, nil, Options{})
	res := a.GetBars(context.Background(), model.Instrument{Symbol: "X"}, "1", PeriodParams{From: 0, To: 60, FirstRequest: true})
	if res.Status != StatusError {
		t.Errorf("expected error result, got %v", res.Status)
	}
}

func TestOnReady_AsyncWithLocalResolutions(t *testing.T) {
	a, _ := newTestAdapter(t, &shim{history: oneBarAt}, time.Hour)

	got := make(chan Config, 1)
	returned := make(chan struct{})
	a.OnReady(func(cfg Config) {
		<-returned
		got <- cfg
	})
	close(returned)

	select {
	case cfg := <-got:
		if len(cfg.SupportedResolutions) != len(model.SupportedResolutions) {
			t.Errorf("resolutions = %v", cfg.SupportedResolutions)
		}
		if !cfg.SupportsMarks || !cfg.SupportsSearch {
			t.Errorf("unexpected config %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback not invoked")
	}
}

func TestResolveSymbol(t *testing.T) {
	a, _ := newTestAdapter(t, &shim{history: oneBarAt}, time.Hour)

	ok := a.ResolveSymbol(context.Background(), "Crypto.BTC/USD")
	if ok.Status != StatusOK || ok.Symbol.Name != "BTCUSD" {
		t.Errorf("resolve = %+v", ok)
	}
	if len(ok.Symbol.SupportedResolutions) == 0 {
		t.Error("expected default resolutions on descriptor")
	}

	missing := a.ResolveSymbol(context.Background(), "NOPE")
	if missing.Status != StatusNoData || !errors.Is(missing.Err, ErrSymbolNotFound) {
		t.Errorf("expected not-found, got %+v", missing)
	}
}

func TestSearchSymbols(t *testing.T) {
	a, _ := newTestAdapter(t, &shim{history: oneBarAt}, time.Hour)
	got := a.SearchSymbols(context.Background(), "btc", "", "")
	if len(got) != 1 || got[0].Symbol != "BTCUSD" {
		t.Errorf("search = %+v", got)
	}
}

type staticPositions struct{ history []model.Position }

func (s staticPositions) Active() []model.Position  { return nil }
func (s staticPositions) History() []model.Position { return s.history }

func TestGetMarks_WindowAndPreferences(t *testing.T) {
	at := func(sec int64) *time.Time { t := time.Unix(sec, 0); return &t }
	pnl := 3.0
	src := staticPositions{history: []model.Position{
		{ID: "a", InstrumentSymbol: "BTCUSD", Side: model.SideLong, PnL: &pnl, CloseTime: at(100)},
		{ID: "b", InstrumentSymbol: "BTCUSD", Side: model.SideShort, PnL: &pnl, CloseTime: at(500)},
	}}
	a := NewAdapter(NewClient("http://unused", "", time.Second, 0, 1), nil, src, Options{})
	inst := model.Instrument{Symbol: "Crypto.BTC/USD"}

	if got := a.GetMarks(inst, 0, 1000, "1D"); len(got) != 0 {
		t.Fatalf("marks with preferences off: %d", len(got))
	}
	a.SetPreferences(model.Preferences{ShowPositionHistory: true})
	got := a.GetMarks(inst, 0, 200, "1D")
	if len(got) != 1 || got[0].Time != 100 {
		t.Errorf("marks in window = %+v", got)
	}
}

func TestSubscribeBars_SeedsFromCache(t *testing.T) {
	a, rec := newTestAdapter(t, &shim{history: oneBarAt}, time.Hour)
	inst := model.Instrument{Symbol: "Crypto.BTC/USD", Channel: "Crypto.BTC/USD"}

	a.GetBars(context.Background(), inst, "1", PeriodParams{From: 0, To: 7200, FirstRequest: true})
	id := a.SubscribeBars(inst, "1", func(model.Bar) {}, "", nil)
	if id == "" {
		t.Fatal("expected subscriber id")
	}
	bar, ok := rec.LastBar(inst.Channel)
	if !ok || bar.Time != 3600*1000 {
		t.Errorf("reconciler seed = %+v, %v", bar, ok)
	}
	a.UnsubscribeBars(id)
	if _, ok := rec.LastBar(inst.Channel); ok {
		t.Error("entry should be gone after last unsubscribe")
	}
}
