package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChartBridge/internal/datafeed"
	"ChartBridge/internal/model"
	"ChartBridge/internal/streaming"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := &server{market: newMarket(), interval: 10 * time.Millisecond}
	mux := http.NewServeMux()
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/symbols", s.handleSymbols)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/streaming", s.handleStreaming)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMockfeed_ServesDatafeedContract(t *testing.T) {
	srv := newTestServer(t)
	rec := streaming.NewReconciler(streaming.NewHTTPTransport(srv.URL+"/streaming", ""), streaming.Options{})
	defer rec.Close()
	a := datafeed.NewAdapter(datafeed.NewClient(srv.URL, "", 5*time.Second, 0, 1), rec, nil, datafeed.Options{})
	ctx := context.Background()

	if got := a.SearchSymbols(ctx, "eth", "", ""); len(got) != 1 || got[0].Ticker != "Crypto.ETH/USD" {
		t.Errorf("search = %+v", got)
	}
	if r := a.ResolveSymbol(ctx, "Crypto.DOGE/USD"); r.Status != datafeed.StatusNoData {
		t.Errorf("unknown symbol resolved: %+v", r)
	}

	inst := model.Instrument{Symbol: "Crypto.BTC/USD", Channel: "Crypto.BTC/USD"}
	to := time.Now().Unix()
	bars := a.GetBars(ctx, inst, "60", datafeed.PeriodParams{From: to - 48*3600, To: to, FirstRequest: true})
	if bars.Status != datafeed.StatusOK || len(bars.Bars) < 47 {
		t.Fatalf("bars = %v (%d)", bars.Status, len(bars.Bars))
	}
	for _, b := range bars.Bars {
		if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
			t.Fatalf("inconsistent bar %+v", b)
		}
	}

	got := make(chan model.Bar, 8)
	a.SubscribeBars(inst, "60", func(b model.Bar) {
		select {
		case got <- b:
		default:
		}
	}, "", nil)
	select {
	case b := <-got:
		if b.Time < bars.Bars[len(bars.Bars)-1].Time {
			t.Errorf("live bar %d older than history %d", b.Time, bars.Bars[len(bars.Bars)-1].Time)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no live bar")
	}
}

func TestMarket_HistoryAligned(t *testing.T) {
	m := newMarket()
	l, _ := m.lookup("BTCUSD")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := m.history(l, "1W", from, from.AddDate(0, 2, 0))
	if len(bars) == 0 {
		t.Fatal("no bars")
	}
	for i, b := range bars {
		if time.UnixMilli(b.Time).UTC().Weekday() != time.Monday {
			t.Errorf("bar %d not aligned to Monday", i)
		}
		if i > 0 && b.Time <= bars[i-1].Time {
			t.Errorf("bar %d not ascending", i)
		}
	}
}
