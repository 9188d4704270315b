package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ChartBridge/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type server struct {
	market   *market
	interval time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	addr := flag.String("addr", ":8090", "listen address")
	interval := flag.Duration("tick", time.Second, "interval between streamed ticks")
	flag.Parse()

	s := &server{market: newMarket(), interval: *interval}
	mux := http.NewServeMux()
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/symbols", s.handleSymbols)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/streaming", s.handleStreaming)
	mux.HandleFunc("/ws", s.handleWebSocket)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("[INFO] mock datafeed listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[FATAL] listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	log.Println("[INFO] mock datafeed stopped")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"supported_resolutions":  model.SupportedResolutions,
		"exchanges":              []map[string]string{{"value": "Pyth", "name": "Pyth", "desc": "Pyth Network"}},
		"symbols_types":          []map[string]string{{"name": "Crypto", "value": "crypto"}, {"name": "FX", "value": "forex"}, {"name": "Metal", "value": "metal"}},
		"supports_marks":         false,
		"supports_time":          true,
		"supports_search":        true,
		"supports_group_request": false,
	})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	out := []map[string]string{}
	for _, l := range s.market.search(q.Get("query"), q.Get("exchange"), q.Get("type"), limit) {
		out = append(out, map[string]string{
			"symbol":      model.CanonicalSymbol(l.Symbol),
			"full_name":   l.Symbol,
			"description": l.Description,
			"exchange":    l.Exchange,
			"ticker":      l.Symbol,
			"type":        l.Type,
		})
	}
	writeJSON(w, out)
}

func (s *server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	l, ok := s.market.lookup(r.URL.Query().Get("symbol"))
	if !ok {
		writeJSON(w, map[string]string{"s": "error", "errmsg": "unknown_symbol"})
		return
	}
	writeJSON(w, map[string]any{
		"name":                   model.CanonicalSymbol(l.Symbol),
		"ticker":                 l.Symbol,
		"description":            l.Description,
		"type":                   l.Type,
		"exchange":               l.Exchange,
		"listed_exchange":        l.Exchange,
		"timezone":               "Etc/UTC",
		"session":                "24x7",
		"minmov":                 1,
		"pricescale":             100,
		"has_intraday":           true,
		"has_daily":              true,
		"has_weekly_and_monthly": true,
		"supported_resolutions":  model.SupportedResolutions,
		"volume_precision":       2,
		"data_status":            "streaming",
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	l, ok := s.market.lookup(q.Get("symbol"))
	if !ok {
		writeJSON(w, map[string]string{"s": "error", "errmsg": "unknown_symbol"})
		return
	}
	res := model.Resolution(q.Get("resolution"))
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if err := res.Validate(); err != nil || err1 != nil || err2 != nil || to < from {
		writeJSON(w, map[string]string{"s": "error", "errmsg": "invalid request"})
		return
	}
	if now := time.Now().Unix(); to > now {
		to = now
	}

	bars := s.market.history(l, res, time.Unix(from, 0), time.Unix(to, 0))
	if len(bars) == 0 {
		writeJSON(w, map[string]any{"s": "no_data"})
		return
	}
	resp := struct {
		S string    `json:"s"`
		T []int64   `json:"t"`
		O []float64 `json:"o"`
		H []float64 `json:"h"`
		L []float64 `json:"l"`
		C []float64 `json:"c"`
		V []float64 `json:"v"`
	}{S: "ok"}
	for _, b := range bars {
		resp.T = append(resp.T, b.Time/1000)
		resp.O = append(resp.O, b.Open)
		resp.H = append(resp.H, b.High)
		resp.L = append(resp.L, b.Low)
		resp.C = append(resp.C, b.Close)
		resp.V = append(resp.V, b.Volume)
	}
	writeJSON(w, resp)
}

// handleStreaming writes one tick per line until the client goes away.
func (s *server) handleStreaming(w http.ResponseWriter, r *http.Request) {
	l, ok := s.market.lookup(r.URL.Query().Get("channel"))
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	log.Printf("[INFO] stream opened: %s", l.Symbol)

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Printf("[INFO] stream closed: %s", l.Symbol)
			return
		case <-ticker.C:
			if err := enc.Encode(s.market.nextTick(l)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	l, ok := s.market.lookup(r.URL.Query().Get("channel"))
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[INFO] websocket opened: %s", l.Symbol)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			log.Printf("[INFO] websocket closed: %s", l.Symbol)
			return
		case <-ticker.C:
			data, _ := json.Marshal(s.market.nextTick(l))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
