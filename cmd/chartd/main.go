package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChartBridge/internal/config"
	"ChartBridge/internal/datafeed"
	"ChartBridge/internal/marks"
	"ChartBridge/internal/model"
	"ChartBridge/internal/panel"
	"ChartBridge/internal/scheduler"
	"ChartBridge/internal/store"
	"ChartBridge/internal/streaming"
	"ChartBridge/internal/widget"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] ChartBridge starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init annotation store
	st, err := store.Open(cfg.Persistence.Backend, cfg.Persistence.Dir, cfg.Persistence.SQLitePath)
	if err != nil {
		log.Printf("[WARN] init %s store failed, using memory: %v", cfg.Persistence.Backend, err)
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Init stream transport
	var transport streaming.Transport
	switch cfg.Datafeed.Transport {
	case "websocket":
		transport = streaming.NewWSTransport(cfg.Datafeed.StreamingURL, cfg.Proxy)
	default:
		transport = streaming.NewHTTPTransport(cfg.Datafeed.StreamingURL, cfg.Proxy)
	}
	log.Printf("[INFO] streaming via %s: %s", cfg.Datafeed.Transport, cfg.Datafeed.StreamingURL)

	var positions marks.PositionSource
	if cfg.Chart.PositionsFile != "" {
		positions = marks.FileSource{Path: cfg.Chart.PositionsFile}
	}

	client := datafeed.NewClient(cfg.Datafeed.BaseURL, cfg.Proxy, cfg.Datafeed.Timeout,
		cfg.Datafeed.RateLimitPerSec, cfg.Datafeed.RateBurst)
	p := panel.New(panel.Deps{
		Client:    client,
		Transport: transport,
		Store:     st,
		Factory:   widget.HeadlessFactory{HistoryWindow: cfg.Datafeed.MaxLookback},
		Positions: positions,
	}, panel.Options{
		LibraryPath: cfg.Chart.LibraryPath,
		Resolution:  model.Resolution(cfg.Chart.Resolution),
		Timezone:    cfg.Chart.Timezone,
		MaxLookback: cfg.Datafeed.MaxLookback,
		Streaming: streaming.Options{
			MaxRetries: cfg.Streaming.MaxRetries,
			RetryDelay: cfg.Streaming.RetryDelay,
		},
		Debounce: cfg.Persistence.Debounce,
	})
	defer p.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst := cfg.Instrument()
	attachCtx, attachCancel := context.WithTimeout(ctx, 30*time.Second)
	state, err := p.AttachChart(attachCtx, cfg.Chart.Container, inst)
	attachCancel()
	if err != nil {
		log.Fatalf("[FATAL] attach chart: %v", err)
	}
	log.Printf("[INFO] chart attached: %s ready=%v loading=%v", inst.Symbol, state.Ready, state.Loading)

	if positions != nil {
		p.SetPreferences(model.Preferences{
			ShowPositionHistory:                    true,
			ShowAllActivePositions:                 true,
			ShowAllActivePositionsLiquidationLines: true,
		})
	}

	if w, ok := p.Widget().(*widget.Headless); ok {
		w.Subscribe(widget.EventBar, func() {
			if b, ok := w.LatestBar(); ok {
				log.Printf("[INFO] %s %s O=%.4f H=%.4f L=%.4f C=%.4f",
					inst.Symbol, time.UnixMilli(b.Time).UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
			}
		})
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, p.Feed(), p.Reconciler())
	sched.Expected = []string{streamChannel(p.Widget(), inst)}
	if err := sched.RegisterAll(cfg.Schedule.ConfigRefreshCron, cfg.Schedule.StatusCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	log.Println("[INFO] ChartBridge is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
}

// streamChannel returns the channel the widget subscribed to, which follows
// the resolved ticker rather than the configured channel.
func streamChannel(w any, inst model.Instrument) string {
	if shown, ok := w.(interface{ Instrument() model.Instrument }); ok {
		if ch := shown.Instrument().Channel; ch != "" {
			return ch
		}
	}
	return inst.Channel
}
