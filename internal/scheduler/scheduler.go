package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"ChartBridge/internal/streaming"

	"github.com/robfig/cron/v3"
)

// ConfigRefresher re-reads the datafeed configuration.
type ConfigRefresher interface {
	RefreshConfig(ctx context.Context) error
}

// StatsSource reports live stream subscriptions.
type StatsSource interface {
	Stats() []streaming.ChannelStats
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron    *cron.Cron
	Feed    ConfigRefresher
	Streams StatsSource
	Ctx     context.Context

	// Expected lists channels that should always be streaming; a missing
	// one is reported as stale.
	Expected []string
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, feed ConfigRefresher, streams StatsSource) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Feed:    feed,
		Streams: streams,
		Ctx:     ctx,
	}
}

// RegisterAll registers the config refresh and status report tasks.
func (s *Scheduler) RegisterAll(configRefreshCron, statusCron string) error {
	if _, err := s.Cron.AddFunc(configRefreshCron, s.refreshConfig); err != nil {
		return fmt.Errorf("register config refresh task: %w", err)
	}
	if _, err := s.Cron.AddFunc(statusCron, func() { s.RunStatusNow() }); err != nil {
		return fmt.Errorf("register status task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

func (s *Scheduler) refreshConfig() {
	ctx, cancel := context.WithTimeout(s.Ctx, 30*time.Second)
	defer cancel()
	if err := s.Feed.RefreshConfig(ctx); err != nil {
		log.Printf("[ERROR] config refresh: %v", err)
		return
	}
	log.Println("[INFO] datafeed config refreshed")
}

// RunStatusNow logs one line per live channel and returns the channels
// listed in Expected that are no longer streaming.
func (s *Scheduler) RunStatusNow() []string {
	stats := s.Streams.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Channel < stats[j].Channel })

	live := make(map[string]bool, len(stats))
	for _, st := range stats {
		live[st.Channel] = true
		last := "none"
		if st.LastBar != nil {
			last = fmt.Sprintf("%s close=%.4f", time.UnixMilli(st.LastBar.Time).UTC().Format(time.RFC3339), st.LastBar.Close)
		}
		log.Printf("[INFO] stream %s: handlers=%d retries=%d last=%s", st.Channel, st.Handlers, st.Retries, last)
	}

	var stale []string
	for _, ch := range s.Expected {
		if !live[ch] {
			stale = append(stale, ch)
		}
	}
	if len(stale) > 0 {
		log.Printf("[WARN] stale streams (reload the chart to resubscribe): %s", strings.Join(stale, ", "))
	}
	if len(stats) == 0 && len(stale) == 0 {
		log.Println("[INFO] no live streams")
	}
	return stale
}
