package model

import "time"

// Bar is one OHLC candle. Time is the period start in epoch milliseconds,
// the unit the chart widget works in.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// Start returns the bar's period start as a time.Time.
func (b Bar) Start() time.Time { return time.UnixMilli(b.Time).UTC() }

// Tick is a single price update from the streaming service. Time is in
// epoch seconds.
type Tick struct {
	Channel string  `json:"channel"`
	Price   float64 `json:"price"`
	Time    int64   `json:"time"`
}

// At returns the tick time as a time.Time.
func (t Tick) At() time.Time { return time.Unix(t.Time, 0).UTC() }
