package model

import (
	"testing"
	"time"
)

func TestPeriodStart_Boundaries(t *testing.T) {
	at := time.Date(2024, 3, 14, 15, 47, 31, 0, time.UTC) // Thursday
	tests := []struct {
		res  Resolution
		want time.Time
	}{
		{"1", time.Date(2024, 3, 14, 15, 47, 0, 0, time.UTC)},
		{"15", time.Date(2024, 3, 14, 15, 45, 0, 0, time.UTC)},
		{"60", time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)},
		{"240", time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)},
		{"1D", time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"D", time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"1W", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"1M", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := tt.res.PeriodStart(at); !got.Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.res, tt.want, got)
		}
	}
}

func TestNextPeriod(t *testing.T) {
	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := Resolution("1D").NextPeriod(day); !got.Equal(day.AddDate(0, 0, 1)) {
		t.Errorf("daily next: got %v", got)
	}
	if got := Resolution("1M").NextPeriod(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); got.Month() != time.February {
		t.Errorf("monthly next: got %v", got)
	}
	if got := Resolution("5").NextPeriod(day); !got.Equal(day.Add(5 * time.Minute)) {
		t.Errorf("5m next: got %v", got)
	}
}

func TestResolution_Validate(t *testing.T) {
	for _, r := range SupportedResolutions {
		if err := r.Validate(); err != nil {
			t.Errorf("%s should be valid: %v", r, err)
		}
	}
	for _, r := range []Resolution{"", "abc", "0", "-5D"} {
		if err := r.Validate(); err == nil {
			t.Errorf("%q should be invalid", r)
		}
	}
}

func TestCanonicalSymbol(t *testing.T) {
	tests := map[string]string{
		"Crypto.BTC/USD":  "BTCUSD",
		"BINANCE:btc-usd": "BTCUSD",
		" btc_usd ":       "BTCUSD",
		"BTCUSD":          "BTCUSD",
	}
	for in, want := range tests {
		if got := CanonicalSymbol(in); got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
}
