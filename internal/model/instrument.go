package model

import "strings"

// Instrument is a tradable symbol plus the price-feed channel that streams it.
type Instrument struct {
	Symbol  string `json:"symbol" yaml:"symbol"`
	Channel string `json:"channel" yaml:"channel"`
}

// Key is the persistence key for per-instrument snapshots.
func (i Instrument) Key() string { return i.Symbol }

// IsZero reports whether no instrument has been selected.
func (i Instrument) IsZero() bool { return i.Symbol == "" }

// CanonicalSymbol normalizes a symbol so that feed names, ticker names and
// position symbols compare equal: "Crypto.BTC/USD", "BINANCE:btc-usd" and
// "BTCUSD" all become "BTCUSD".
func CanonicalSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, ":."); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	return strings.ToUpper(s)
}
