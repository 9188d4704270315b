package datafeed

import (
	"errors"

	"ChartBridge/internal/model"
)

// ErrSymbolNotFound is reported when the shim does not know a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Status tags every feed result handed to the widget.
type Status int

const (
	StatusOK Status = iota
	StatusNoData
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no_data"
	default:
		return "error"
	}
}

// Config is the datafeed configuration handed to the widget on ready.
type Config struct {
	SupportedResolutions   []model.Resolution `json:"supported_resolutions"`
	Exchanges              []Exchange         `json:"exchanges,omitempty"`
	SymbolsTypes           []SymbolType       `json:"symbols_types,omitempty"`
	SupportsMarks          bool               `json:"supports_marks"`
	SupportsTimescaleMarks bool               `json:"supports_timescale_marks"`
	SupportsTime           bool               `json:"supports_time"`
	SupportsSearch         bool               `json:"supports_search"`
	SupportsGroupRequest   bool               `json:"supports_group_request"`
}

type Exchange struct {
	Value string `json:"value"`
	Name  string `json:"name"`
	Desc  string `json:"desc"`
}

type SymbolType struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SymbolMatch is one search hit.
type SymbolMatch struct {
	Symbol      string `json:"symbol"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Ticker      string `json:"ticker"`
	Type        string `json:"type"`
}

// SymbolInfo is the resolved descriptor of a symbol.
type SymbolInfo struct {
	Name                 string             `json:"name"`
	Ticker               string             `json:"ticker"`
	Description          string             `json:"description"`
	Type                 string             `json:"type"`
	Exchange             string             `json:"exchange"`
	ListedExchange       string             `json:"listed_exchange"`
	Timezone             string             `json:"timezone"`
	Session              string             `json:"session"`
	Minmov               float64            `json:"minmov"`
	Pricescale           float64            `json:"pricescale"`
	HasIntraday          bool               `json:"has_intraday"`
	HasDaily             bool               `json:"has_daily"`
	HasWeeklyAndMonthly  bool               `json:"has_weekly_and_monthly"`
	SupportedResolutions []model.Resolution `json:"supported_resolutions"`
	VolumePrecision      int                `json:"volume_precision"`
	DataStatus           string             `json:"data_status"`
}

// ResolveResult is the tagged outcome of ResolveSymbol. StatusNoData means
// the symbol is unknown.
type ResolveResult struct {
	Status Status
	Symbol SymbolInfo
	Err    error
}

// PeriodParams is the window requested by the widget, in epoch seconds.
type PeriodParams struct {
	From         int64
	To           int64
	FirstRequest bool
}

// BarsResult is the tagged outcome of GetBars.
type BarsResult struct {
	Status   Status
	Bars     []model.Bar
	NextTime int64
	Err      error
}

func barsError(err error) BarsResult   { return BarsResult{Status: StatusError, Err: err} }
func noData(nextTime int64) BarsResult { return BarsResult{Status: StatusNoData, NextTime: nextTime} }

// historyResponse is the shim's history payload: parallel arrays of epoch
// seconds and OHLCV values plus a status flag.
type historyResponse struct {
	S        string    `json:"s"`
	Errmsg   string    `json:"errmsg"`
	NextTime int64     `json:"nextTime"`
	T        []int64   `json:"t"`
	O        []float64 `json:"o"`
	H        []float64 `json:"h"`
	L        []float64 `json:"l"`
	C        []float64 `json:"c"`
	V        []float64 `json:"v"`
}
