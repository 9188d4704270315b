package model

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is an open position or a closed position-history record supplied
// by the surrounding application. Pointer fields are optional on the wire.
type Position struct {
	ID               string     `json:"id"`
	InstrumentSymbol string     `json:"instrumentSymbol"`
	Side             Side       `json:"side"`
	PnL              *float64   `json:"pnl,omitempty"`
	OpenTime         *time.Time `json:"openTime,omitempty"`
	CloseTime        *time.Time `json:"closeTime,omitempty"`
	Size             float64    `json:"size"`
	EntryPrice       float64    `json:"entryPrice,omitempty"`
	LiquidationPrice float64    `json:"liquidationPrice,omitempty"`
}

// PnLValue returns the pnl, treating a missing value as 0.
func (p Position) PnLValue() float64 {
	if p.PnL == nil {
		return 0
	}
	return *p.PnL
}

// Preferences are the chart toggles controlled by the surrounding UI.
type Preferences struct {
	ShowPositionHistory                    bool `json:"showPositionHistory"`
	ShowAllActivePositions                 bool `json:"showAllActivePositions"`
	ShowAllActivePositionsLiquidationLines bool `json:"showAllActivePositionsLiquidationLines"`
	UpdateTPSLByDrag                       bool `json:"updateTPSLByDrag"`
}

// Mark is a visual marker placed on the time axis. Time is in epoch seconds.
type Mark struct {
	ID    string  `json:"id"`
	Time  int64   `json:"time"`
	Color string  `json:"color"`
	Label string  `json:"label"`
	Size  float64 `json:"minSize"`
	Text  string  `json:"text"`
}
