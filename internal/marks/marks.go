package marks

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ChartBridge/internal/model"

	"github.com/google/uuid"
)

// Visual size range for position marks.
const (
	MinSize = 12.0
	MaxSize = 25.0
)

const (
	ColorProfit = "#22ab94"
	ColorLoss   = "#f7525f"
)

// Mode selects which timestamp of a position a mark is anchored to.
type Mode int

const (
	// ModeHistory anchors closed positions at their close time.
	ModeHistory Mode = iota
	// ModeActive anchors open positions at their open time.
	ModeActive
)

func (m Mode) String() string {
	if m == ModeActive {
		return "active"
	}
	return "history"
}

var now = time.Now

// PositionSource supplies position records from the surrounding application.
type PositionSource interface {
	Active() []model.Position
	History() []model.Position
}

// ComputeMarks turns position records into size-normalized markers for one
// instrument. When neither history nor active marks are enabled it returns
// an empty slice without looking at records.
func ComputeMarks(mode Mode, instrument model.Instrument, records []model.Position, prefs model.Preferences) []model.Mark {
	if !prefs.ShowPositionHistory && !prefs.ShowAllActivePositions {
		return []model.Mark{}
	}

	want := model.CanonicalSymbol(instrument.Symbol)
	filtered := make([]model.Position, 0, len(records))
	for _, r := range records {
		if model.CanonicalSymbol(r.InstrumentSymbol) == want {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return []model.Mark{}
	}

	minAbs, maxAbs := math.Inf(1), math.Inf(-1)
	for _, r := range filtered {
		v := math.Abs(r.PnLValue())
		minAbs = math.Min(minAbs, v)
		maxAbs = math.Max(maxAbs, v)
	}

	marks := make([]model.Mark, 0, len(filtered))
	for _, r := range filtered {
		var at time.Time
		switch mode {
		case ModeHistory:
			if r.CloseTime == nil || r.CloseTime.IsZero() {
				continue
			}
			at = *r.CloseTime
		default:
			if r.OpenTime == nil || r.OpenTime.IsZero() {
				at = now()
			} else {
				at = *r.OpenTime
			}
		}

		pnl := r.PnLValue()
		color := ColorProfit
		if pnl < 0 {
			color = ColorLoss
		}
		label := "L"
		if r.Side == model.SideShort {
			label = "S"
		}

		marks = append(marks, model.Mark{
			ID:    markID(mode, r),
			Time:  at.Unix(),
			Color: color,
			Label: label,
			Size:  NormalizeSize(math.Abs(pnl), minAbs, maxAbs),
			Text:  markText(mode, r, pnl),
		})
	}
	return marks
}

// NormalizeSize maps v from [lo, hi] linearly into [MinSize, MaxSize].
// An empty range maps everything to the midpoint.
func NormalizeSize(v, lo, hi float64) float64 {
	if hi == lo {
		return (MinSize + MaxSize) / 2
	}
	pos := (v - lo) / (hi - lo)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return MinSize + pos*(MaxSize-MinSize)
}

// Collect gathers history and active marks for instrument, reading each
// source only when its preference is enabled.
func Collect(instrument model.Instrument, src PositionSource, prefs model.Preferences) []model.Mark {
	out := []model.Mark{}
	if src == nil {
		return out
	}
	if prefs.ShowPositionHistory {
		out = append(out, ComputeMarks(ModeHistory, instrument, src.History(), prefs)...)
	}
	if prefs.ShowAllActivePositions {
		out = append(out, ComputeMarks(ModeActive, instrument, src.Active(), prefs)...)
	}
	return out
}

func markID(mode Mode, r model.Position) string {
	if r.ID == "" {
		return mode.String() + "-" + uuid.NewString()
	}
	return mode.String() + "-" + r.ID
}

func markText(mode Mode, r model.Position, pnl float64) string {
	side := "Long"
	if r.Side == model.SideShort {
		side = "Short"
	}
	verb := "Closed"
	if mode == ModeActive {
		verb = "Opened"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %g", verb, side, r.Size))
	if r.PnL != nil {
		b.WriteString(fmt.Sprintf(" | PnL %+.2f", pnl))
	}
	return b.String()
}
