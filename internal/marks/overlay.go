package marks

import (
	"strings"

	"ChartBridge/internal/model"
)

// OverlayPrefix marks chart entities injected by this package. Entities
// carrying it are never captured as user annotations.
const OverlayPrefix = "__overlay:"

const colorLiquidation = "#ff9800"

// Overlay is a programmatic horizontal line drawn over the chart.
type Overlay struct {
	Name  string
	Price float64
	Color string
	Text  string
}

// IsOverlay reports whether an entity name or text was produced here.
func IsOverlay(s string) bool {
	return strings.HasPrefix(s, OverlayPrefix)
}

// LiquidationLines returns one line per active position on instrument with
// a known liquidation price, if the preference is enabled.
func LiquidationLines(instrument model.Instrument, positions []model.Position, prefs model.Preferences) []Overlay {
	if !prefs.ShowAllActivePositionsLiquidationLines {
		return nil
	}
	want := model.CanonicalSymbol(instrument.Symbol)
	var out []Overlay
	for _, p := range positions {
		if p.LiquidationPrice <= 0 || model.CanonicalSymbol(p.InstrumentSymbol) != want {
			continue
		}
		out = append(out, Overlay{
			Name:  OverlayPrefix + "liquidation:" + p.ID,
			Price: p.LiquidationPrice,
			Color: colorLiquidation,
			Text:  OverlayPrefix + "Liq. " + string(p.Side),
		})
	}
	return out
}
