package widget

import (
	"context"
	"errors"

	"ChartBridge/internal/datafeed"
	"ChartBridge/internal/model"
	"ChartBridge/internal/streaming"
)

var (
	// ErrUnavailable means the host container or the widget library is
	// missing, so no widget can be built.
	ErrUnavailable = errors.New("chart widget unavailable")
	// ErrNoInstance is returned by operations that need a live widget.
	ErrNoInstance = errors.New("no chart widget instance")
	// ErrStale is returned when a construction was superseded by a reload.
	ErrStale = errors.New("widget construction superseded")
	// ErrEntityNotFound is returned by RemoveEntity for unknown IDs.
	ErrEntityNotFound = errors.New("entity not found")
)

// EventKind names a widget change event.
type EventKind int

const (
	EventDrawing EventKind = iota
	EventStudy
	EventBar
)

func (k EventKind) String() string {
	switch k {
	case EventDrawing:
		return "drawing_event"
	case EventStudy:
		return "study_event"
	case EventBar:
		return "bar_event"
	default:
		return "unknown_event"
	}
}

// Widget is a chart widget instance.
type Widget interface {
	// OnReady registers fn to run once the widget has finished
	// initializing. fn runs at most once.
	OnReady(fn func())
	// SetSymbol switches the displayed symbol and calls done when the
	// switch has completed.
	SetSymbol(symbol string, res model.Resolution, done func())
	ApplyOverrides(overrides map[string]any)
	// Subscribe registers fn for events of kind and returns a func that
	// removes it.
	Subscribe(kind EventKind, fn func()) (cancel func())

	Shapes() []model.DrawingRecord
	CreateShape(rec model.DrawingRecord) (string, error)
	Studies() []model.StudyRecord
	CreateStudy(rec model.StudyRecord) (string, error)
	RemoveEntity(id string) error

	// Remove destroys the widget and releases its subscriptions.
	Remove()
}

// Datafeed is what a widget pulls data from.
type Datafeed interface {
	OnReady(cb func(datafeed.Config))
	ResolveSymbol(ctx context.Context, name string) datafeed.ResolveResult
	GetBars(ctx context.Context, inst model.Instrument, res model.Resolution, p datafeed.PeriodParams) datafeed.BarsResult
	GetMarks(inst model.Instrument, from, to int64, res model.Resolution) []model.Mark
	SubscribeBars(inst model.Instrument, res model.Resolution, handler streaming.Handler, subscriberID string, onReset func()) string
	UnsubscribeBars(subscriberID string)
}

// Options are the construction parameters of a widget.
type Options struct {
	Container   string
	LibraryPath string
	Symbol      string
	Resolution  model.Resolution
	Timezone    string
	Datafeed    Datafeed
}

// Factory builds widgets.
type Factory interface {
	New(opts Options) (Widget, error)
}

// DefaultOverrides is the fixed set of visual and behavioral overrides
// applied to every new widget.
func DefaultOverrides() map[string]any {
	return map[string]any{
		"paneProperties.background":                        "#131722",
		"paneProperties.backgroundType":                    "solid",
		"paneProperties.vertGridProperties.color":          "#1e222d",
		"paneProperties.horzGridProperties.color":          "#1e222d",
		"paneProperties.legendProperties.showSeriesOHLC":   true,
		"scalesProperties.textColor":                       "#b2b5be",
		"scalesProperties.showSeriesLastValue":             true,
		"mainSeriesProperties.style":                       1,
		"mainSeriesProperties.candleStyle.upColor":         "#22ab94",
		"mainSeriesProperties.candleStyle.downColor":       "#f7525f",
		"mainSeriesProperties.candleStyle.borderUpColor":   "#22ab94",
		"mainSeriesProperties.candleStyle.borderDownColor": "#f7525f",
		"mainSeriesProperties.candleStyle.wickUpColor":     "#22ab94",
		"mainSeriesProperties.candleStyle.wickDownColor":   "#f7525f",
		"mainSeriesProperties.showCountdown":               true,
		"tradingProperties.showOrderPrice":                 true,
		"tradingProperties.positionPL.visibility":          true,
		"timeScale.rightOffset":                            5,
	}
}
