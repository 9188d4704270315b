package streaming

import "ChartBridge/internal/model"

// Aggregate folds a tick into the bar it belongs to. A tick at or past the
// end of last's period seals last and starts a new bar at the tick's period
// start; otherwise last is extended with open left untouched.
func Aggregate(last *model.Bar, res model.Resolution, tick model.Tick) model.Bar {
	at := tick.At()
	if last == nil {
		return newBar(res, tick)
	}
	next := res.NextPeriod(last.Start())
	if !at.Before(next) {
		return newBar(res, tick)
	}
	bar := *last
	if tick.Price > bar.High {
		bar.High = tick.Price
	}
	if tick.Price < bar.Low {
		bar.Low = tick.Price
	}
	bar.Close = tick.Price
	return bar
}

func newBar(res model.Resolution, tick model.Tick) model.Bar {
	return model.Bar{
		Time:  res.PeriodStart(tick.At()).UnixMilli(),
		Open:  tick.Price,
		High:  tick.Price,
		Low:   tick.Price,
		Close: tick.Price,
	}
}
