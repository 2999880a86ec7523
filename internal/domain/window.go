package domain

import (
	"fmt"
	"time"
)

// Window is a wall-clock aligned aggregation bucket.
type Window string

const (
	Window1h  Window = "1h"
	Window6h  Window = "6h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// AggregationWindows are the windows the aggregator folds raw events into.
// 7d and 30d exist only as detector threshold tiers.
var AggregationWindows = []Window{Window1h, Window6h, Window24h}

var windowDurations = map[Window]time.Duration{
	Window1h:  time.Hour,
	Window6h:  6 * time.Hour,
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

// ParseWindow validates a window label.
func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if _, ok := windowDurations[w]; !ok {
		return "", fmt.Errorf("unknown window %q", s)
	}
	return w, nil
}

func (w Window) Valid() bool {
	_, ok := windowDurations[w]
	return ok
}

func (w Window) Duration() time.Duration {
	return windowDurations[w]
}

// AlignStart truncates t to the window boundary in UTC.
// 1h aligns to the top of the hour, 6h to 00/06/12/18, 24h to midnight.
func (w Window) AlignStart(t time.Time) time.Time {
	return t.UTC().Truncate(w.Duration())
}

// Next returns the start of the window following the one containing t.
func (w Window) Next(t time.Time) time.Time {
	return w.AlignStart(t).Add(w.Duration())
}

// Contains reports whether t falls in [start, start+duration).
func (w Window) Contains(start, t time.Time) bool {
	t = t.UTC()
	return !t.Before(start) && t.Before(start.Add(w.Duration()))
}
