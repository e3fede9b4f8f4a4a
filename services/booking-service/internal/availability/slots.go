package availability

import (
	"iter"
	"sort"
	"time"
)

// Slots yields every [t, t+duration) that fits inside the open time and overlaps no
// busy interval. Touching or overlapping windows are merged first, the same way
// Covers treats them, and each merged opening is walked from its start in step
// increments. step <= 0 means step == duration; duration <= 0 yields nothing.
//
// The sequence is lazy, chronological and can be ranged over more than once.
// Inputs are copied, so later changes by the caller do not affect it.
func Slots(windows, busy []Interval, duration, step time.Duration) iter.Seq[Interval] {
	open := Merge(windows)
	blocked := Merge(busy)
	if step <= 0 {
		step = duration
	}

	return func(yield func(Interval) bool) {
		if duration <= 0 {
			return
		}
		for _, w := range open {
			// first busy interval that ends after the window opens
			bi := sort.Search(len(blocked), func(i int) bool { return blocked[i].End.After(w.Start) })
			for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
				end := t.Add(duration)
				for bi < len(blocked) && !blocked[bi].End.After(t) {
					bi++
				}
				if bi < len(blocked) && blocked[bi].Start.Before(end) {
					continue
				}
				if !yield(Interval{Start: t, End: end}) {
					return
				}
			}
		}
	}
}
