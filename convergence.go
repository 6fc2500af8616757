package rollcore

import (
	"math"
	"reflect"
)

// sample is one root hook reading of an iteration.
type sample struct {
	name  string
	value any
	ok    bool
}

// WithinPrecision reports whether cur is within the relative precision of prev:
// |cur-prev| <= |prev|*precision.
func WithinPrecision(prev, cur, precision float64) bool {
	return math.Abs(cur-prev) <= math.Abs(prev)*precision
}

// compare checks the readings of two consecutive iterations elementwise and
// returns the names of those that still moved.
func compare(prev, cur []sample, precision float64) (bool, []string) {
	var moving []string
	if len(prev) != len(cur) {
		for _, s := range cur {
			moving = append(moving, s.name)
		}
		return false, moving
	}

	for i := range cur {
		p, c := prev[i], cur[i]
		switch {
		case p.name != c.name || p.ok != c.ok:
			moving = append(moving, c.name)
		case !c.ok:
			// still unavailable
		case !sameValue(p.value, c.value, precision):
			moving = append(moving, c.name)
		}
	}
	return len(moving) == 0, moving
}

func sameValue(prev, cur any, precision float64) bool {
	p, ok1 := toFloat(prev)
	c, ok2 := toFloat(cur)
	if ok1 && ok2 {
		return WithinPrecision(p, c, precision)
	}
	return reflect.DeepEqual(prev, cur)
}
