package delay

import (
	"math"
	"math/rand/v2"
)

// Delay category of a synthesized event. The category alone decides
// how the delay magnitude and reason are drawn.
type Category int

const (
	OnTime Category = iota
	SmallDelay
	BigDelay
	Early

	numCategories
)

type Reason string

const (
	ReasonOnTime              Reason = "on_time"
	ReasonVehicleLate         Reason = "vehicle_late"
	ReasonConnectionWait      Reason = "connection_wait"
	ReasonSignalFailure       Reason = "signal_failure"
	ReasonInfrastructureIssue Reason = "infrastructure_issue"
	ReasonCongestion          Reason = "congestion"
	ReasonEarlyDeparture      Reason = "early_departure"
)

type categorySpec struct {
	name   string
	weight float64

	// Inclusive bounds of the delay in minutes.
	min, max int

	magnitude func(r *rand.Rand) int
	reasons   []Reason
}

var categories = [numCategories]categorySpec{
	OnTime: {
		name:   "on_time",
		weight: 0.60,
		min:    -2,
		max:    3,
		magnitude: func(r *rand.Rand) int {
			d := math.Max(-2, math.Min(3, r.NormFloat64()))
			return int(math.RoundToEven(d))
		},
		reasons: []Reason{ReasonOnTime},
	},
	SmallDelay: {
		name:   "small_delay",
		weight: 0.25,
		min:    1,
		max:    5,
		magnitude: func(r *rand.Rand) int {
			return 1 + r.IntN(5)
		},
		reasons: []Reason{ReasonVehicleLate, ReasonConnectionWait},
	},
	BigDelay: {
		name:   "big_delay",
		weight: 0.10,
		min:    5,
		max:    20,
		magnitude: func(r *rand.Rand) int {
			return 5 + r.IntN(16)
		},
		reasons: []Reason{ReasonSignalFailure, ReasonInfrastructureIssue, ReasonCongestion},
	},
	Early: {
		name:   "early",
		weight: 0.05,
		min:    -5,
		max:    -1,
		magnitude: func(r *rand.Rand) int {
			return -(1 + r.IntN(5))
		},
		reasons: []Reason{ReasonEarlyDeparture},
	},
}

var categoryByReason = func() map[Reason]Category {
	m := map[Reason]Category{}
	for c := Category(0); c < numCategories; c++ {
		for _, reason := range categories[c].reasons {
			m[reason] = c
		}
	}
	return m
}()

// All categories, in draw table order.
func Categories() []Category {
	all := make([]Category, numCategories)
	for i := range all {
		all[i] = Category(i)
	}
	return all
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "unknown"
	}
	return categories[c].name
}

// Probability of drawing this category.
func (c Category) Weight() float64 {
	return categories[c].weight
}

// Inclusive range of delay minutes this category can produce.
func (c Category) Bounds() (int, int) {
	return categories[c].min, categories[c].max
}

// Reason codes this category can produce.
func (c Category) Reasons() []Reason {
	return append([]Reason(nil), categories[c].reasons...)
}

// Maps a reason code back to the category that produced it. Each
// reason belongs to exactly one category.
func CategoryOf(reason string) (Category, bool) {
	c, ok := categoryByReason[Reason(reason)]
	return c, ok
}

func drawCategory(r *rand.Rand) Category {
	u := r.Float64()
	cum := 0.0
	for c := Category(0); c < numCategories; c++ {
		cum += categories[c].weight
		if u < cum {
			return c
		}
	}
	// Float rounding in the cumulative sum.
	return numCategories - 1
}
