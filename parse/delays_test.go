package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
)

func TestParseDelays(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		delays  []model.DelayEvent
		err     bool
	}{
		{
			"two events",
			`
service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
2025-11-01,t1,s1,r1,08:00:00,08:07:00,7,signal_failure
2025-11-01,t2,s2,r1,25:30:00,25:28:00,-2,early_departure`,
			[]model.DelayEvent{
				{
					ServiceDate:    "2025-11-01",
					TripID:         "t1",
					StopID:         "s1",
					RouteID:        "r1",
					PlannedArrival: "08:00:00",
					ActualArrival:  "08:07:00",
					DelayMinutes:   7,
					Reason:         "signal_failure",
				},
				{
					ServiceDate:    "2025-11-01",
					TripID:         "t2",
					StopID:         "s2",
					RouteID:        "r1",
					PlannedArrival: "25:30:00",
					ActualArrival:  "25:28:00",
					DelayMinutes:   -2,
					Reason:         "early_departure",
				},
			},
			false,
		},

		{
			"header only",
			`service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason`,
			[]model.DelayEvent{},
			false,
		},

		{
			"bad service date",
			`
service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
20251101,t1,s1,r1,08:00:00,08:07:00,7,signal_failure`,
			nil,
			true,
		},

		{
			"non integer delay",
			`
service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
2025-11-01,t1,s1,r1,08:00:00,08:07:00,seven,signal_failure`,
			nil,
			true,
		},

		{
			"malformed planned arrival",
			`
service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
2025-11-01,t1,s1,r1,8am,08:07:00,7,signal_failure`,
			nil,
			true,
		},

		{
			"missing route",
			`
service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
2025-11-01,t1,s1,,08:00:00,08:07:00,7,signal_failure`,
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			delays, err := ParseDelays(bytes.NewBufferString(tc.content))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.delays, delays)
		})
	}
}
