package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/storage"
)

func TestParseTrips(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		routes   map[string]bool
		services map[string]bool
		trips    []model.Trip
		err      bool
	}{
		{
			"minimal",
			`
trip_id,route_id,service_id
t,r,s`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			[]model.Trip{{ID: "t", RouteID: "r", ServiceID: "s"}},
			false,
		},

		{
			"all fields set",
			`
trip_id,route_id,service_id,trip_headsign,direction_id
t,r,s,head,1`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			[]model.Trip{{ID: "t", RouteID: "r", ServiceID: "s", Headsign: "head", DirectionID: 1}},
			false,
		},

		{
			"multiple trips",
			`
trip_id,route_id,service_id,direction_id
t2,r2,s1,1
t1,r1,s2,0`,
			map[string]bool{"r1": true, "r2": true},
			map[string]bool{"s1": true, "s2": true},
			[]model.Trip{
				{ID: "t1", RouteID: "r1", ServiceID: "s2"},
				{ID: "t2", RouteID: "r2", ServiceID: "s1", DirectionID: 1},
			},
			false,
		},

		{
			"repeated trip_id",
			`
trip_id,route_id,service_id
t,r,s
t,r,s`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			nil,
			true,
		},

		{
			"empty trip_id",
			`
trip_id,route_id,service_id
,r,s`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			nil,
			true,
		},

		{
			"unknown route",
			`
trip_id,route_id,service_id
t,r2,s`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			nil,
			true,
		},

		{
			"unknown service",
			`
trip_id,route_id,service_id
t,r,s2`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			nil,
			true,
		},

		{
			"invalid direction_id",
			`
trip_id,route_id,service_id,direction_id
t,r,s,2`,
			map[string]bool{"r": true},
			map[string]bool{"s": true},
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := storage.NewMemoryStorage()
			writer, err := s.GetWriter("test")
			require.NoError(t, err)

			tripIDs, err := ParseTrips(writer, bytes.NewBufferString(tc.content), tc.routes, tc.services)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			expectedIDs := map[string]bool{}
			for _, trip := range tc.trips {
				expectedIDs[trip.ID] = true
			}
			assert.Equal(t, expectedIDs, tripIDs)

			reader, err := s.GetReader("test")
			require.NoError(t, err)
			trips, err := reader.Trips()
			require.NoError(t, err)
			assert.Equal(t, tc.trips, trips)
		})
	}
}
