package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/storage"
)

func TestParseRoutes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		routes  []model.Route
		err     bool
	}{
		{
			"minimal",
			`
route_id,route_short_name,route_type
r,R,3`,
			[]model.Route{{
				ID:        "r",
				ShortName: "R",
				Type:      model.RouteTypeBus,
				Color:     "FFFFFF",
				TextColor: "000000",
			}},
			false,
		},

		{
			"all fields",
			`
route_id,agency_id,route_short_name,route_long_name,route_type,route_color,route_text_color
r,a,R1,Rodalies 1,2,FF0000,00FF00`,
			[]model.Route{{
				ID:        "r",
				AgencyID:  "a",
				ShortName: "R1",
				LongName:  "Rodalies 1",
				Type:      model.RouteTypeRail,
				Color:     "FF0000",
				TextColor: "00FF00",
			}},
			false,
		},

		{
			"extended route type",
			`
route_id,route_long_name,route_type
r,Regional,106`,
			[]model.Route{{
				ID:        "r",
				LongName:  "Regional",
				Type:      106,
				Color:     "FFFFFF",
				TextColor: "000000",
			}},
			false,
		},

		{
			"no names",
			`
route_id,route_type
r,3`,
			nil,
			true,
		},

		{
			"missing route_type",
			`
route_id,route_short_name
r,R`,
			nil,
			true,
		},

		{
			"illegal route_type",
			`
route_id,route_short_name,route_type
r,R,9`,
			nil,
			true,
		},

		{
			"bad color",
			`
route_id,route_short_name,route_type,route_color
r,R,3,red`,
			nil,
			true,
		},

		{
			"repeated route_id",
			`
route_id,route_short_name,route_type
r,R,3
r,R,3`,
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := storage.NewMemoryStorage()
			writer, err := s.GetWriter("test")
			require.NoError(t, err)

			_, err = ParseRoutes(writer, bytes.NewBufferString(tc.content))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			reader, err := s.GetReader("test")
			require.NoError(t, err)
			routes, err := reader.Routes()
			require.NoError(t, err)
			assert.Equal(t, tc.routes, routes)
		})
	}
}
