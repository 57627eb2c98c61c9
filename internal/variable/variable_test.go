package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"series_PRECTOT.tif", "PRECTOT"},
		{"outputs_data.tif", "data"},
		{"s3://bucket/job/out/series_PRECCON.tif", "PRECCON"},
		{"MERRA2_400_T2M.tif", "T2M"},
		{"MERRA2_PRECTOT_hourly.tif", "PRECTOT"},
		{"20250401.SST.daily.tif", "SST"},
		{"output_precip.tif", "precip"},
		{"output_2025.tif", "data"},
		{"x_T.tif", "T"},
		{"output.tif", "data"},
		{"", "data"},
		{"s3://bucket/a/MERRA2_400.tavg1_2d_flx_Nx.20250331.zarr/", "MERRA2"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.filename))
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	for _, name := range []string{"series_PRECTOT.tif", "outputs_data.tif", "weird__.tif"} {
		first := Extract(name)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Extract(name))
		}
	}
}

func TestStem(t *testing.T) {
	assert.Equal(t, "series_PRECTOT", Stem("s3://b/x/series_PRECTOT.tif"))
	assert.Equal(t, "granule", Stem("s3://b/x/granule.zarr/"))
	assert.Equal(t, "", Stem(""))
}
