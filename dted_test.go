package highpoint_test

import (
	"bytes"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-highpoint"
	"github.com/twpayne/go-highpoint/highpointtest"
)

var testDTED = &highpointtest.DTED{
	LonOrigin:   "0860000E",
	LatOrigin:   "0270000N",
	LonInterval: 9000,
	LatInterval: 9000,
	Rows: [][]int16{
		{100, 200, 300, -5},
		{400, 500, 8848, 600},
		{-10, 700, 800, 900},
	},
}

func TestDTEDDataset(t *testing.T) {
	fsys := fstest.MapFS{
		"n27_e086.dt1": &fstest.MapFile{Data: testDTED.Bytes()},
	}
	dataset, err := highpoint.Open(t.Context(), "n27_e086.dt1",
		highpoint.WithFS(fsys),
		highpoint.WithVerifyChecksum(true),
	)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, dataset.Close())
	}()
	assert.True(t, isDTED(dataset))

	geoTransform, err := dataset.GeoTransform()
	assert.NoError(t, err)
	assert.Equal(t, highpoint.GeoTransform{85.875, 0.25, 0, 27.625, 0, -0.25}, geoTransform)

	_, err = dataset.RasterBand(2)
	assert.IsError(t, err, highpoint.ErrNoBand)

	band, err := dataset.RasterBand(1)
	assert.NoError(t, err)
	width, height := band.Size()
	assert.Equal(t, 4, width)
	assert.Equal(t, 3, height)

	buf := make([]int16, width)
	for row, expected := range testDTED.Rows {
		assert.NoError(t, band.ReadRow(t.Context(), row, buf))
		assert.Equal(t, expected, buf)
	}

	assert.Error(t, band.ReadRow(t.Context(), 3, buf))
	assert.Error(t, band.ReadRow(t.Context(), 0, make([]int16, 2)))
}

func TestDTEDDataset_FindHighestPoint(t *testing.T) {
	for _, tc := range []struct {
		name        string
		dted        *highpointtest.DTED
		openOptions []highpoint.OpenOption
		expected    *highpoint.Result
	}{
		{
			name: "simple",
			dted: testDTED,
			expected: &highpoint.Result{
				Width:        4,
				Height:       3,
				MaxElevation: 8848,
				Column:       2,
				Row:          1,
				Longitude:    86.375,
				Latitude:     27.375,
				RowsRead:     3,
			},
		},
		{
			name: "southern_western",
			dted: &highpointtest.DTED{
				LonOrigin:   "0710000W",
				LatOrigin:   "0330000S",
				LonInterval: 4500,
				LatInterval: 4500,
				Rows: [][]int16{
					{6961, 6000},
					{5000, 4000},
				},
				TapeLabels: true,
			},
			expected: &highpoint.Result{
				Width:        2,
				Height:       2,
				MaxElevation: 6961,
				Longitude:    -71.0625,
				Latitude:     -32.8125,
				RowsRead:     2,
			},
		},
		{
			name: "bad_checksum",
			dted: &highpointtest.DTED{
				LonOrigin:    "0000000E",
				LatOrigin:    "0000000N",
				LonInterval:  9000,
				LatInterval:  9000,
				Rows:         [][]int16{{1, 2}, {3, 4}},
				BadChecksums: []int{1},
			},
			expected: &highpoint.Result{
				Width:        2,
				Height:       2,
				MaxElevation: 4,
				Column:       1,
				Row:          1,
				Longitude:    0.125,
				Latitude:     0.125,
				RowsRead:     2,
			},
		},
		{
			name: "bad_checksum_verified",
			dted: &highpointtest.DTED{
				LonOrigin:    "0000000E",
				LatOrigin:    "0000000N",
				LonInterval:  9000,
				LatInterval:  9000,
				Rows:         [][]int16{{1, 2}, {3, 4}},
				BadChecksums: []int{1},
			},
			openOptions: []highpoint.OpenOption{
				highpoint.WithVerifyChecksum(true),
			},
			expected: &highpoint.Result{
				Width:        2,
				Height:       2,
				MaxElevation: -1.7976931348623157e+308,
				Longitude:    -0.125,
				Latitude:     0.375,
				RowsSkipped:  2,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			name := tc.dted.WriteFile(t)
			stdout := &bytes.Buffer{}
			finder := highpoint.NewFinder(
				highpoint.WithStdout(stdout),
				highpoint.WithOpenOptions(tc.openOptions...),
			)
			actual, err := finder.FindHighestPoint(t.Context(), name)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestDTEDFixture_FieldOverflow(t *testing.T) {
	dted := &highpointtest.DTED{
		LonOrigin:   "0860000E",
		LatOrigin:   "0270000N",
		LonInterval: 36000,
		LatInterval: 9000,
		Rows:        [][]int16{{1}},
	}
	assert.Panics(t, func() {
		dted.Bytes()
	})
}

func isDTED(dataset highpoint.Dataset) bool {
	_, ok := dataset.(*highpoint.DTEDDataset)
	return ok
}
