package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

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

func TestRunMain(t *testing.T) {
	dtedName := testDTED.WriteFile(t)
	geoTIFFName := (&highpointtest.GeoTIFF{
		Rows:       [][]int16{{1, 2}, {3, 4}},
		PixelScale: [2]float64{0.5, 0.5},
		Tiepoint:   [2]float64{-3, 58},
	}).WriteFile(t)
	noGeoTransformName := (&highpointtest.GeoTIFF{
		Rows:             [][]int16{{1, 2, 3}},
		NoGeoreferencing: true,
	}).WriteFile(t)
	missingName := filepath.Join(t.TempDir(), "missing.dt1")

	for _, tc := range []struct {
		name             string
		args             []string
		expectedExitCode int
		expectedStdout   string
		expectedStderr   string
	}{
		{
			name:             "dted",
			args:             []string{dtedName},
			expectedExitCode: 0,
			expectedStdout: "" +
				"width: 4\n" +
				"height: 3\n" +
				"Longitude: 86.375\n" +
				"Latitude: 27.375\n" +
				"Highest point:\n" +
				"Elevation: 8848 meters\n" +
				"Location: 27.375°N, 86.375°E\n",
		},
		{
			name:             "geotiff",
			args:             []string{"-driver", "geotiff", geoTIFFName},
			expectedExitCode: 0,
			expectedStdout: "" +
				"width: 2\n" +
				"height: 2\n" +
				"Longitude: -2.5\n" +
				"Latitude: 57.5\n" +
				"Highest point:\n" +
				"Elevation: 4 meters\n" +
				"Location: 57.5°N, -2.5°E\n",
		},
		{
			name:             "no_args",
			args:             []string{},
			expectedExitCode: 1,
			expectedStderr:   "Usage: highpoint <dted_filename>\n",
		},
		{
			name:             "too_many_args",
			args:             []string{dtedName, dtedName},
			expectedExitCode: 1,
			expectedStderr:   "Usage: highpoint <dted_filename>\n",
		},
		{
			name:             "missing",
			args:             []string{missingName},
			expectedExitCode: 1,
			expectedStderr:   "Failed to open DTED file: " + missingName + "\n",
		},
		{
			name:             "wrong_driver",
			args:             []string{"-driver", "dted", geoTIFFName},
			expectedExitCode: 1,
			expectedStderr:   "Failed to open DTED file: " + geoTIFFName + "\n",
		},
		{
			name:             "no_geotransform",
			args:             []string{noGeoTransformName},
			expectedExitCode: 1,
			expectedStdout:   "width: 3\nheight: 1\n",
			expectedStderr:   "Failed to get geotransform\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			args := append([]string{"highpoint"}, tc.args...)
			actualExitCode := runMain(t.Context(), args, stdout, stderr)
			assert.Equal(t, tc.expectedExitCode, actualExitCode)
			assert.Equal(t, tc.expectedStdout, stdout.String())
			assert.Equal(t, tc.expectedStderr, stderr.String())
		})
	}
}

func TestRunMain_MetricsTextfile(t *testing.T) {
	metricsTextfile := filepath.Join(t.TempDir(), "highpoint.prom")
	t.Setenv("HIGHPOINT_METRICS_TEXTFILE", metricsTextfile)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	assert.Equal(t, 0, runMain(t.Context(), []string{"highpoint", testDTED.WriteFile(t)}, stdout, stderr))
	assert.Equal(t, "", stderr.String())

	metrics, err := os.ReadFile(metricsTextfile)
	assert.NoError(t, err)
	assert.Contains(t, string(metrics), `highpoint_scans_total{outcome="success"}`)
	assert.Contains(t, string(metrics), "highpoint_rows_read_total")
}

func TestRunMain_Flags(t *testing.T) {
	stderr := &bytes.Buffer{}
	assert.Equal(t, 2, runMain(t.Context(), []string{"highpoint", "-no-such-flag", "x.dt1"}, &bytes.Buffer{}, stderr))
	assert.Contains(t, stderr.String(), "-no-such-flag")

	stderr.Reset()
	assert.Equal(t, 1, runMain(t.Context(), []string{"highpoint", "-log-level", "loud", "x.dt1"}, &bytes.Buffer{}, stderr))
	assert.NotEqual(t, "", stderr.String())
}

func TestRunMain_Help(t *testing.T) {
	stderr := &bytes.Buffer{}
	assert.Equal(t, 0, runMain(t.Context(), []string{"highpoint", "-h"}, &bytes.Buffer{}, stderr))
	assert.Contains(t, stderr.String(), "Usage of highpoint")
	assert.Contains(t, stderr.String(), "-verify-checksum")
}

func TestRunMain_BadConfigFile(t *testing.T) {
	dtedName := testDTED.WriteFile(t)
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "highpoint.yaml"), []byte("driver: [dted\n"), 0o666))
	t.Chdir(dir)

	stderr := &bytes.Buffer{}
	assert.Equal(t, 1, runMain(t.Context(), []string{"highpoint"}, &bytes.Buffer{}, stderr))
	assert.Equal(t, "Usage: highpoint <dted_filename>\n", stderr.String())

	stdout := &bytes.Buffer{}
	stderr.Reset()
	assert.Equal(t, 1, runMain(t.Context(), []string{"highpoint", dtedName}, stdout, stderr))
	assert.Equal(t, "", stdout.String())
	assert.Contains(t, stderr.String(), "failed to read config file")
}

func TestRunMain_VerifyChecksum(t *testing.T) {
	dtedName := (&highpointtest.DTED{
		LonOrigin:    testDTED.LonOrigin,
		LatOrigin:    testDTED.LatOrigin,
		LonInterval:  testDTED.LonInterval,
		LatInterval:  testDTED.LatInterval,
		Rows:         testDTED.Rows,
		BadChecksums: []int{3},
	}).WriteFile(t)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	assert.Equal(t, 0, runMain(t.Context(), []string{"highpoint", dtedName}, stdout, stderr))
	assert.Contains(t, stdout.String(), "Elevation: 8848 meters\n")
	assert.Equal(t, "", stderr.String())

	stdout.Reset()
	assert.Equal(t, 0, runMain(t.Context(), []string{"highpoint", "-verify-checksum", dtedName}, stdout, stderr))
	assert.Equal(t, ""+
		"width: 4\n"+
		"height: 3\n"+
		"Longitude: 85.875\n"+
		"Latitude: 27.625\n"+
		"Highest point:\n"+
		"Elevation: -1.79769e+308 meters\n"+
		"Location: 27.625°N, 85.875°E\n", stdout.String())
	assert.Contains(t, stderr.String(), "no samples read")
}
