package highpoint

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/twpayne/go-highpoint/highpointtest"
)

func TestMetrics(t *testing.T) {
	dted := &highpointtest.DTED{
		LonOrigin:    "0060000E",
		LatOrigin:    "0450000N",
		LonInterval:  9000,
		LatInterval:  9000,
		Rows:         [][]int16{{1, 2}, {3, 4}, {5, 6}},
		BadChecksums: []int{0},
	}
	name := dted.WriteFile(t)

	rowsSkippedBefore := testutil.ToFloat64(rowsSkipped)
	successesBefore := testutil.ToFloat64(scans.WithLabelValues("success"))
	missesBefore := testutil.ToFloat64(blockCacheMisses.WithLabelValues(DriverDTED))
	hitsBefore := testutil.ToFloat64(blockCacheHits.WithLabelValues(DriverDTED))

	finder := NewFinder(WithOpenOptions(WithVerifyChecksum(true)))
	result, err := finder.FindHighestPoint(t.Context(), name)
	assert.NoError(t, err)
	assert.False(t, result.Found())
	assert.Equal(t, 3, result.RowsSkipped)

	assert.Equal(t, 3, testutil.ToFloat64(rowsSkipped)-rowsSkippedBefore)
	assert.Equal(t, 1, testutil.ToFloat64(scans.WithLabelValues("success"))-successesBefore)
	assert.Equal(t, 1, testutil.ToFloat64(blockCacheMisses.WithLabelValues(DriverDTED))-missesBefore)
	assert.Equal(t, 2, testutil.ToFloat64(blockCacheHits.WithLabelValues(DriverDTED))-hitsBefore)

	openFailuresBefore := testutil.ToFloat64(scans.WithLabelValues("open_failure"))
	_, err = NewFinder().FindHighestPoint(t.Context(), name+".missing")
	assert.IsError(t, err, ErrOpen)
	assert.Equal(t, 1, testutil.ToFloat64(scans.WithLabelValues("open_failure"))-openFailuresBefore)
}
