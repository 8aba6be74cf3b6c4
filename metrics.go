package highpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "highpoint_rows_read_total",
		Help: "The total number of raster rows read",
	})
	rowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "highpoint_rows_skipped_total",
		Help: "The total number of raster rows skipped because they could not be read",
	})
	scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highpoint_scans_total",
		Help: "The total number of scans by outcome",
	}, []string{"outcome"})
	blockCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highpoint_block_cache_hits_total",
		Help: "The total number of hits on the decoded block cache",
	}, []string{"driver"})
	blockCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highpoint_block_cache_misses_total",
		Help: "The total number of misses on the decoded block cache",
	}, []string{"driver"})
	blockCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highpoint_block_cache_evictions_total",
		Help: "The total number of evictions from the decoded block cache",
	}, []string{"driver"})
)
