package docdb

import "github.com/prometheus/client_golang/prometheus"

// Label values of insertsTotal.
const (
	metricsFail = "fail"
	metricsOk   = "ok"
)

var (
	insertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docdb_inserts_total",
		Help: "Cumulative number of document inserts, by outcome.",
	}, []string{"status"})
	rowsScannedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_rows_scanned_total",
		Help: "Cumulative number of rows read while evaluating queries.",
	})
	blobDecodesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_blob_decodes_total",
		Help: "Cumulative number of document blobs decoded.",
	})
	blobDecodesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_blob_decodes_skipped_total",
		Help: "Cumulative number of rows rejected from promoted columns alone, without decoding the blob.",
	})
	indexScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_index_scans_total",
		Help: "Cumulative number of queries answered with an index equality scan.",
	})
	backfilledRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_backfilled_rows_total",
		Help: "Cumulative number of rows rewritten to populate newly promoted columns.",
	})
	columnsAddedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_columns_added_total",
		Help: "Cumulative number of promoted columns added.",
	})
	indexCacheLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docdb_index_cache_loads_total",
		Help: "Cumulative number of index cache entries loaded from storage metadata.",
	})
)

// Collectors returns the metrics of this package for registration with a
// prometheus.Registerer.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		insertsTotal,
		rowsScannedTotal,
		blobDecodesTotal,
		blobDecodesSkippedTotal,
		indexScansTotal,
		backfilledRowsTotal,
		columnsAddedTotal,
		indexCacheLoads,
	}
}
