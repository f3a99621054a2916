package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FillerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_filler_runs_total",
		Help: "Filler phase executions by filler and phase",
	}, []string{"filler", "phase"})
	FillerFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_filler_fail_total",
		Help: "Filler phase failures by filler and phase",
	}, []string{"filler", "phase"})
	FillerDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gisfill_filler_duration_ms",
		Help:    "Filler phase duration in milliseconds",
		Buckets: []float64{10, 100, 1000, 10000, 60000, 300000, 1800000},
	}, []string{"filler", "phase"})
	FillersSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_fillers_skipped_total",
		Help: "Fillers skipped because their postcondition already held",
	}, []string{"filler"})
	RowsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_rows_written_total",
		Help: "Rows affected by filler writes, by table",
	}, []string{"table"})
	GeocodeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_geocode_requests_total",
		Help: "Geocoder REST requests by backend",
	}, []string{"backend"})
	GeocodeFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_geocode_fail_total",
		Help: "Geocoder REST failures by backend",
	}, []string{"backend"})
	GeocodeDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gisfill_geocode_duration_ms",
		Help:    "Geocoder REST call duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"backend"})
	GeocodeCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_geocode_cache_hits_total",
		Help: "Geocode cache hits by layer (redis, table)",
	}, []string{"layer"})
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gisfill_downloads_total",
		Help: "Source downloads by scheme",
	}, []string{"scheme"})
	ShareViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gisfill_share_violations_total",
		Help: "Child zones whose parent shares do not sum to one",
	})
)

func init() {
	prometheus.MustRegister(FillerRunsTotal)
	prometheus.MustRegister(FillerFailTotal)
	prometheus.MustRegister(FillerDurationMs)
	prometheus.MustRegister(FillersSkippedTotal)
	prometheus.MustRegister(RowsWrittenTotal)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(ShareViolationsTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：长时间运行的填充作业可通过 --metrics-addr 暴露 /metrics 供抓取
func Handler() http.Handler { return promhttp.Handler() }
