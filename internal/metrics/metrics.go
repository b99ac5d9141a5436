// Package metrics 汇总 image-hub 的 Prometheus 指标，使用独立 Registry，
// 由 /-/metrics 诊断接口暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "image_hub"

	LabelResult  = "result"
	LabelOutcome = "outcome"
)

// 请求结果取值。
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// 回源结果取值。
const (
	OutcomeStored      = "stored"
	OutcomeNotImage    = "not_image"
	OutcomeUnreachable = "unreachable"
	OutcomeWriteFailed = "write_failed"
)

// Recorder 持有全部计数器。nil Recorder 的方法均为空操作，便于测试中省略。
type Recorder struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	originFetches *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	bytesWritten  prometheus.Counter
	disconnects   prometheus.Counter
}

// NewRecorder 创建 Recorder 并注册进程与 Go 运行时采集器。
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Image requests by result.",
		}, []string{LabelResult}),
		originFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "origin_fetches_total",
			Help:      "Origin fetches by outcome.",
		}, []string{LabelOutcome}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "origin_fetch_duration_seconds",
			Help:      "Time from origin request to cache commit in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_bytes_written_total",
			Help:      "Bytes committed to the disk cache.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_disconnects_total",
			Help:      "Clients that went away while a miss was still streaming.",
		}),
	}
	r.registry.MustRegister(
		r.requests,
		r.originFetches,
		r.fetchDuration,
		r.bytesWritten,
		r.disconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回用于暴露指标的 Gatherer。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveRequest(result string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveFetch(outcome string, begin time.Time) {
	if r == nil {
		return
	}
	r.originFetches.WithLabelValues(outcome).Inc()
	r.fetchDuration.Observe(time.Since(begin).Seconds())
}

func (r *Recorder) AddBytesWritten(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.Add(float64(n))
}

func (r *Recorder) ObserveDisconnect() {
	if r == nil {
		return
	}
	r.disconnects.Inc()
}
