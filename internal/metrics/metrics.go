// Package metrics 记录一次聚合运行的指标，并写成 node_exporter textfile 格式。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// Recorder 同时实现 aggregate.Observer。
type Recorder struct {
	reg *prometheus.Registry

	configured prometheus.Gauge
	sources    *prometheus.CounterVec
	duration   prometheus.Histogram
	entries    prometheus.Gauge
	lastRun    prometheus.Gauge
	success    prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		configured: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockagg_configured_sources",
			Help: "本轮配置的来源数量。",
		}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockagg_sources_total",
			Help: "按结果统计的来源数量。",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockagg_source_duration_seconds",
			Help:    "单个来源下载并解析的耗时。",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockagg_entries",
			Help: "最近一次发布的去重条目数。",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockagg_last_run_timestamp_seconds",
			Help: "最近一次运行结束的 Unix 时间。",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockagg_last_run_success",
			Help: "最近一次运行是否成功写出产物（1/0）。",
		}),
	}
	r.reg.MustRegister(r.configured, r.sources, r.duration, r.entries, r.lastRun, r.success)
	return r
}

func (r *Recorder) OnStart(total int) {
	r.configured.Set(float64(total))
}

func (r *Recorder) OnSourceDone(idx, total int, res domain.SourceResult, dur time.Duration) {
	status := domain.StatusOK
	if !res.OK() {
		status = domain.StatusFailed
	}
	r.sources.WithLabelValues(status).Inc()
	r.duration.Observe(dur.Seconds())
}

// Finish 记录运行结束时的产物状态。
func (r *Recorder) Finish(at time.Time, entries int, published bool) {
	r.entries.Set(float64(entries))
	r.lastRun.Set(float64(at.Unix()))
	if published {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}
}

// Registry 供测试或嵌入方读取指标。
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// WriteTextfile 原子写出 textfile（WriteToTextfile 内部先写临时文件再 rename）。
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
