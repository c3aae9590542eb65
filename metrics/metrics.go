package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Recorder holds the counters of one run on its own registry, so a run can
// push exactly what it did.
type Recorder struct {
	reg *prometheus.Registry

	EmailsFound      prometheus.Counter
	EmailsSkipped    prometheus.Counter
	Notifications    *prometheus.CounterVec
	MarkReadFailures prometheus.Counter
	NotifyLatency    prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		EmailsFound: f.NewCounter(prometheus.CounterOpts{
			Name: "delivnotify_emails_found_total",
			Help: "Emails returned by the mailbox search",
		}),
		EmailsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "delivnotify_emails_skipped_total",
			Help: "Emails with nothing to notify about",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delivnotify_notifications_total",
			Help: "Notification attempts by outcome",
		}, []string{"status"}),
		MarkReadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "delivnotify_mark_read_failures_total",
			Help: "Notified emails that could not be marked read",
		}),
		NotifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivnotify_notify_duration_seconds",
			Help:    "Time spent posting one notification",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "delivnotify_last_run_timestamp_seconds",
			Help: "Unix time at which the run finished",
		}),
	}
}

func (r *Recorder) Found() { r.EmailsFound.Inc() }

func (r *Recorder) Skipped() { r.EmailsSkipped.Inc() }

// Notified records one send attempt and how long it took.
func (r *Recorder) Notified(ok bool, took time.Duration) {
	status := StatusSent
	if !ok {
		status = StatusFailed
	}
	r.Notifications.WithLabelValues(status).Inc()
	r.NotifyLatency.Observe(took.Seconds())
}

func (r *Recorder) MarkReadFailed() { r.MarkReadFailures.Inc() }

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Push sends the current values to a Pushgateway, replacing the previous
// push of the same job. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	r.LastRunTimestamp.SetToCurrentTime()
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
