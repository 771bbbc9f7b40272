// Package metrics exports link statistics in prometheus format.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/svlink/link"
	"github.com/temoto/svlink/log2"
)

const namespace = "svlink"

type StatSource interface {
	Stat() link.SessionStat
}

// Collector reads link.SessionStat on each scrape.
type Collector struct {
	src    StatSource
	active func() int

	descActive *prometheus.Desc
	descConn   *prometheus.Desc
	descBroken *prometheus.Desc
	descFrames *prometheus.Desc
	descBytes  *prometheus.Desc
}

var _ prometheus.Collector = &Collector{} // compile-time interface test

// NewCollector labels metrics with role, "server" or "console".
// active may be nil when open connection count is not known.
func NewCollector(role string, src StatSource, active func() int) *Collector {
	labels := prometheus.Labels{"role": role}
	return &Collector{
		src:    src,
		active: active,
		descActive: prometheus.NewDesc(namespace+"_connections_active",
			"Open connections.", nil, labels),
		descConn: prometheus.NewDesc(namespace+"_connections_total",
			"Connections accepted or dialed.", nil, labels),
		descBroken: prometheus.NewDesc(namespace+"_broken_packets_total",
			"Frames dropped as unknown, malformed or unexpected.", nil, labels),
		descFrames: prometheus.NewDesc(namespace+"_frames_total",
			"Frames by direction and kind.", []string{"dir", "kind"}, labels),
		descBytes: prometheus.NewDesc(namespace+"_bytes_total",
			"Bytes by direction and kind, total includes TCP overhead estimate.", []string{"dir", "kind"}, labels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.active != nil {
		ch <- c.descActive
	}
	ch <- c.descConn
	ch <- c.descBroken
	ch <- c.descFrames
	ch <- c.descBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.active != nil {
		ch <- prometheus.MustNewConstMetric(c.descActive, prometheus.GaugeValue, float64(c.active()))
	}
	stat := c.src.Stat()
	ch <- prometheus.MustNewConstMetric(c.descConn, prometheus.CounterValue, float64(stat.Accepted.Value()))
	ch <- prometheus.MustNewConstMetric(c.descBroken, prometheus.CounterValue, float64(stat.Broken.Value()))
	c.collectCounters(ch, "recv", &stat.Recv)
	c.collectCounters(ch, "send", &stat.Send)
}

func (c *Collector) collectCounters(ch chan<- prometheus.Metric, dir string, counters *link.Counters) {
	pairs := []struct {
		kind string
		p    *link.CountSizePair
	}{
		{"cmd", &counters.Cmd},
		{"tele", &counters.Tele},
		{"total", &counters.Total},
	}
	for _, x := range pairs {
		ch <- prometheus.MustNewConstMetric(c.descFrames, prometheus.CounterValue, float64(x.p.Count.Value()), dir, x.kind)
		ch <- prometheus.MustNewConstMetric(c.descBytes, prometheus.CounterValue, float64(x.p.Size.Value()), dir, x.kind)
	}
}

func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "metrics register")
		}
	}
	return reg, nil
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve binds listen address and serves /metrics until ctx is done.
func Serve(ctx context.Context, log *log2.Log, listen string, reg *prometheus.Registry) (net.Addr, error) {
	ll, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Annotatef(err, "metrics listen=%s", listen)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.Serve(ll); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics serve err=%v", err)
		}
	}()
	log.Infof("metrics listen=%s", ll.Addr())
	return ll.Addr(), nil
}
