// Package metrics exposes the bot's operational counters in Prometheus format.
//
//   - ratchet_scans_total{trend}                    discovery passes that completed
//   - ratchet_scan_failures_total{stage}            passes aborted on a snapshot read
//   - ratchet_signals_total{trend}                  admitted signals
//   - ratchet_scan_duration_seconds                 discovery pass latency
//   - ratchet_symbols_skipped_total{stage,reason}   symbols or quotes dropped during a pass
//   - ratchet_stop_updates_total{mode}              protective orders replaced or placed
//   - ratchet_stop_skips_total{reason}              ratchet ticks that left the order alone
//   - ratchet_positions_opened_total{mode}
//   - ratchet_positions_closed_total{mode,reason}
//   - ratchet_tracked_positions / ratchet_unprotected_positions
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

// Recorder implements ports.Metrics. Each Recorder owns its registry so tests do not collide.
type Recorder struct {
	registry *prometheus.Registry

	scans          *prometheus.CounterVec
	scanFailures   *prometheus.CounterVec
	signals        *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	symbolsSkipped *prometheus.CounterVec
	stopUpdates    *prometheus.CounterVec
	stopSkips      *prometheus.CounterVec
	opened         *prometheus.CounterVec
	closed         *prometheus.CounterVec
	tracked        prometheus.Gauge
	unprotected    prometheus.Gauge
}

var _ ports.Metrics = (*Recorder)(nil)

// NewRecorder builds and registers every collector.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_scans_total", Help: "Discovery passes completed"},
			[]string{"trend"},
		),
		scanFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_scan_failures_total", Help: "Discovery passes aborted by a failed snapshot read"},
			[]string{"stage"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_signals_total", Help: "Signals admitted by discovery"},
			[]string{"trend"},
		),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratchet_scan_duration_seconds",
			Help:    "Discovery pass latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		symbolsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_symbols_skipped_total", Help: "Symbols or quote assets skipped during discovery"},
			[]string{"stage", "reason"},
		),
		stopUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_stop_updates_total", Help: "Protective orders placed"},
			[]string{"mode"},
		),
		stopSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_stop_skips_total", Help: "Ratchet ticks that left the protective order alone"},
			[]string{"reason"},
		),
		opened: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_positions_opened_total", Help: "Positions put under protection"},
			[]string{"mode"},
		),
		closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ratchet_positions_closed_total", Help: "Positions retired from tracking"},
			[]string{"mode", "reason"},
		),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratchet_tracked_positions",
			Help: "Positions currently tracked",
		}),
		unprotected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratchet_unprotected_positions",
			Help: "Tracked positions without a live protective order",
		}),
	}
	r.registry.MustRegister(
		r.scans, r.scanFailures, r.signals, r.scanDuration, r.symbolsSkipped,
		r.stopUpdates, r.stopSkips, r.opened, r.closed, r.tracked, r.unprotected,
	)
	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ScanCompleted(trend domain.TrendDirection, signals int, elapsed time.Duration) {
	label := strings.ToLower(trend.String())
	r.scans.WithLabelValues(label).Inc()
	r.signals.WithLabelValues(label).Add(float64(signals))
	r.scanDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ScanFailed(stage string) {
	r.scanFailures.WithLabelValues(stage).Inc()
}

func (r *Recorder) SymbolSkipped(stage, reason string) {
	r.symbolsSkipped.WithLabelValues(stage, reason).Inc()
}

func (r *Recorder) StopUpdated(mode domain.ProtectionMode) {
	r.stopUpdates.WithLabelValues(modeLabel(mode)).Inc()
}

func (r *Recorder) StopUpdateSkipped(reason string) {
	r.stopSkips.WithLabelValues(reason).Inc()
}

func (r *Recorder) PositionOpened(mode domain.ProtectionMode) {
	r.opened.WithLabelValues(modeLabel(mode)).Inc()
}

func (r *Recorder) PositionClosed(mode domain.ProtectionMode, reason domain.CloseReason) {
	r.closed.WithLabelValues(modeLabel(mode), strings.ToLower(string(reason))).Inc()
}

func (r *Recorder) SetTrackedPositions(n int) {
	r.tracked.Set(float64(n))
}

func (r *Recorder) SetUnprotectedPositions(n int) {
	r.unprotected.Set(float64(n))
}

func modeLabel(mode domain.ProtectionMode) string {
	return strings.ToLower(string(mode))
}

// Handler serves /metrics and /healthz.
func (r *Recorder) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve runs the metrics server until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger ports.Logger) error {
	srv := &http.Server{Addr: addr, Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Serving metrics", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
