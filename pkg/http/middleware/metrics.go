package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "DeskCast/pkg/logger"
)

type requestMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	size     *prometheus.HistogramVec
}

var (
	requestMetricsOnce sync.Once
	requestMetricsInst *requestMetrics
)

func httpStats() *requestMetrics {
	requestMetricsOnce.Do(func() {
		requestMetricsInst = &requestMetrics{
			total: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "deskcast_http_requests_total",
				Help: "API requests by route, method and status",
			}, []string{"route", "method", "status"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "deskcast_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"route", "class"}),
			inFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "deskcast_http_in_flight_requests",
				Help: "Requests currently being served",
			}),
			// Forecast listings can be large; track payload size per route.
			size: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "deskcast_http_response_size_bytes",
				Help:    "API response body size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 9),
			}, []string{"route"}),
		}
	})
	return requestMetricsInst
}

// Metrics records request metrics labelled by the echo route template, so
// /forecast?category=X and /forecast share one series. Server errors and
// requests slower than slowThreshold are logged.
func Metrics(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	m := httpStats()
	if l == nil {
		l = applogger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			if err := next(c); err != nil {
				// Render now so the recorded status is final.
				c.Error(err)
			}

			route := routeLabel(c)
			res := c.Response()
			status := strconv.Itoa(res.Status)
			elapsed := time.Since(start)

			m.total.WithLabelValues(route, c.Request().Method, status).Inc()
			m.duration.WithLabelValues(route, statusClass(res.Status)).Observe(elapsed.Seconds())
			m.size.WithLabelValues(route).Observe(float64(res.Size))

			fields := []applogger.Field{
				applogger.String("route", route),
				applogger.String("status", status),
				applogger.Duration("duration_ms", elapsed),
				applogger.Int64("bytes", res.Size),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && elapsed >= slowThreshold:
				l.Warn("http request slow", fields...)
			}
			return nil
		}
	}
}

func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
