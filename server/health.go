package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aep/docbase/metrics"
	"github.com/aep/docbase/storage"
)

// serveHealth runs the /healthz and /metrics mux on its own listener,
// separate from the document API so a scraper never competes with
// request traffic.
func serveHealth(addr string, db *storage.DB) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	healthServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return healthServer.ListenAndServe()
}

// PrometheusMiddleware records request count and latency per route.
func PrometheusMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		duration := time.Since(start).Seconds()
		status := c.Response().Status
		method := c.Request().Method
		path := c.Path()

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Observe(duration)
		return err
	}
}
