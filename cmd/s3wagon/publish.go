package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/dc-tec/s3-wagon/internal/config"
	"github.com/dc-tec/s3-wagon/internal/constants"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
	"github.com/dc-tec/s3-wagon/internal/scheduler"
)

// runPublish uploads a local directory tree, once or on a cron schedule.
func runPublish(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o := newOptions("publish", stderr)
	var (
		schedule          string
		metricsAddr       string
		concurrency       int
		requestsPerSecond float64
	)
	o.fs.StringVar(&schedule, "schedule", "", "Cron expression; publish repeatedly instead of once.")
	o.fs.StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090.")
	o.fs.IntVar(&concurrency, "concurrency", 0, "Number of parallel uploads (0 uploads sequentially).")
	o.fs.Float64Var(&requestsPerSecond, "requests-per-second", 0, "Upload rate limit (0 disables).")

	var pub config.Publish
	tune := func(f *config.File) tuning {
		if f.Publish != nil {
			pub = *f.Publish
		}
		if o.set("schedule") {
			pub.Schedule = schedule
		}
		if o.set("concurrency") {
			pub.Concurrency = concurrency
		}
		if o.set("requests-per-second") {
			pub.RequestsPerSecond = requestsPerSecond
		}
		if f.Metrics != nil && !o.set("metrics-addr") {
			metricsAddr = f.Metrics.Address
		}
		return tuning{concurrency: pub.Concurrency, requestsPerSecond: pub.RequestsPerSecond}
	}

	e, err := setup(ctx, o, args, stderr, 0, 2, "publish [localDir] [dest]", tune)
	if err != nil {
		return err
	}
	defer e.close()

	if len(e.args) > 0 {
		pub.Source = e.args[0]
	}
	if len(e.args) > 1 {
		pub.Destination = e.args[1]
	}
	if pub.Source == "" {
		return fmt.Errorf("%w: no source directory, pass one or set publish.source", errUsage)
	}

	job := func(ctx context.Context) error {
		start := time.Now()
		if err := e.t.StoreDirectory(ctx, pub.Source, pub.Destination); err != nil {
			e.metrics.RecordPublishFailure()
			return err
		}
		e.metrics.RecordPublishSuccess(float64(time.Now().Unix()))
		_, _ = fmt.Fprintf(stdout, "Published %s to s3://%s/%s in %s\n",
			pub.Source, e.t.Bucket(), e.t.Key(pub.Destination), time.Since(start).Round(time.Millisecond))
		return nil
	}

	if metricsAddr != "" {
		_, stop, err := serveMetrics(ctx, e.log, metricsAddr, stderr)
		if err != nil {
			return wagonerrors.WrapPermanentConfig(err)
		}
		defer stop()
	}

	if pub.Schedule == "" {
		return job(ctx)
	}
	if err := scheduler.ValidateSchedule(pub.Schedule); err != nil {
		return wagonerrors.WrapPermanentConfig(err)
	}
	next, err := scheduler.NextSchedule(pub.Schedule, time.Now())
	if err != nil {
		return wagonerrors.WrapPermanentConfig(err)
	}
	e.log.Info("Publishing on schedule", "schedule", pub.Schedule, "source", pub.Source, "next", next)
	err = scheduler.Run(ctx, e.log, pub.Schedule, job)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics serves the controller-runtime registry until stop is called.
func serveMetrics(ctx context.Context, log logr.Logger, addr string, accessLog io.Writer) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := mux.NewRouter()
	r.Handle(constants.MetricsPath, promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc(constants.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Handler:           handlers.CombinedLoggingHandler(accessLog, handlers.RecoveryHandler()(r)),
		ReadHeaderTimeout: constants.MetricsReadHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Metrics server stopped")
		}
	}()
	log.Info("Serving metrics", "address", ln.Addr().String(), "path", constants.MetricsPath)

	return ln.Addr(), func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.MetricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
