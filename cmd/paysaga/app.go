package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/fortressi/paysaga"
	"github.com/fortressi/paysaga/activities"
	"github.com/fortressi/paysaga/internal/config"
	"github.com/fortressi/paysaga/temporal"
)

// closers runs cleanup functions in reverse order.
type closers []func() error

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

func serviceOptions(s config.ServiceConfig) activities.ServiceOptions {
	return activities.ServiceOptions{
		BaseURL:       s.BaseURL,
		Timeout:       s.Timeout,
		RatePerSecond: s.RatePerSecond,
		Burst:         s.Burst,
	}
}

// buildRegistry wires the production activities described by the config.
func (a *app) buildRegistry(metrics *paysaga.Metrics) (*paysaga.ActivityRegistry, closers, error) {
	var cleanup closers

	var idem activities.IdempotencyStore = activities.NewMemoryIdempotency()
	if a.cfg.Redis.URL != "" {
		store, err := activities.NewRedisIdempotencyFromURL(a.cfg.Redis.URL,
			activities.WithKeyPrefix(a.cfg.Redis.KeyPrefix),
			activities.WithTTL(a.cfg.Redis.TTL))
		if err != nil {
			return nil, nil, err
		}
		idem = store
	}

	var publisher activities.Publisher = activities.LogPublisher{Logger: a.logger}
	if len(a.cfg.Kafka.Brokers) > 0 {
		kafka := activities.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		cleanup = append(cleanup, kafka.Close)
		publisher = kafka
	}

	ledger, err := activities.OpenLedgerBook(a.cfg.Ledger.DSN)
	if err != nil {
		_ = cleanup.Close()
		return nil, nil, err
	}
	cleanup = append(cleanup, ledger.Close)

	acts := &activities.Activities{
		Validator:  activities.NewValidator(a.cfg.AmountCeiling()),
		FX:         activities.NewFXClient(serviceOptions(a.cfg.Services.FX)),
		Compliance: activities.NewComplianceClient(serviceOptions(a.cfg.Services.Compliance)),
		Gateway:    activities.NewGateway(idem, activities.WithDeclineAbove(a.cfg.DeclineAbove())),
		Ledger:     ledger,
		Notifier:   activities.NewNotifier(publisher),
	}

	var middlewares []paysaga.Middleware
	if metrics != nil {
		middlewares = append(middlewares, metrics.Middleware())
	}
	registry := paysaga.NewActivityRegistry(middlewares...)
	if err := acts.Register(registry); err != nil {
		_ = cleanup.Close()
		return nil, nil, fmt.Errorf("failed to register activities: %w", err)
	}
	return registry, cleanup, nil
}

// openStore opens the checkpoint store selected by the config.
func (a *app) openStore() (paysaga.Store, closers, error) {
	switch a.cfg.Store.Driver {
	case "file":
		store, err := paysaga.NewFileStore(a.cfg.Store.Path)
		return store, nil, err
	case "sqlite":
		store, err := paysaga.OpenSQLiteStore(a.cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, closers{store.Close}, nil
	default:
		return paysaga.NewMemoryStore(), nil, nil
	}
}

// serveMetrics registers the collectors and serves them on metrics.addr. It
// returns nil metrics when no address is configured.
func (a *app) serveMetrics(ctx context.Context) *paysaga.Metrics {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	metrics := paysaga.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return metrics
}

func (a *app) dial() (*temporal.Client, error) {
	return temporal.Dial(temporal.ClientOptions{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}, a.logger)
}

func (a *app) sagaConfig() (paysaga.SagaConfig, paysaga.ActivityCatalog, error) {
	saga, err := a.cfg.SagaConfig()
	if err != nil {
		return paysaga.SagaConfig{}, nil, err
	}
	catalog, err := a.cfg.Catalog()
	if err != nil {
		return paysaga.SagaConfig{}, nil, err
	}
	return saga, catalog, nil
}

// readRequest parses a payment request from path, or stdin when path is "-".
func readRequest(path string) (paysaga.PaymentRequest, error) {
	if path == "-" {
		return paysaga.ParseRequest(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return paysaga.PaymentRequest{}, fmt.Errorf("failed to open request: %w", err)
	}
	defer f.Close()
	return paysaga.ParseRequest(f)
}

// printValue writes v as YAML or indented JSON.
func printValue(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch format {
	case "json":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		// JSON is valid YAML, so the json tags and decimal encodings carry over.
		var out any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format %q (use yaml or json)", format)
	}
}
