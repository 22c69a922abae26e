package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"pharmacy/internal/config"
	"pharmacy/internal/events"
	httpapi "pharmacy/internal/http"
	"pharmacy/internal/metrics"
	"pharmacy/internal/observability"
	"pharmacy/internal/repository"
	"pharmacy/internal/service"

	_ "pharmacy/docs"
)

type stores struct {
	medicines     repository.MedicineRepository
	prescriptions repository.PrescriptionRepository
	tx            repository.TxManager
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPebble:
		db, err := repository.NewPebbleStore(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		return &stores{
			medicines:     db,
			prescriptions: repository.NewPebblePrescriptions(db),
			tx:            repository.NewPebbleTx(db),
			close:         db.Close,
		}, nil
	case config.BackendPostgres:
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &stores{
			medicines:     repository.NewPostgresStore(db),
			prescriptions: repository.NewPostgresPrescriptions(db),
			tx:            repository.NewPostgresTx(db),
			close:         db.Close,
		}, nil
	default:
		mem := repository.NewMemoryStore()
		return &stores{
			medicines:     mem,
			prescriptions: repository.NewMemoryPrescriptions(mem),
			tx:            repository.NewMemoryTx(mem),
			close:         func() error { return nil },
		}, nil
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error("close store", zap.Error(err))
		}
	}()

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Info("publishing events", zap.String("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	reg := metrics.NewRegistry()
	medicinesSvc := service.NewMedicineService(st.medicines, st.tx)
	prescriptionsSvc := service.NewPrescriptionService(st.medicines, st.prescriptions, st.tx,
		service.WithLogger(log.Named("prescriptions")),
		service.WithTracer(otel.Tracer(config.ServiceName)),
		service.WithMetrics(reg),
		service.WithPublisher(publisher),
		service.WithMaxRetries(cfg.MaxRetries),
	)

	srv := httpapi.NewServer(medicinesSvc, prescriptionsSvc, log.Named("http"), reg.Handler())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(srv.Engine(), config.ServiceName),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serveErr := serve(log, httpServer, quit, cfg.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		log.Error("tracing shutdown", zap.Error(err))
	}
	return serveErr
}

// serve блокируется до сигнала или ошибки сервера; отложенные close в run отрабатывают в обоих случаях
func serve(log *zap.Logger, srv *http.Server, quit <-chan os.Signal, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.Stringer("signal", sig))
	case serveErr = <-errCh:
		log.Error("server error", zap.Error(serveErr))
		serveErr = fmt.Errorf("http server: %w", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return serveErr
}
