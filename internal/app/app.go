package app

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/storage/jsonfile"
	"github.com/xenking/kart-orders/internal/storage/memory"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

const serviceName = "kart-orders"

// catalogSource yields the products and discount rules the server starts
// with.
type catalogSource interface {
	Products(ctx context.Context) ([]product.Params, error)
	Discounts(ctx context.Context) ([]discount.Rule, error)
}

type embeddedSource struct {
	catalog *jsonfile.Catalog
}

func newEmbeddedSource() (*embeddedSource, error) {
	c, err := jsonfile.Decode(bytes.NewReader(db.SeedCatalog))
	if err != nil {
		return nil, errors.Wrap(err, "decode embedded catalog")
	}
	return &embeddedSource{catalog: c}, nil
}

func (s *embeddedSource) Products(context.Context) ([]product.Params, error) {
	return s.catalog.Products, nil
}

func (s *embeddedSource) Discounts(context.Context) ([]discount.Rule, error) {
	return s.catalog.Discounts, nil
}

// Server is the wired HTTP surface of the application.
type Server struct {
	Handler http.Handler
	Health  *health.Health
	Catalog *memory.CatalogRepository
	Orders  *memory.OrderRepository

	pool *pgxpool.Pool
}

// Close releases resources held by the server.
func (s *Server) Close() {
	s.Health.Stop()
	if s.pool != nil {
		s.pool.Close()
	}
}

// Build loads the catalog, creates the domain services and assembles the HTTP
// handler chain. Health checks are registered but not started.
func Build(
	ctx context.Context,
	lg *zap.Logger,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
	cfg *Config,
) (_ *Server, rerr error) {
	srv := &Server{Health: health.New(lg.Named("health"))}
	defer func() {
		if rerr != nil {
			srv.Close()
		}
	}()

	var source catalogSource
	switch cfg.Catalog.Source {
	case SourcePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		srv.pool = pool
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		catalog := postgres.NewCatalog(pool)
		srv.Health.Register(health.Readiness, "postgres",
			health.PingCheck(catalog.Ping), health.WithTimeout(5*time.Second))
		source = catalog
	case SourceFile:
		source = jsonfile.NewSource(cfg.Catalog.File)
	default:
		embedded, err := newEmbeddedSource()
		if err != nil {
			return nil, err
		}
		source = embedded
	}

	params, err := source.Products(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	rules, err := source.Discounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load discounts")
	}

	stockouts, err := mp.Meter(serviceName).Int64Counter("kart.products.out_of_stock",
		metric.WithDescription("Products whose stock reached zero"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "out of stock counter")
	}
	stockoutMetric := product.ListenerFunc(func(name string) {
		stockouts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("product", name)))
	})

	catalog, err := memory.NewCatalogRepository(params,
		product.WithLogger(lg.Named("product")),
		product.WithListener(product.LogListener(lg.Named("stock"))),
		product.WithListener(stockoutMetric),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog")
	}
	srv.Catalog = catalog
	catalog.Log(lg)

	discounts, err := discount.NewRegistry(rules)
	if err != nil {
		return nil, errors.Wrap(err, "build discount registry")
	}

	srv.Orders = memory.NewOrderRepository()
	orderService, err := order.NewService(order.ServiceConfig{
		Rollback:       cfg.RollbackPolicy(),
		MeterProvider:  mp,
		TracerProvider: tp,
	}, lg.Named("order"), catalog, discounts, srv.Orders)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	limits, err := cfg.PaymentLimits()
	if err != nil {
		return nil, errors.Wrap(err, "payment limits")
	}
	h := handler.NewHandler(handler.HandlerConfig{PaymentLimits: limits}, catalog, orderService)

	srv.Health.Register(health.Readiness, "catalog", health.NotEmptyCheck("catalog", catalog.Len))
	srv.Health.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(cfg.Health.MaxGoroutines))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", srv.Health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", srv.Health.ReadyEndpoint)
	h.Register(mux)

	srv.Handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument(serviceName, mp, tp),
		httpmiddleware.LogRequests(),
	)

	lg.Info("Application built",
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.Int("products", catalog.Len()),
		zap.Int("discounts", discounts.Len()),
		zap.Stringer("rollback", cfg.RollbackPolicy()),
	)
	return srv, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := Build(ctx, lg, m.MeterProvider(), m.TracerProvider(), cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	srv.Health.Start(ctx, cfg.Health.Interval)
	srv.Health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone

	lg.Info("Server stopped", zap.Int("orders", srv.Orders.Len()))
	return nil
}
