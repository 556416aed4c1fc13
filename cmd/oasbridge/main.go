package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oasbridge/oasbridge/configs"
	"github.com/oasbridge/oasbridge/internal/adapter/inbound/rpchttp"
	"github.com/oasbridge/oasbridge/internal/adapter/outbound/httpinvoker"
	"github.com/oasbridge/oasbridge/internal/adapter/outbound/openapi"
	"github.com/oasbridge/oasbridge/internal/adapter/outbound/toolcache"
	"github.com/oasbridge/oasbridge/internal/domain"
	"github.com/oasbridge/oasbridge/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serverName    = "oasbridge"
	serverVersion = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.ParsedLogLevel()}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", cfg.ParsedLogLevel().String()))

	// === OpenTelemetry ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	logger.Debug("HTTP client configured.", slog.Duration("timeout", cfg.HTTPClientTimeout))

	fetcher := openapi.NewSchemaFetcher(httpClient, logger)
	generator := openapi.NewToolGenerator(logger)
	cache := toolcache.New(cfg.CacheTTL, logger)
	invoker := httpinvoker.New(httpClient, logger)

	refreshUC := usecase.NewRefreshToolsUseCase(fetcher, generator, cache, logger)
	invokeUC := usecase.NewInvokeToolUseCase(invoker, logger)

	sources := make([]rpchttp.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, rpchttp.Source{
			Config: usecase.SourceConfig{
				Name:    src.Name,
				URL:     src.URL,
				Headers: src.Headers,
			},
			FilterTags: src.Tags,
			Credentials: domain.Credentials{
				BaseURL: src.BaseURL,
				Token:   src.Token,
			},
		})
	}
	if len(sources) == 0 {
		logger.Warn("No tool sources configured; the bridge will serve an empty tool set.")
	}

	handlers := rpchttp.NewHandlers(refreshUC, invokeUC, sources, serverName, serverVersion, logger)

	// === Initial Tool Compilation ===
	// Warm the cache so the first inbound request does not pay the fetch.
	logger.Info("Performing initial tool compilation...")
	for _, src := range sources {
		if _, err := refreshUC.Execute(ctx, src.Config, src.FilterTags, true); err != nil {
			logger.Error("Initial compile failed for source; continuing, tools may be missing.",
				slog.String("source", src.Config.URL), slog.Any("error", err))
		}
	}

	// === HTTP Servers ===
	rpcMux := http.NewServeMux()
	handlers.RegisterRoutes(rpcMux)
	rpcServer := &http.Server{Addr: cfg.ListenAddr, Handler: rpcMux}

	adminMux := http.NewServeMux()
	handlers.RegisterAdminRoutes(adminMux)
	adminServer := &http.Server{Addr: cfg.AdminListenAddr, Handler: adminMux}

	go func() {
		logger.Info("RPC server starting.", slog.String("address", rpcServer.Addr))
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed.", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		logger.Info("Admin server starting.", slog.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed.", slog.Any("error", err))
		}
	}()

	<-ctx.Done()

	// === Shutdown ===
	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC server graceful shutdown failed.", slog.Any("error", err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server graceful shutdown failed.", slog.Any("error", err))
	}
	logger.Info("Servers shut down gracefully.")
}

// initOtelProvider initializes the OpenTelemetry SDK with an OTLP trace
// exporter. It returns a shutdown function for application exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serverName),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
