package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	restaurantshandler "github.com/guiomkt/angubackend-sub001/domains/restaurants/be/handler"
	restaurantsrepo "github.com/guiomkt/angubackend-sub001/domains/restaurants/be/repo"
	restaurantsservice "github.com/guiomkt/angubackend-sub001/domains/restaurants/be/service"
	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
	whatsapphandler "github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/handler"
	whatsapprepo "github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/repo"
	whatsappservice "github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/service"
	platformlogging "github.com/guiomkt/angubackend-sub001/platform/go/logging"
	"github.com/guiomkt/angubackend-sub001/platform/go/metrics"
	platformmiddleware "github.com/guiomkt/angubackend-sub001/platform/go/middleware"
	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// Provisioning can hold a request through a full reconciliation poll, so
	// the budget is far above a typical CRUD round trip.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`

	GraphBaseURL           string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	GraphVersion           string        `env:"GRAPH_API_VERSION" envDefault:"v24.0"`
	GraphAppID             string        `env:"GRAPH_APP_ID,required"`
	GraphAppSecret         string        `env:"GRAPH_APP_SECRET,required"`
	GraphRedirectURI       string        `env:"GRAPH_REDIRECT_URI,required"`
	GraphTimeout           time.Duration `env:"GRAPH_TIMEOUT" envDefault:"15s"`
	GraphSolutionID        string        `env:"GRAPH_SOLUTION_ID"`
	GraphPartnerBusinessID string        `env:"GRAPH_PARTNER_BUSINESS_ID"`
	GraphSolutionToken     string        `env:"GRAPH_SOLUTION_TOKEN"`
	GraphIdempotentCodes   []int         `env:"GRAPH_IDEMPOTENT_CODES" envSeparator:"," envDefault:"2388079,136025"`
	GraphRateLimit         float64       `env:"GRAPH_RATE_LIMIT" envDefault:"10"`

	PollAttempts int           `env:"WHATSAPP_POLL_ATTEMPTS" envDefault:"10"`
	PollInterval time.Duration `env:"WHATSAPP_POLL_INTERVAL" envDefault:"3s"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.Bootstrap(ctx, pool); err != nil {
		logger.Fatal("apply platform ddl", zap.Error(err))
	}

	m := metrics.New()

	restaurantStore, err := persistence.NewRestaurantStore(pool)
	if err != nil {
		logger.Fatal("init restaurant store", zap.Error(err))
	}
	restaurantService := restaurantsservice.New(restaurantsrepo.NewPostgresRepository(restaurantStore))
	restaurantHTTPHandler := restaurantshandler.New(restaurantService, logger)

	channelStore, err := persistence.NewChannelStore(pool)
	if err != nil {
		logger.Fatal("init channel store", zap.Error(err))
	}

	graphClient := graph.New(graph.Config{
		BaseURL:           cfg.GraphBaseURL,
		Version:           cfg.GraphVersion,
		AppID:             cfg.GraphAppID,
		AppSecret:         cfg.GraphAppSecret,
		RedirectURI:       cfg.GraphRedirectURI,
		Timeout:           cfg.GraphTimeout,
		SolutionID:        cfg.GraphSolutionID,
		PartnerBusinessID: cfg.GraphPartnerBusinessID,
		SolutionToken:     cfg.GraphSolutionToken,
		IdempotentCodes:   cfg.GraphIdempotentCodes,
		RequestsPerSecond: cfg.GraphRateLimit,
	}, logger, m)

	whatsappService := whatsappservice.New(
		whatsapprepo.NewPostgresRepository(channelStore),
		whatsappservice.ProviderDeps{
			Tokens:     graphClient,
			Directory:  graphClient,
			Creator:    graphClient,
			Subscriber: graphClient,
			Phones:     graphClient,
		},
		whatsappservice.Config{
			PollAttempts: cfg.PollAttempts,
			PollInterval: cfg.PollInterval,
			CallTimeout:  cfg.GraphTimeout,
		},
		logger,
		m,
	)
	whatsappHTTPHandler := whatsapphandler.New(
		whatsappService,
		&restaurantDirectory{svc: restaurantService},
		logger,
	)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Method(http.MethodGet, "/metrics", metrics.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Mount("/restaurants", restaurantHTTPHandler.Routes())
	apiRouter.Mount("/restaurants/{restaurantID}/whatsapp", whatsappHTTPHandler.Routes())
	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// restaurantDirectory adapts the restaurants service to the whatsapp handler's
// name lookup without coupling the two domains.
type restaurantDirectory struct {
	svc restaurantsservice.Service
}

func (d *restaurantDirectory) RestaurantName(ctx context.Context, restaurantID uuid.UUID) (string, error) {
	restaurant, err := d.svc.Get(ctx, restaurantID)
	if errors.Is(err, restaurantsservice.ErrNotFound) {
		return "", whatsapphandler.ErrRestaurantUnknown
	}
	if err != nil {
		return "", err
	}
	return restaurant.Name, nil
}
