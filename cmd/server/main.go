package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rosview/rosview-backend/internal/api"
	"github.com/rosview/rosview-backend/internal/bus"
	"github.com/rosview/rosview-backend/internal/subs"
)

func main() {
	// Env vars may come from a .env file in development; absence is fine.
	_ = godotenv.Load(".env")
	setupLogging()

	// Determine listen port from environment (PORT or ROSVIEW_PORT)
	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("ROSVIEW_PORT")
	}
	if port == "" {
		port = "5000"
	}

	// Cooperative shutdown signal observed by every loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := connectBus(ctx)
	if err != nil {
		// Unrecoverable bus initialization is the one fatal path.
		log.Fatal().Err(err).Msg("bus initialization failed")
	}
	defer b.Close()

	manager := subs.NewManager(b)
	api.Init(ctx, b, manager)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// OpenTelemetry tracing (optional)
	if shutdown, ok := api.SetupOTelFromEnv(); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("rosview-backend"))
	}
	router.Use(api.MetricsMiddleware())
	router.Use(api.RequestIDMiddleware())
	router.Use(cors.New(corsConfig()))

	router.GET("/api/graph", api.GetGraph)
	router.GET("/api/node/*name", api.GetNode)
	router.GET("/api/topic/*name", api.GetTopic)
	router.GET("/api/health", api.Health)
	router.POST("/api/reset", api.ResetSubscriptions)
	router.GET("/ws/graph", api.GraphWS)
	router.GET("/ws/topic/*name", api.TopicWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	go api.RunGraphBroadcast(ctx)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		log.Info().Str("port", port).Msg("rosview backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info().Msg("signal received, shutting down")
	cancel()

	// Bounded grace period for in-flight requests; websocket sessions are
	// closed by the cancelled context, then the listener is torn down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forcing server close")
	}
	_ = srv.Close()
	manager.Reset()
}

func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("ROSVIEW_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

// connectBus picks the bus binding: in-memory local bus (optionally with
// demo publishers) or the NATS binding when built with -tags nats.
func connectBus(ctx context.Context) (bus.Bus, error) {
	switch os.Getenv("ROSVIEW_BUS") {
	case "", "local":
		lb := bus.NewLocalBus()
		if os.Getenv("ROSVIEW_DEMO") != "" {
			bus.StartDemoPublishers(ctx, lb)
			log.Info().Msg("demo publishers started")
		}
		return lb, nil
	case "nats":
		url := os.Getenv("ROSVIEW_NATS_URL")
		if url == "" {
			url = "nats://localhost:4222"
		}
		return bus.NewNatsBus(url)
	default:
		return nil, errors.New("unknown ROSVIEW_BUS value")
	}
}

func corsConfig() cors.Config {
	config := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// Override allowed origins via env (comma-separated)
	if origins := os.Getenv("ROSVIEW_CORS_ORIGINS"); origins != "" {
		config.AllowAllOrigins = false
		parts := strings.Split(origins, ",")
		allow := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				allow = append(allow, s)
			}
		}
		if len(allow) > 0 {
			config.AllowOrigins = allow
		}
	}
	return config
}
