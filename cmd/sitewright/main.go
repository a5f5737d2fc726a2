package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"

	"github.com/sitewright/sitewright/pkg/api"
	"github.com/sitewright/sitewright/pkg/assembler"
	"github.com/sitewright/sitewright/pkg/assets"
	"github.com/sitewright/sitewright/pkg/engine"
	"github.com/sitewright/sitewright/pkg/logging"
	"github.com/sitewright/sitewright/pkg/ratelimit"
	"github.com/sitewright/sitewright/pkg/retry"
	"github.com/sitewright/sitewright/pkg/shutdown"
	"github.com/sitewright/sitewright/pkg/store"
	"github.com/sitewright/sitewright/pkg/synth"
	"github.com/sitewright/sitewright/pkg/tracing"
)

var version = "dev"

func loadConfig() {
	viper.SetConfigName("sitewright")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/sitewright")

	viper.SetDefault("port", "8080")
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("workers", 4)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.dsn", "sitewright.db")
	viper.SetDefault("content.model", "gpt-4.1-nano")
	viper.SetDefault("content.base_url", "")
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.initial_backoff", "1s")
	viper.SetDefault("retry.max_backoff", "30s")
	viper.SetDefault("rate_limit.rps", 2.0)
	viper.SetDefault("rate_limit.burst", 5)
	viper.SetDefault("result_cache", true)
	viper.SetDefault("stale_after", "15m")
	viper.SetDefault("templates_file", "")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")

	viper.SetEnvPrefix("SITEWRIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("content.api_key", "OPENAI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

func main() {
	loadConfig()

	logger := logging.NewLogger(logging.ParseLevel(viper.GetString("log_level")), viper.GetBool("log_json"))
	logger.Info("starting sitewright", map[string]interface{}{
		"version": version,
		"port":    viper.GetString("port"),
		"workers": viper.GetInt("workers"),
	})

	dataDir := viper.GetString("data_dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("creating data directory", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	sm := shutdown.New(30 * time.Second)

	// job store
	jobStore, err := store.NewStore(store.Config{
		Type: viper.GetString("store.type"),
		DSN:  viper.GetString("store.dsn"),
	})
	if err != nil {
		logger.Error("opening job store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	sm.Register(shutdown.CloseResource(jobStore, "job store"))
	logger.Info("job store ready", map[string]interface{}{"type": viper.GetString("store.type")})

	// content service client
	apiKey := viper.GetString("content.api_key")
	if apiKey == "" {
		logger.Error("no content service API key configured")
		fmt.Fprintln(os.Stderr, "Set OPENAI_API_KEY or content.api_key in the config file.")
		os.Exit(1)
	}
	client, err := synth.NewOpenAIClient(synth.OpenAIOptions{
		APIKey:  apiKey,
		Model:   viper.GetString("content.model"),
		BaseURL: viper.GetString("content.base_url"),
	})
	if err != nil {
		logger.Error("configuring content client", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	// template catalog, with optional overlay
	catalog := assembler.NewCatalog()
	if path := viper.GetString("templates_file"); path != "" {
		catalog, err = assembler.NewCatalogFromFile(path)
		if err != nil {
			logger.Error("loading template overlay", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		logger.Info("template overlay loaded", map[string]interface{}{"file": path})
	}

	// engine
	opts := engine.Options{
		Workers: viper.GetInt("workers"),
		RetryConfig: retry.Config{
			MaxRetries:     viper.GetInt("retry.max_retries"),
			InitialBackoff: viper.GetDuration("retry.initial_backoff"),
			MaxBackoff:     viper.GetDuration("retry.max_backoff"),
			Multiplier:     2.0,
		},
		StaleAfter:   viper.GetDuration("stale_after"),
		ReapInterval: time.Minute,
		ResultCache:  viper.GetBool("result_cache"),
	}
	eng := engine.New(
		jobStore,
		synth.New(client),
		assets.NewProcessor(viper.GetInt("workers")),
		assembler.New(catalog, dataDir),
		logger,
		opts,
	)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	eng.Start(engineCtx)
	sm.Register(func(ctx context.Context) error {
		stopEngine()
		eng.Stop()
		return nil
	})

	// tracing
	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "sitewright",
		ServiceVersion: version,
		OTLPEndpoint:   viper.GetString("tracing.endpoint"),
		Enabled:        viper.GetBool("tracing.enabled"),
	})
	if err != nil {
		logger.Error("initializing tracing", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	sm.Register(tracer.Shutdown)

	// router
	handler := api.NewHandler(eng, logger, dataDir)
	handler.SetVersion(version)
	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tracer))

	// throttle submissions only; polling stays unthrottled
	limiter := ratelimit.NewLimiter(viper.GetFloat64("rate_limit.rps"), viper.GetInt("rate_limit.burst"))
	router.Use(func(next http.Handler) http.Handler {
		limited := limiter.Middleware(ratelimit.IPKeyFunc)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/api/generate" {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	handler.RegisterRoutes(router)
	router.Handle("/metrics", handler.MetricsHandler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + viper.GetString("port"),
		Handler:      router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}
	sm.Register(shutdown.StopHTTPServer(server, "api"))

	go func() {
		logger.Info("api listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	sm.Wait()
	logger.Info("shutting down")
	sm.Shutdown()
}
