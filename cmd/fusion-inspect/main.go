package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	fusionclient "github.com/always-cache/fusion-client"
	"github.com/always-cache/fusion-client/contexttracker"
	"github.com/always-cache/fusion-client/httpclient"
	"github.com/always-cache/fusion-client/metrics"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	storeFlag          string
	dbFilenameFlag     string
	redisAddrFlag      string
	contextAPIFlag     string
	envFilenameFlag    string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&storeFlag, "store", "", "Context store: memory, sqlite, leveldb or redis (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Store DB file or directory (use 'memory' for in-memory sqlite)")
	flag.StringVar(&redisAddrFlag, "redis", "", "Redis address for the redis store")
	flag.StringVar(&contextAPIFlag, "context-api", "", "Base URL of the context API (overrides config)")
	flag.StringVar(&envFilenameFlag, "env", "", "Env file to load (default .env if present)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// the bearer token is read from the environment
	if envFilenameFlag != "" {
		if err := godotenv.Load(envFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Cannot load env file")
		}
	} else {
		_ = godotenv.Load()
	}

	config := defaultConfig()
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
	}
	applyFlags(&config)

	logger, closeLog, err := newLogger(config.Log, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up logging")
	}
	defer closeLog()
	log.Logger = logger

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot register metrics")
	}

	transport := httpclient.Config{
		Metrics:         m,
		MaxRefreshDepth: config.MaxRefreshDepth,
	}
	if token := os.Getenv("FUSION_TOKEN"); token != "" {
		transport.Tokens = httpclient.StaticToken(token)
	} else {
		log.Warn().Msg("FUSION_TOKEN not set, sending requests without authorization")
	}

	client := fusionclient.CreateClient(fusionclient.Config{
		Transport:      transport,
		Logger:         &log.Logger,
		UpdateInterval: config.UpdateInterval,
	})
	defer client.Close()

	s := &server{
		client: client,
		log:    log.Logger,
	}
	if config.ContextAPI != "" {
		ctx := context.Background()
		provider, err := openStore(ctx, config.Store)
		if err != nil {
			log.Fatal().Err(err).Str("store", config.Store.Type).Msg("Cannot open context store")
		}
		defer provider.Close()
		s.tracker, err = contexttracker.New(contexttracker.Config{
			Provider: provider,
			Service:  contexttracker.NewHTTPContextService(client.Transport(), config.ContextAPI),
			Logger:   &log.Logger,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot create context tracker")
		}
	}

	log.Info().Msgf("Inspector listening on port %v (store '%s', context API '%s')", config.Port, config.Store.Type, config.ContextAPI)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Port), s.routes(registry)); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// applyFlags overrides config values with the flags that were set.
func applyFlags(config *Config) {
	if portFlag > 0 {
		config.Port = portFlag
	}
	if storeFlag != "" {
		config.Store.Type = storeFlag
	}
	if dbFilenameFlag != "" {
		config.Store.Path = dbFilenameFlag
	}
	if redisAddrFlag != "" {
		config.Store.Redis = redisAddrFlag
	}
	if contextAPIFlag != "" {
		config.ContextAPI = contextAPIFlag
	}
	if verbosityTraceFlag {
		config.Log.Level = zerolog.LevelTraceValue
	}
	if logFilenameFlag != "" {
		config.Log.File = logFilenameFlag
	}
}
