package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xregistry/xrbridge/bridge"
	"github.com/xregistry/xrbridge/internal/estate"
)

// Config this struct is using the goconfig library for simple flag and env var
// parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	Port                  int     `cfgDefault:"8080" cfg:"PORT"`
	RegistryID            string  `cfgDefault:"xregistry-bridge" cfg:"REGISTRY_ID"`
	BaseURL               string  `cfgDefault:"" cfg:"BASE_URL" cfgHelper:"Fallback effective base URL emitted in self links"`
	BaseURLHeader         string  `cfgDefault:"" cfg:"BASE_URL_HEADER" cfgHelper:"Override for the x-base-url request header name"`
	DownstreamsJSON       string  `cfgDefault:"" cfg:"DOWNSTREAMS_JSON" cfgHelper:"Inline JSON downstream declaration list"`
	ConfigFile            string  `cfgDefault:"" cfg:"BRIDGE_CONFIG_FILE" cfgHelper:"Path to the downstream declaration file"`
	CacheDir              string  `cfgDefault:"" cfg:"CACHE_DIR" cfgHelper:"Directory for cached downstream fragments; empty disables persistence"`
	APIKey                string  `cfgDefault:"" cfg:"BRIDGE_API_KEY" cfgHelper:"Shared API key accepted on the Authorization header"`
	RequiredGroups        string  `cfgDefault:"" cfg:"REQUIRED_GROUPS" cfgHelper:"Comma-separated principal groups granted access"`
	AllowLocalhostBypass  bool    `cfgDefault:"false" cfg:"ALLOW_LOCALHOST_BYPASS" cfgHelper:"Skip auth for loopback peers"`
	AllowedOrigins        string  `cfgDefault:"" cfg:"ALLOWED_ORIGINS" cfgHelper:"Comma-separated CORS origins; empty allows any"`
	InitializationTimeout int     `cfgDefault:"120000" cfg:"INITIALIZATION_TIMEOUT" cfgHelper:"Milliseconds allowed for downstream initialization"`
	RetryInitialDelay     int     `cfgDefault:"1000" cfg:"RETRY_INITIAL_DELAY" cfgHelper:"Milliseconds before the first initialization retry"`
	RetryMaxDelay         int     `cfgDefault:"10000" cfg:"RETRY_MAX_DELAY" cfgHelper:"Ceiling in milliseconds for the initialization backoff"`
	RetryBackoffFactor    float64 `cfgDefault:"2.0" cfg:"RETRY_BACKOFF_FACTOR" cfgHelper:"Multiplier applied to the retry delay after each attempt"`
	HealthCheckInterval   int     `cfgDefault:"60000" cfg:"HEALTH_CHECK_INTERVAL" cfgHelper:"Milliseconds between downstream health probes"`
	ServerHealthTimeout   int     `cfgDefault:"10000" cfg:"SERVER_HEALTH_TIMEOUT" cfgHelper:"Milliseconds allowed for one health probe round"`
	ProxyTimeout          int     `cfgDefault:"30000" cfg:"PROXY_TIMEOUT" cfgHelper:"Milliseconds allowed for one proxied request"`
	LogLevel              string  `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warning, error, fatal, panic"`
}

func main() {
	ctx := context.Background()
	conf := Config{}
	err := goconfig.Parse(&conf)
	if err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	zerolog.SetGlobalLevel(logLevel(conf))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx = log.Logger.WithContext(ctx)

	cfgs, err := bridge.LoadDownstreams(conf.DownstreamsJSON, conf.ConfigFile)
	if err != nil {
		log.Error().Msgf("bad downstream configuration: %v", err)
		os.Exit(2)
	}

	state := estate.New()
	b, err := bridge.New(cfgs, state, bridge.Options{
		RegistryID:    conf.RegistryID,
		BaseURL:       conf.BaseURL,
		BaseURLHeader: conf.BaseURLHeader,
		ProxyTimeout:  time.Duration(conf.ProxyTimeout) * time.Millisecond,
		CacheDir:      conf.CacheDir,
	})
	if err != nil {
		log.Error().Msgf("bad downstream configuration: %v", err)
		os.Exit(2)
	}

	err = b.Initialize(ctx, bridge.InitOptions{
		Budget:         time.Duration(conf.InitializationTimeout) * time.Millisecond,
		RetryInitial:   time.Duration(conf.RetryInitialDelay) * time.Millisecond,
		RetryMax:       time.Duration(conf.RetryMaxDelay) * time.Millisecond,
		Multiplier:     conf.RetryBackoffFactor,
		AttemptTimeout: time.Duration(conf.ServerHealthTimeout) * time.Millisecond,
	})
	if err != nil {
		log.Error().Msgf("initialization failed: %v", err)
		os.Exit(1)
	}

	mon := bridge.NewMonitor(b)
	mon.Interval = time.Duration(conf.HealthCheckInterval) * time.Millisecond
	mon.Timeout = time.Duration(conf.ServerHealthTimeout) * time.Millisecond
	monCtx, stopMon := context.WithCancel(ctx)
	defer stopMon()
	go mon.Start(monCtx)

	h := bridge.NewHandler(b, bridge.RouterOptions{
		Auth: bridge.AuthOptions{
			APIKey:         conf.APIKey,
			RequiredGroups: splitList(conf.RequiredGroups),
			AllowLocalhost: conf.AllowLocalhostBypass,
		},
		AllowedOrigins: splitList(conf.AllowedOrigins),
	})
	addr := fmt.Sprintf("0.0.0.0:%d", conf.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     gzhttp.GzipHandler(h),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan os.Signal, 1)
	var interrupted atomic.Bool
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-done
		if sig == os.Interrupt {
			interrupted.Store(true)
		}
		log.Info().Msg("shutting down")
		shCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		srv.Shutdown(shCtx)
	}()

	log.Printf("starting http server on %v", addr)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Msgf("failed to start http server: %v", err)
	}
	if interrupted.Load() {
		// 128+SIGINT, the conventional code for an interrupted process.
		os.Exit(130)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func logLevel(conf Config) zerolog.Level {
	level := strings.ToLower(conf.LogLevel)
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
