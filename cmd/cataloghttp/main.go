package main

import (
	"context"
	"errors"
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

	"github.com/xregistry/xrbridge/catalog"
	"github.com/xregistry/xrbridge/driver/memory"
	"github.com/xregistry/xrbridge/filter"
	"github.com/xregistry/xrbridge/internal/estate"
	"github.com/xregistry/xrbridge/names"
)

// Config this struct is using the goconfig library for simple flag and env var
// parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	HTTPListenAddr  string `cfgDefault:"0.0.0.0:8081" cfg:"HTTP_LISTEN_ADDR"`
	RegistryID      string `cfgDefault:"xregistry-catalog" cfg:"REGISTRY_ID"`
	GroupType       string `cfgDefault:"noderegistries" cfg:"GROUP_TYPE" cfgHelper:"Group type this backend serves"`
	GroupID         string `cfgDefault:"npmjs.org" cfg:"GROUP_ID" cfgHelper:"Group id this backend serves"`
	ResourceType    string `cfgDefault:"packages" cfg:"RESOURCE_TYPE"`
	PurlType        string `cfgDefault:"" cfg:"PURL_TYPE" cfgHelper:"Package-url type emitted on versions: npm, pypi, maven, nuget, oci, generic"`
	SeedFile        string `cfgDefault:"" cfg:"SEED_FILE" cfgHelper:"JSON package list served by the in-memory upstream"`
	CacheDir        string `cfgDefault:"" cfg:"CACHE_DIR" cfgHelper:"Directory for the name-catalog snapshot; empty disables persistence"`
	RefreshInterval int    `cfgDefault:"43200" cfg:"REFRESH_INTERVAL" cfgHelper:"Seconds between name catalog refreshes"`
	BaseURL         string `cfgDefault:"" cfg:"BASE_URL" cfgHelper:"Fallback effective base URL emitted in self links"`
	BaseURLHeader   string `cfgDefault:"" cfg:"BASE_URL_HEADER"`
	PageLimit       int    `cfgDefault:"50" cfg:"PAGE_LIMIT"`
	LogLevel        string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warning, error, fatal, panic"`
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

	adapter := memory.New()
	if conf.SeedFile != "" {
		if err := adapter.LoadFile(conf.SeedFile); err != nil {
			log.Error().Msgf("bad seed file: %v", err)
			os.Exit(2)
		}
	}

	nc, err := names.New(ctx, adapter, names.Options{
		Dir:      conf.CacheDir,
		Interval: time.Duration(conf.RefreshInterval) * time.Second,
	})
	if err != nil {
		log.Fatal().Msgf("failed to open name catalog: %v", err)
	}
	defer nc.Close()
	if err := nc.Refresh(ctx); err != nil {
		// A stale snapshot still serves; a refresh failure on a cold
		// start means an empty catalog until the next tick.
		log.Warn().Msgf("initial name refresh failed: %v", err)
	}
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go nc.Start(refreshCtx)

	engine := filter.New(adapter, nc, filter.Options{})
	c := catalog.New(adapter, nc, engine, estate.New(), catalog.Options{
		RegistryID:    conf.RegistryID,
		GroupType:     conf.GroupType,
		GroupID:       conf.GroupID,
		ResourceType:  conf.ResourceType,
		PurlType:      conf.PurlType,
		BaseURL:       conf.BaseURL,
		BaseURLHeader: conf.BaseURLHeader,
		PageLimit:     conf.PageLimit,
	})

	h := catalog.NewHandler(c)
	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
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

	log.Printf("starting http server on %v", conf.HTTPListenAddr)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Msgf("failed to start http server: %v", err)
	}
	if interrupted.Load() {
		// 128+SIGINT, the conventional code for an interrupted process.
		os.Exit(130)
	}
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
