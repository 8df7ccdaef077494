package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apicache "github.com/api-cache/api-cache"
	"github.com/api-cache/api-cache/store"
)

var (
	// CLI flags
	portFlag           int
	originFlag         string
	configFilenameFlag string
	dbFilenameFlag     string
	logFilenameFlag    string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

// environment overrides, applied on top of flags and config file
type environment struct {
	Port   int    `env:"PORT"`
	Origin string `env:"ORIGIN"`
	DB     string `env:"CACHE_DB"`
}

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for an in-memory db)")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	port := portFlag
	origin := originFlag
	dbFilename := dbFilenameFlag
	endpoints := apicache.DefaultEndpoints

	if configFilenameFlag != "" {
		config, err := getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
		if config.Port > 0 {
			port = config.Port
		}
		if origin == "" {
			origin = config.Origin
		}
		if config.DB != "" {
			dbFilename = config.DB
		}
		if len(config.Endpoints) > 0 {
			endpoints = config.endpoints()
		}
	}

	var envConfig environment
	if err := env.Parse(&envConfig); err != nil {
		log.Fatal().Err(err).Msg("Cannot read environment")
	}
	if envConfig.Port > 0 {
		port = envConfig.Port
	}
	if envConfig.Origin != "" {
		origin = envConfig.Origin
	}
	if envConfig.DB != "" {
		dbFilename = envConfig.DB
	}

	if origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot parse origin URL")
	}

	if dbFilename == "memory" {
		dbFilename = ""
	}
	cacheStore := store.NewSQLiteStore(dbFilename)

	manager := apicache.NewManager(cacheStore, &log.Logger)
	// take over from any previous generation before serving requests
	if err := manager.Activate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Activation failed")
	}

	client := &http.Client{
		Transport: apicache.New(apicache.Config{
			Store:     cacheStore,
			Logger:    &log.Logger,
			Endpoints: endpoints,
		}),
	}

	r := chi.NewRouter()
	r.Post("/-/cache/clear", clearHandler(manager))
	r.Get("/-/cache/events", eventsHandler(manager))
	r.Handle("/*", proxyHandler(client, originURL))

	log.Info().Int("port", port).Str("origin", originURL.String()).Msg("Listening")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// proxyHandler forwards every request to the origin through the caching
// transport, so allow-listed reads are mediated by the store and everything
// else passes through untouched.
func proxyHandler(client *http.Client, origin *url.URL) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
		req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		copyHeader(req.Header, r.Header)

		res, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("url", target.String()).Msg("Proxy request failed")
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		defer res.Body.Close()

		copyHeader(w.Header(), res.Header)
		w.WriteHeader(res.StatusCode)
		if _, err := io.Copy(w, res.Body); err != nil {
			log.Warn().Err(err).Msg("Could not write response body to client")
		}
	}
}

// clearHandler accepts the application's invalidation command, sent on
// login/logout transitions.
func clearHandler(manager *apicache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg apicache.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		if err := manager.HandleMessage(r.Context(), msg); err != nil {
			log.Error().Err(err).Msg("Invalidation failed")
			http.Error(w, "invalidation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(apicache.Message{Type: apicache.MessageCacheCleared})
	}
}

// eventsHandler streams confirmation broadcasts to a connected application
// instance as server-sent events.
func eventsHandler(manager *apicache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		flusher.Flush()

		ch := manager.Subscribe()
		defer manager.Unsubscribe(ch)
		for {
			select {
			case <-r.Context().Done():
				return
			case msg := <-ch:
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// strip upstream proxy headers, some servers do not like them
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
