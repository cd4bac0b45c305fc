// Command ticketflow runs the ticket orchestration HTTP service.
//
// Tickets submitted over HTTP are classified by keyword (optionally with a
// Claude front stage), routed to a pipeline and executed in the background.
// Session state is tracked in memory while results are persisted to the
// configured store.
//
// # Configuration
//
// Environment variables:
//
//	TICKETFLOW_ADDR        - HTTP listen address (default: ":8080")
//	TICKETFLOW_STORE       - fs, sqlite, mongo, replicated or memory (default: "fs")
//	TICKETFLOW_DATA_DIR    - fs store root (default: "./data/sessions")
//	TICKETFLOW_SQLITE_PATH - sqlite database file (default: "./data/ticketflow.db")
//	MONGO_URI              - MongoDB connection URI (default: "mongodb://localhost:27017")
//	MONGO_DATABASE         - MongoDB database (default: "ticketflow")
//	REDIS_URL              - Redis address for pulse and replicated (default: "localhost:6379")
//	REDIS_PASSWORD         - Redis password (optional)
//	TICKETFLOW_STREAM      - none or pulse (default: "none")
//	TICKETFLOW_STREAM_MAXLEN - entries kept per pulse stream (default: 1000)
//	TICKETFLOW_ROUTES      - routes YAML file (default: built-in routes)
//	ANTHROPIC_API_KEY      - enables anthropic pipelines and the analyzer
//	ANTHROPIC_MODEL        - Claude model identifier (default: "claude-sonnet-4-5")
//	TICKETFLOW_RETENTION   - how long finished sessions stay in memory (default: "1h")
//
// # Example
//
//	TICKETFLOW_STORE=sqlite go run ./cmd/ticketflow -debug
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/health"
	"goa.design/clue/log"

	"goa.design/ticketflow/features/anthropic"
	"goa.design/ticketflow/runtime/classifier"
	"goa.design/ticketflow/runtime/orchestrator"
	"goa.design/ticketflow/runtime/session/inmem"
	"goa.design/ticketflow/runtime/telemetry"
)

func main() {
	var (
		addrF = flag.String("addr", envOr("TICKETFLOW_ADDR", ":8080"), "HTTP listen address")
		dbgF  = flag.Bool("debug", false, "Enable debug logs, pprof and the /debug log toggle")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, loadSettings(*addrF), *dbgF); err != nil {
		log.Fatal(ctx, err)
	}
}

type settings struct {
	addr         string
	store        string
	dataDir      string
	sqlitePath   string
	mongoURI     string
	mongoDB      string
	redisURL     string
	redisPass    string
	stream       string
	streamMaxLen int
	routesFile   string
	anthropicKey string
	model        string
	retention    time.Duration
}

func loadSettings(addr string) settings {
	return settings{
		addr:         addr,
		store:        envOr("TICKETFLOW_STORE", "fs"),
		dataDir:      envOr("TICKETFLOW_DATA_DIR", "./data/sessions"),
		sqlitePath:   envOr("TICKETFLOW_SQLITE_PATH", "./data/ticketflow.db"),
		mongoURI:     envOr("MONGO_URI", "mongodb://localhost:27017"),
		mongoDB:      envOr("MONGO_DATABASE", "ticketflow"),
		redisURL:     envOr("REDIS_URL", "localhost:6379"),
		redisPass:    os.Getenv("REDIS_PASSWORD"),
		stream:       envOr("TICKETFLOW_STREAM", "none"),
		streamMaxLen: envIntOr("TICKETFLOW_STREAM_MAXLEN", 1000),
		routesFile:   os.Getenv("TICKETFLOW_ROUTES"),
		anthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		model:        envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		retention:    envDurationOr("TICKETFLOW_RETENTION", time.Hour),
	}
}

func run(ctx context.Context, cfg settings, dbg bool) error {
	log.Print(ctx, log.KV{K: "addr", V: cfg.addr}, log.KV{K: "store", V: cfg.store}, log.KV{K: "stream", V: cfg.stream})

	routes, err := loadRoutes(cfg.routesFile)
	if err != nil {
		return err
	}

	var deps pipelineDeps
	if cfg.anthropicKey != "" {
		msgs, err := anthropic.NewMessagesClient(cfg.anthropicKey)
		if err != nil {
			return err
		}
		deps = pipelineDeps{messages: msgs, model: cfg.model}
	}
	pipelines, err := routes.buildRegistry(deps)
	if err != nil {
		return fmt.Errorf("build pipelines: %w", err)
	}
	analyzer, err := routes.analyzer(deps)
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}

	logger := telemetry.NewClueLogger()
	copts := []classifier.Option{classifier.WithLogger(logger)}
	if analyzer != nil {
		copts = append(copts, classifier.WithAnalyzer(analyzer))
	}
	cls, err := classifier.New(routes.classifierSpecs(), copts...)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	b := newBackends(cfg)
	defer b.close(context.WithoutCancel(ctx))
	store, err := b.openStore(ctx)
	if err != nil {
		return err
	}
	sink, err := b.openStream()
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:   inmem.New(),
		Store:      store,
		Classifier: cls,
		Pipelines:  pipelines,
		Stream:     sink,
		Logger:     logger,
		Metrics:    telemetry.NewClueMetrics(),
		Tracer:     telemetry.NewClueTracer(),
		Retention:  cfg.retention,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	chk := health.NewChecker(b.pingers()...)
	var handler http.Handler = newMux(orch, chk, dbg)
	handler = log.HTTP(ctx)(handler)
	srv := &http.Server{Addr: cfg.addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	sctx, cancel := context.WithCancel(ctx)
	serveHTTP(sctx, srv, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()

	// Let in-flight sessions persist their results before exiting.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer ccancel()
	if err := orch.Close(cctx); err != nil {
		log.Errorf(ctx, err, "closing orchestrator")
	}
	log.Printf(ctx, "exited")
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
