// Package main is the entrypoint for qserv-worker, the per-shard daemon
// that accepts chunk dispatch requests, stages sub-chunk tables, runs
// fragment SQL against the local embedded engine, and streams rows back
// to the master.
//
// Grounded on the teacher's cmd/gateway/main.go: flag-and-env-var config
// resolution, a net/http.Server with read/write/idle timeouts, and
// signal-driven graceful shutdown, reused here for the worker daemon
// instead of the SQL gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/qserv/qserv/internal/chunkresource"
	"github.com/qserv/qserv/internal/config"
	"github.com/qserv/qserv/internal/memman"
	"github.com/qserv/qserv/internal/wbase"
	"github.com/qserv/qserv/internal/wexec"
	"github.com/qserv/qserv/internal/workerdb"
	"github.com/qserv/qserv/internal/wservice"
	"github.com/qserv/qserv/internal/wsched"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "qserv-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "worker config file (default: ./qserv-worker.yaml)")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		engineKind = flag.String("engine", "", "embedded engine: duckdb | sqlite (default duckdb)")
		showVer    = flag.Bool("version", false, "show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("qserv-worker version %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.ThreadPoolSize <= 0 {
		cfg.ThreadPoolSize = runtime.NumCPU()
	}

	kind := workerdb.EngineDuckDB
	if *engineKind == "sqlite" {
		kind = workerdb.EngineSQLite
	}
	engine, err := workerdb.Open(workerdb.Config{Engine: kind, DatabasePath: ":memory:"})
	if err != nil {
		return fmt.Errorf("opening worker engine: %w", err)
	}
	defer engine.Close()

	var mm memman.MemoryManager
	switch cfg.MemMan {
	case "MemManNone":
		mm = memman.NewNoneMemMan()
	default:
		mm = memman.NewRealMemMan(int64(cfg.MemManMB))
	}

	resources := chunkresource.NewManager(chunkresource.NewRealBackend(engine))
	core := wexec.NewCore(engine, resources, mm)

	runFunc := func(t *wbase.Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		core.Run(ctx, t)
	}

	sched := wsched.NewBlendScheduler(
		cfg.ThreadPoolSize,
		cfg.GroupSize,
		cfg.ReserveFast, cfg.ReserveMed, cfg.ReserveSlow,
		runFunc,
	)

	svc := wservice.New(cfg.ListenAddr, cfg.ThreadPoolSize, sched, mm)

	log.Printf("qserv-worker %s (commit %s) listening on %s", version, commit, cfg.ListenAddr)
	log.Printf("engine=%s pool=%d memman=%s", kind, cfg.ThreadPoolSize, cfg.MemMan)

	// wservice.ListenAndServe owns its own SIGINT/SIGTERM handling and
	// blocks until the server has drained and shut down.
	if err := svc.ListenAndServe(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
