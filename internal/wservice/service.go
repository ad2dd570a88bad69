// Package wservice is the worker's HTTP daemon: it accepts per-chunk
// dispatch requests, admits them onto the worker scheduler, and streams
// results back as newline-delimited JSON, per spec.md §6 and §11.3.
//
// Grounded on the teacher's cmd/gateway/main.go net/http.Server wiring
// and signal-driven graceful shutdown, generalized from a single-route
// SQL gateway handler to the worker's dispatch/health/ready routes.
package wservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/qserv/qserv/internal/memman"
	"github.com/qserv/qserv/internal/wbase"
	"github.com/qserv/qserv/internal/wsched"
	"github.com/qserv/qserv/pkg/api"
	"github.com/qserv/qserv/pkg/models"
)

// Executor runs one task to completion against the local engine,
// streaming rows to its reply channel. internal/wexec.Core implements
// this; it is taken as an interface here so wservice never imports
// workerdb or chunkresource directly.
type Executor interface {
	Run(ctx context.Context, t *wbase.Task)
}

// Service is the worker's HTTP daemon.
type Service struct {
	Addr     string
	PoolSize int

	Scheduler *wsched.BlendScheduler
	MemMan    memman.MemoryManager

	server *http.Server
}

// New wires a Service. The caller is responsible for constructing the
// BlendScheduler with a RunFunc bound to an Executor, per spec.md §4.3's
// scheduler-then-execute pipeline.
func New(addr string, poolSize int, sched *wsched.BlendScheduler, mm memman.MemoryManager) *Service {
	return &Service{Addr: addr, PoolSize: poolSize, Scheduler: sched, MemMan: mm}
}

// Handler builds the worker's HTTP route table.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(api.RoutePrefixQuery2+"/", s.handleDispatch(false))
	mux.HandleFunc(api.RoutePrefixQueryLegacy+"/", s.handleDispatch(true))
	mux.HandleFunc(api.RouteHealth, s.handleHealth)
	mux.HandleFunc(api.RouteReady, s.handleReady)
	return mux
}

func (s *Service) handleDispatch(legacy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req models.ChunkQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request body: %v", err), http.StatusBadRequest)
			return
		}
		if chunkID, ok := chunkIDFromPath(r.URL.Path); ok {
			req.ChunkID = chunkID
		}
		_ = legacy // protocol distinction is carried in req.Protocol by the caller

		w.Header().Set(api.HeaderContentType, api.ContentTypeNDJSON)
		w.Header().Set(api.HeaderJobID, req.JobID)
		w.WriteHeader(http.StatusOK)

		reply := newHTTPReply(w)
		task := wbase.NewTask(req.JobID, req.DB, req.ChunkID, reply)
		task.Fragments = req.Fragments
		task.SubChunkIDs = req.SubChunks
		task.ScanTables = req.ScanInfo.Tables
		task.SortKey = req.User
		if req.Session != "" {
			task.QueryHash = req.Session + ":" + req.JobID
		}

		s.Scheduler.Submit(task)

		select {
		case <-reply.Done():
		case <-r.Context().Done():
			task.Poison()
			<-reply.Done()
		}
	}
}

// chunkIDFromPath extracts the trailing /<chunk> path segment, since the
// request body may omit ChunkID when the caller relies on the route.
func chunkIDFromPath(path string) (int32, bool) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 || idx == len(path)-1 {
		return 0, false
	}
	n, err := strconv.ParseInt(path[idx+1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := models.HealthInfo{
		Status:         "ok",
		Version:        api.Version,
		PoolSize:       s.PoolSize,
		ActiveTasks:    s.Scheduler.Pending(),
		MemManBudgetMB: s.MemMan.BudgetMB(),
		MemManUsedMB:   s.MemMan.UsedMB(),
	}
	w.Header().Set(api.HeaderContentType, api.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(info)
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(api.HeaderContentType, api.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// ListenAndServe runs the HTTP daemon until SIGINT/SIGTERM, then drains
// in-flight requests with a bounded grace period before returning.
func (s *Service) ListenAndServe() error {
	s.server = &http.Server{
		Addr:         s.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses must not be write-timed out
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("wservice: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.Printf("wservice: shutdown error: %v", err)
		}
		s.Scheduler.Stop()
		close(done)
	}()

	log.Printf("wservice: listening on %s", s.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("wservice: server error: %w", err)
	}
	<-done
	return nil
}
