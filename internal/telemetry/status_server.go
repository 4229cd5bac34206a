package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kis-trader/engine/internal/domain"
)

// StatusServer is an optional, read-only operator surface: it exposes
// the last CycleReport and a process health snapshot, never write
// endpoints, and never sits on the cycle's critical path — it subscribes
// to the same Hub every other collaborator does.
type StatusServer struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	startedAt time.Time

	mu        sync.RWMutex
	last      domain.CycleReport
	errors    []errorRecord
	startProc domain.ProcessSnapshot
}

type errorRecord struct {
	Kind      string
	Message   string
	Timestamp time.Time
	Proc      domain.ProcessSnapshot
}

const maxRetainedErrors = 20

// NewStatusServer builds a StatusServer listening on addr (e.g. ":8090").
func NewStatusServer(addr string, log zerolog.Logger) *StatusServer {
	s := &StatusServer{
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "telemetry_status_server").Logger(),
		startedAt: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

func (s *StatusServer) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
}

func (s *StatusServer) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	memUsedPercent := 0.0
	if err == nil {
		memUsedPercent = memStat.UsedPercent
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":               true,
		"uptime_seconds":   time.Since(s.startedAt).Seconds(),
		"cpu_percent":      cpuAvg,
		"mem_used_percent": memUsedPercent,
	})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"last_cycle":            s.last,
		"recent_errors":         s.errors,
		"session_start_process": s.startProc,
	})
}

// Start begins serving in the background. Errors other than a clean
// shutdown are logged, not returned — this surface is a diagnostic
// collaborator, never a reason a session should fail to start.
func (s *StatusServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server stopped unexpectedly")
		}
	}()
}

// Stop closes the server immediately; in-flight requests are not drained.
func (s *StatusServer) Stop() {
	_ = s.server.Close()
}

// SessionStarted implements Subscriber, recording the process snapshot
// taken at session start as the baseline /status reports against.
func (s *StatusServer) SessionStarted(account domain.Account, proc domain.ProcessSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startProc = proc
}

// SessionEnded implements Subscriber.
func (s *StatusServer) SessionEnded(account domain.Account, reason string) {}

// CycleCompleted implements Subscriber, recording the latest report.
func (s *StatusServer) CycleCompleted(report domain.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = report
}

// OrderPlaced implements Subscriber.
func (s *StatusServer) OrderPlaced(side domain.Side, symbol string, quantity int, price float64, result domain.OrderResult) {
}

// Error implements Subscriber, retaining a bounded ring of recent errors.
func (s *StatusServer) Error(kind string, message string, proc domain.ProcessSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, errorRecord{Kind: kind, Message: message, Timestamp: time.Now(), Proc: proc})
	if len(s.errors) > maxRetainedErrors {
		s.errors = s.errors[len(s.errors)-maxRetainedErrors:]
	}
}

var _ Subscriber = (*StatusServer)(nil)
