package visualization

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/store"
)

// LatticeFunc returns the lattice a stored run was simulated on.
type LatticeFunc func(run *store.Run) (lattice.Graph, error)

// Server serves stored runs as an HTML index, PNG charts, lattice DOT and
// JSON.
type Server struct {
	store      store.RunStore
	latticeFor LatticeFunc
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a run viewer over rs. latticeFor rebuilds the lattice of
// a run for the DOT endpoint.
func NewServer(rs store.RunStore, latticeFor LatticeFunc) *Server {
	return &Server{store: rs, latticeFor: latticeFor}
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/chart.png", s.handleChart)
	mux.HandleFunc("GET /runs/{id}/lattice.dot", s.handleLattice)
	return mux
}

// ListenAndServe starts the HTTP server on an OS-assigned port and blocks
// until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Let the OS pick a free port.
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.mu.Unlock()

	// Graceful shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

//go:embed templates/index.html.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{Limit: 100})
	if err != nil {
		http.Error(w, "list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, struct{ Runs []store.Run }{runs}); err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		EnsembleID: r.URL.Query().Get("ensemble"),
		Status:     r.URL.Query().Get("status"),
	})
	if err != nil {
		http.Error(w, "list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	samples, err := s.store.Samples(r.Context(), run.ID)
	if err != nil {
		http.Error(w, "load samples: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := RenderChart(&buf, samples, ChartOptions{Title: "run " + run.ID}); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTooFewSamples) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleLattice(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	samples, err := s.store.Samples(r.Context(), run.ID)
	if err != nil {
		http.Error(w, "load samples: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(samples) == 0 {
		http.Error(w, "run has no samples", http.StatusNotFound)
		return
	}
	if s.latticeFor == nil {
		http.Error(w, "lattice rendering unavailable", http.StatusNotImplemented)
		return
	}
	g, err := s.latticeFor(run)
	if err != nil {
		http.Error(w, "rebuild lattice: "+err.Error(), http.StatusInternalServerError)
		return
	}

	dot, err := RenderDOT(g, samples[len(samples)-1].Snapshot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(dot))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "run not found: "+r.PathValue("id"), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
