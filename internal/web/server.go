// Package web provides the HTTP configuration portal: counter
// inspection, force-set and renaming, plus the metrics endpoint.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/pulse-counter/internal/config"
	"github.com/sweeney/pulse-counter/internal/counter"
)

// Server serves the configuration portal over HTTP.
type Server struct {
	httpServer *http.Server
	store      *counter.Store
	persister  *counter.Persister
	cfg        *config.Config
	start      time.Time

	// connected reports the MQTT connection state for the status
	// view. Nil means no MQTT client (config mode).
	connected func() bool
}

// New creates a Server bound to the store and persister.
func New(addr string, store *counter.Store, persister *counter.Persister, cfg *config.Config, connected func() bool) *Server {
	s := &Server{
		store:     store,
		persister: persister,
		cfg:       cfg,
		start:     time.Now(),
		connected: connected,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/index.html", s.handleIndex).Methods("GET")
	r.HandleFunc("/index.json", s.handleJSON).Methods("GET")
	r.HandleFunc("/counters/{id:[0-9]+}", s.handleSetCounter).Methods("POST")
	r.HandleFunc("/names/{id:[0-9]+}", s.handleSetName).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.view())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatJSON(s.view()))
}

// handleSetCounter force-sets a channel from the portal form and
// writes the value through immediately.
func (s *Server) handleSetCounter(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseUint(r.FormValue("value"), 10, 32)
	if err != nil {
		http.Error(w, "bad value", http.StatusBadRequest)
		return
	}
	if err := s.store.ForceSet(index, uint32(value)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.persister.ForceSave(index, uint32(value)); err != nil {
		log.Printf("web: save channel %d: %v", index, err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}
	name := r.FormValue("name")
	if err := s.store.SetName(index, name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// SetName substitutes the default for an empty submission.
	saved, _ := s.store.Name(index)
	if err := s.persister.SaveName(index, saved); err != nil {
		log.Printf("web: save name %d: %v", index, err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
