package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ldew/stride/internal/store"
	"github.com/ldew/stride/pkg/models"
)

// Snapshots is the read-only projection of engine state the server exposes.
// Everything returned is a copy, never live state.
type Snapshots interface {
	ActiveTasks() []models.Task
	CompletedTasks() []models.Task
	Templates() []models.HabitTemplate
	SelectedTaskID() string
}

type Server struct {
	snap   Snapshots
	store  *store.Store
	server *http.Server
}

func NewServer(snap Snapshots, st *store.Store) *Server {
	return &Server{snap: snap, store: st}
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	return s.server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tasks/active", s.handleActiveTasks)
	mux.HandleFunc("/api/tasks/completed", s.handleCompletedTasks)
	mux.HandleFunc("/api/tasks/selected", s.handleSelectedTask)
	mux.HandleFunc("/api/templates", s.handleTemplates)
	mux.HandleFunc("/api/events", s.handleEvents)

	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.snap.ActiveTasks(), nil)
}

func (s *Server) handleCompletedTasks(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.snap.CompletedTasks(), nil)
}

func (s *Server) handleSelectedTask(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]string{"selected": s.snap.SelectedTaskID()}, nil)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.snap.Templates(), nil)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.store.FetchUnprocessed(r.Context(), limit)
	if records == nil {
		records = []store.EventRecord{}
	}
	s.respond(w, records, err)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
