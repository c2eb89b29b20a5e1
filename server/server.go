package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"propingest/faults"
	"propingest/models"
	"propingest/queue"
	"propingest/scheduler"
)

// JobHistory reads the local operational record of terminal jobs.
type JobHistory interface {
	RecentJobs(limit int) ([]models.Job, error)
}

// PropertyReader resolves one canonical property row.
type PropertyReader interface {
	GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.PersistedProperty, error)
}

// Server is the operational HTTP boundary: submit jobs, trigger a scheduled
// run by hand, and inspect queue, job, and error state. Not a public API.
type Server struct {
	manager    *queue.Manager
	classifier *faults.Handler
	sched      *scheduler.Scheduler
	history    JobHistory
	props      PropertyReader
	httpServer *http.Server
}

func New(addr string, manager *queue.Manager, classifier *faults.Handler, sched *scheduler.Scheduler, history JobHistory, props PropertyReader) *Server {
	s := &Server{
		manager:    manager,
		classifier: classifier,
		sched:      sched,
		history:    history,
		props:      props,
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	api.HandleFunc("/jobs/recent", s.handleRecentJobs).Methods("GET")
	api.HandleFunc("/scrape", s.handleScrape).Methods("POST")
	api.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")
	api.HandleFunc("/queue/jobs", s.handleActiveJobs).Methods("GET")
	api.HandleFunc("/queue/clear", s.handleClearQueues).Methods("POST")
	api.HandleFunc("/properties/{id}", s.handleGetProperty).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type submitJobRequest struct {
	Source      models.SourceID        `json:"source"`
	Kind        models.JobKind         `json:"kind"`
	URL         string                 `json:"url,omitempty"`
	Criteria    *models.SearchCriteria `json:"criteria,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	SubmittedBy string                 `json:"submitted_by,omitempty"`
}

// handleSubmitJob accepts a job and returns 202 immediately; results land
// asynchronously. The only sync failures are a bad body or unknown source.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payload := models.JobPayload{URL: req.URL, Criteria: req.Criteria, UserID: req.UserID}
	job, err := s.manager.NewJob(req.Source, req.Kind, payload, req.SubmittedBy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.manager.AddJob(job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// handleScrape kicks off the scheduled default searches on demand.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	created, err := s.sched.SubmitDefaultSearches()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"created":     created,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetQueueStats())
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.manager.GetActiveJobs()
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleRecentJobs reads terminal jobs from the operational history.
func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "job history not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := s.history.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	if s.props == nil {
		http.Error(w, "property store not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid property id", http.StatusBadRequest)
		return
	}
	prop, err := s.props.GetPropertyByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if prop == nil {
		http.Error(w, "property not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (s *Server) handleClearQueues(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearQueues()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.classifier.Health()
	status := http.StatusOK
	if report.Status == models.HealthStatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
