package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/db"
	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/export"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

type WindowReader interface {
	Window() model.OutageWindow
}

type SnapshotLoader interface {
	Load(date string) (export.Snapshot, error)
}

// Server exposes recorded results read-only. It never triggers a check.
type Server struct {
	db        *sql.DB
	window    WindowReader
	snapshots SnapshotLoader
	metrics   http.Handler
	cfg       config.API
	now       func() time.Time
}

type StatusResponse struct {
	Latest *model.ReconciliationRecord `json:"latest"`
	Window string                      `json:"outage_window"`
}

type RecordsResponse struct {
	Date    string                       `json:"date"`
	Records []model.ReconciliationRecord `json:"records"`
}

type SummaryResponse struct {
	Date string `json:"date"`
	model.DailySummary
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, window WindowReader, snapshots SnapshotLoader, metrics http.Handler, cfg config.API) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{
		db:        database,
		window:    window,
		snapshots: snapshots,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handler returns the routed, compressed and CORS-wrapped API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/records", s.getRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", s.getSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot/{date}", s.getSnapshot).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)
	return cors(gziphandler.GzipHandler(r))
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("REST API shutdown incomplete")
		}
	}()

	log.Info().Str("address", addr).Msg("Starting REST API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Window: model.OutageWindow{}.String()}
	if s.window != nil {
		resp.Window = s.window.Window().String()
	}

	latest, err := db.GetLatestRecord(s.db)
	switch {
	case errors.Is(err, db.ErrNoRecords):
	case err != nil:
		log.Error().Err(err).Msg("Failed to read latest record")
		s.writeError(w, http.StatusInternalServerError, "failed to read latest record")
		return
	default:
		resp.Latest = latest
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	day, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	records, err := db.GetRecords(s.db, day)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read records")
		s.writeError(w, http.StatusInternalServerError, "failed to read records")
		return
	}
	if records == nil {
		records = []model.ReconciliationRecord{}
	}
	s.writeJSON(w, http.StatusOK, RecordsResponse{Date: day.Format(export.DateLayout), Records: records})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	day, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	summary, err := db.DailySummary(s.db, day)
	if err != nil {
		log.Error().Err(err).Msg("Failed to summarise day")
		s.writeError(w, http.StatusInternalServerError, "failed to summarise day")
		return
	}
	s.writeJSON(w, http.StatusOK, SummaryResponse{Date: day.Format(export.DateLayout), DailySummary: summary})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.ParseInLocation(export.DateLayout, date, time.Local); err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if s.snapshots == nil {
		s.writeError(w, http.StatusNotFound, "exports disabled")
		return
	}

	snapshot, err := s.snapshots.Load(date)
	if errors.Is(err, export.ErrSnapshotNotFound) {
		s.writeError(w, http.StatusNotFound, "no snapshot for "+date)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("Failed to load snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// parseDate reads the optional date query parameter, defaulting to today.
func (s *Server) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.now(), true
	}
	day, err := time.ParseInLocation(export.DateLayout, raw, time.Local)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
