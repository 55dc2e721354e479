// Package api serves a read-only view of the controller on the local network.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

type ReadingStatus struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Unit        string    `json:"unit"`
	Time        time.Time `json:"time"`
}

type DeviceStatus struct {
	Name string `json:"name"`
	On   bool   `json:"on"`
	Pin  int    `json:"pin"`
}

type SensorStatus struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	WindowReadings      int    `json:"window_readings"`
	RejectedSpikes      int    `json:"rejected_spikes"`
}

type Status struct {
	Average      *ReadingStatus `json:"average"`
	Latest       *ReadingStatus `json:"latest"`
	Devices      []DeviceStatus `json:"devices"`
	Sensor       SensorStatus   `json:"sensor"`
	RecentSprays []time.Time    `json:"recent_sprays"`
	SafeMode     bool           `json:"safe_mode"`
	Stopping     bool           `json:"stopping"`
}

// NewReadingStatus renders r in its display unit.
func NewReadingStatus(r model.Reading) *ReadingStatus {
	p := r.Payload()
	return &ReadingStatus{
		Temperature: p["temperature"].(float64),
		Humidity:    p["humidity"].(float64),
		Unit:        string(r.Unit),
		Time:        r.Time,
	}
}

type StatusProvider interface {
	Status() Status
}

type EventSource interface {
	RecentEvents(limit int) ([]model.DeviceEvent, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type eventResponse struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
}

type Server struct {
	status StatusProvider
	events EventSource
}

// NewServer builds the server. events may be nil when the journal is disabled.
func NewServer(status StatusProvider, events EventSource) *Server {
	return &Server{status: status, events: events}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Starting status server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if st.Stopping {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopping"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotFound, "Journal disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := s.events.RecentEvents(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read device events")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]eventResponse, 0, len(events))
	for _, e := range events {
		response = append(response, eventResponse{ID: e.ID, Name: e.Name, Event: string(e.Event), Time: e.Time})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
