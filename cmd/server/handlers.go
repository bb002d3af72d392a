package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hperssn/tourguide/internal/domain"
	httpapi "github.com/hperssn/tourguide/internal/http"
	"github.com/hperssn/tourguide/internal/narration"
	"github.com/hperssn/tourguide/internal/runner"
	"github.com/hperssn/tourguide/internal/storage"
)

// Tours is the part of runner.TourManager the handlers drive.
type Tours interface {
	Tours() []*domain.Tour
	Events(ctx context.Context, userID, tour string) (<-chan runner.Event, error)
	Start(ctx context.Context, userID, tour string, autoplay bool) (runner.Status, error)
	Visit(ctx context.Context, userID, tour string, autoplay bool) (bool, runner.Status, error)
	Advance(userID, tour string) (runner.Status, error)
	Cancel(userID, tour string) (runner.Status, error)
	Status(userID, tour string) (runner.Status, error)
	SpeechEnded(userID, tour string, u narration.Utterance) error
	ResetSeen(ctx context.Context, userID, tour string) error
}

type server struct {
	tours     Tours
	repo      storage.Repository
	logger    *zap.Logger
	staticDir string
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.serveIndex)
	fs := http.FileServer(http.Dir(s.staticDir))
	r.Handle("/static/*", http.StripPrefix("/static/", fs))

	r.Group(func(r chi.Router) {
		r.Use(httpapi.ExtractUserMiddleware(s.logger))

		r.Get("/tours", s.listTours)
		r.Get("/tours/stats", s.getStats)
		r.Get("/tours/runs", s.listRuns)
		r.Post("/tours/{tour}/visit", s.visitTour)
		r.Post("/tours/{tour}/start", s.startTour)
		r.Post("/tours/{tour}/advance", s.advanceTour)
		r.Post("/tours/{tour}/cancel", s.cancelTour)
		r.Get("/tours/{tour}/status", s.getStatus)
		r.Get("/tours/{tour}/events", httpapi.StreamTourEvents(s.tours, s.logger))
		r.Post("/tours/{tour}/speech/{utterance}/end", s.speechEnded)
		r.Delete("/tours/{tour}/seen", s.resetSeen)

		r.Get("/preferences", s.getPreferences)
		r.Put("/preferences", s.putPreferences)
	})

	return r
}

func (s *server) serveIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

type tourSummary struct {
	Name  string `json:"name"`
	Flag  string `json:"flag"`
	Home  string `json:"home"`
	Steps int    `json:"steps"`
}

func (s *server) listTours(w http.ResponseWriter, r *http.Request) {
	tours := s.tours.Tours()
	out := make([]tourSummary, 0, len(tours))
	for _, t := range tours {
		out = append(out, tourSummary{Name: t.Name, Flag: t.FlagName, Home: t.HomePanel, Steps: len(t.Steps)})
	}
	respondJSON(w, out, http.StatusOK)
}

type startRequest struct {
	Autoplay bool `json:"autoplay"`
}

// decodeStart accepts an empty body as manual mode.
func decodeStart(r *http.Request) (startRequest, error) {
	var req startRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func (s *server) visitTour(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStart(r)
	if err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	started, status, err := s.tours.Visit(r.Context(), httpapi.GetUserID(r), chi.URLParam(r, "tour"), req.Autoplay)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	respondJSON(w, struct {
		Started bool          `json:"started"`
		Status  runner.Status `json:"status"`
	}{started, status}, http.StatusOK)
}

func (s *server) startTour(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStart(r)
	if err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status, err := s.tours.Start(r.Context(), httpapi.GetUserID(r), chi.URLParam(r, "tour"), req.Autoplay)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func (s *server) advanceTour(w http.ResponseWriter, r *http.Request) {
	status, err := s.tours.Advance(httpapi.GetUserID(r), chi.URLParam(r, "tour"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func (s *server) cancelTour(w http.ResponseWriter, r *http.Request) {
	status, err := s.tours.Cancel(httpapi.GetUserID(r), chi.URLParam(r, "tour"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func (s *server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tours.Status(httpapi.GetUserID(r), chi.URLParam(r, "tour"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func (s *server) speechEnded(w http.ResponseWriter, r *http.Request) {
	u, err := strconv.ParseUint(chi.URLParam(r, "utterance"), 10, 64)
	if err != nil {
		respondError(w, "invalid utterance", http.StatusBadRequest)
		return
	}

	if err := s.tours.SpeechEnded(httpapi.GetUserID(r), chi.URLParam(r, "tour"), narration.Utterance(u)); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) resetSeen(w http.ResponseWriter, r *http.Request) {
	if err := s.tours.ResetSeen(r.Context(), httpapi.GetUserID(r), chi.URLParam(r, "tour")); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.GetRunStats(r.Context(), httpapi.GetUserID(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, stats, http.StatusOK)
}

// listRuns returns the user's ended tour sessions, newest first. An
// RFC 3339 since parameter limits them to runs completed after it.
func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	userID := httpapi.GetUserID(r)

	var runs []storage.RunRecord
	var err error
	if v := r.URL.Query().Get("since"); v != "" {
		since, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			respondError(w, "invalid since, want RFC 3339", http.StatusBadRequest)
			return
		}
		runs, err = s.repo.GetRecentRuns(r.Context(), userID, since)
	} else {
		runs, err = s.repo.GetRunsByUser(r.Context(), userID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	if runs == nil {
		runs = []storage.RunRecord{}
	}
	respondJSON(w, runs, http.StatusOK)
}

func (s *server) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.repo.GetPreferences(r.Context(), httpapi.GetUserID(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, prefs, http.StatusOK)
}

func (s *server) putPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs storage.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := prefs.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}

	if err := s.repo.SavePreferences(r.Context(), httpapi.GetUserID(r), &prefs); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, prefs, http.StatusOK)
}

// respondErr maps package sentinels to status codes. Anything unknown is
// logged and reported as 500.
func (s *server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runner.ErrTourNotFound), errors.Is(err, runner.ErrPlayerNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, narration.ErrUnknownUtterance):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, storage.ErrInvalidTheme):
		respondError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
