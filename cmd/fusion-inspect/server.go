package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	fusionclient "github.com/always-cache/fusion-client"
	"github.com/always-cache/fusion-client/contexttracker"
	"github.com/always-cache/fusion-client/httpclient"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// server exposes the data layer over HTTP for manual inspection.
type server struct {
	client  *fusionclient.Client
	tracker *contexttracker.Tracker
	log     zerolog.Logger
}

// routes builds the router. Context routes are only added if there is a tracker.
func (s *server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/resources", s.getResource)
	if s.tracker != nil {
		r.Get("/context", s.getContext)
		r.Put("/context", s.putContext)
		r.Get("/context/exchange", s.exchangeContext)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *server) getResource(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		key = url
	}
	var opts []fusionclient.LoadOption
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		opts = append(opts, fusionclient.Force())
	}

	resource, err := fusionclient.Load[any](r.Context(), s.client, key, url, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resource)
}

func (s *server) getContext(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, contexttracker.Cache{
		Current:  s.tracker.GetCurrentContext(),
		Previous: s.tracker.GetPreviousContext(),
	})
}

func (s *server) putContext(w http.ResponseWriter, r *http.Request) {
	var c contexttracker.Context
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.ID == "" {
		http.Error(w, "body must be a context with an id", http.StatusBadRequest)
		return
	}
	if err := s.tracker.SetCurrentContext(r.Context(), c); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) exchangeContext(w http.ResponseWriter, r *http.Request) {
	requiredType := r.URL.Query().Get("type")
	if requiredType == "" {
		http.Error(w, "missing type", http.StatusBadRequest)
		return
	}
	related, err := s.tracker.ExchangeCurrentContext(r.Context(), contexttracker.ContextType(requiredType))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, related)
}

// writeError passes failed upstream requests through with their status
// and reports everything else as a bad gateway.
func (s *server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn().Err(err).Msg("Request failed")
	var failed *httpclient.RequestFailedError
	if errors.As(err, &failed) {
		if len(failed.Body) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failed.Status)
			w.Write(failed.Body)
			return
		}
		http.Error(w, err.Error(), failed.Status)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Could not write response body to client")
	}
}
