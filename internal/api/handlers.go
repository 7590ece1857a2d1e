package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/visualization"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// startBody is the JSON accepted by POST /api/simulation/start. Every field
// is optional; omitted rates fall back to the server defaults.
type startBody struct {
	Parameters struct {
		Airborne            *float64 `json:"airborne"` // alias of infection_rate
		InfectionRate       *float64 `json:"infection_rate"`
		RecoveryRate        *float64 `json:"recovery_rate"`
		MortalityRate       *float64 `json:"mortality_rate"`
		SocioeconomicImpact *float64 `json:"socioeconomic_impact"`
	} `json:"parameters"`

	InitialTile  string  `json:"initial_infected_tile"`
	InitialCount int     `json:"initial_count"`
	SeedCount    int     `json:"seed_count"`
	Seed         uint64  `json:"seed"`
	MaxDays      int     `json:"max_days"`
	Speed        float64 `json:"speed"`
}

type runResponse struct {
	ID      string        `json:"id"`
	Status  runner.Status `json:"status"`
	Day     int           `json:"day"`
	Seed    uint64        `json:"seed"`
	Speed   float64       `json:"speed"`
	Message string        `json:"message,omitempty"`
}

type tile struct {
	GeoID       string     `json:"geoid"`
	Population  int        `json:"total_population"`
	Infected    int        `json:"amount_infected"`
	Deceased    int        `json:"amount_deceased"`
	Coordinates [2]float64 `json:"coordinates"`
}

type stateResponse struct {
	ID     string        `json:"id"`
	Status runner.Status `json:"status"`
	Day    int           `json:"day"`
	Tiles  []tile        `json:"tiles"`
}

type statisticsResponse struct {
	RunID  string        `json:"run_id,omitempty"`
	Status runner.Status `json:"status,omitempty"`
	epidemic.Aggregate
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := visualization.RenderHTML(visualization.PageOptions{Title: "cura"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render error: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"census_tracts_loaded": s.runner.Graph().Len(),
		"uptime_seconds":       int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleTracts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	views := s.views()
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTract(w http.ResponseWriter, r *http.Request) {
	geoid := r.PathValue("geoid")
	t, ok := s.runner.Tract(geoid)
	if !ok {
		writeError(w, http.StatusNotFound, "census tract not found: "+geoid)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	data, err := visualization.GeoJSON(s.views()).MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Snapshot()
	if snap == nil {
		g := s.runner.Graph()
		writeJSON(w, http.StatusOK, statisticsResponse{Aggregate: epidemic.Summarize(g, 0, epidemic.DayReport{})})
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{RunID: snap.RunID, Status: snap.Status, Aggregate: snap.Stats})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runner.Runs(r.Context())
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.startLimiter.Reserve(clientKey(r)); !ok {
		if wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		writeError(w, http.StatusTooManyRequests, "simulation start rate limit exceeded, please try again shortly")
		return
	}

	var body startBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := s.startRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.runner.Start(r.Context(), req)
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	s.logger.Info("simulation started", "run", snap.RunID, "client", clientKey(r))
	writeJSON(w, http.StatusOK, toRunResponse(snap, "Simulation started successfully"))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.Stop(r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(snap, "Simulation stopped successfully"))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(snap, "Simulation reset to initial state"))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	snap, err := s.runner.SetSpeed(r.PathValue("id"), body.Speed)
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(snap, ""))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, DefaultTileLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	snap := s.runner.Snapshot()
	if snap == nil || snap.RunID != id {
		writeError(w, http.StatusNotFound, "simulation not found: "+id)
		return
	}

	views := snap.Tracts
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	tiles := make([]tile, len(views))
	for i, v := range views {
		tiles[i] = tile{
			GeoID:       v.ID,
			Population:  v.Population,
			Infected:    v.Infectious,
			Deceased:    v.Deceased,
			Coordinates: [2]float64{v.Lon, v.Lat},
		}
	}
	writeJSON(w, http.StatusOK, stateResponse{ID: snap.RunID, Status: snap.Status, Day: snap.Stats.Day, Tiles: tiles})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	days, err := s.runner.History(r.Context(), id)
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	if days == nil {
		days = []store.Day{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "days": days})
}

// views returns the latest run's tracts, or the provisioning graph's when
// no run exists.
func (s *Server) views() []epidemic.TractView {
	if snap := s.runner.Snapshot(); snap != nil {
		return snap.Tracts
	}
	return epidemic.Views(s.runner.Graph())
}

func (s *Server) startRequest(body startBody) (runner.StartRequest, error) {
	req := s.defaults
	p := body.Parameters

	set := func(dst *float64, name string, v *float64) error {
		if v == nil {
			return nil
		}
		if *v < 0 || *v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, *v)
		}
		*dst = *v
		return nil
	}
	for _, f := range []struct {
		dst  *float64
		name string
		v    *float64
	}{
		{&req.Params.InfectionRate, "airborne", p.Airborne},
		{&req.Params.InfectionRate, "infection_rate", p.InfectionRate},
		{&req.Params.RecoveryRate, "recovery_rate", p.RecoveryRate},
		{&req.Params.MortalityRate, "mortality_rate", p.MortalityRate},
		{&req.Params.SocioeconomicImpact, "socioeconomic_impact", p.SocioeconomicImpact},
	} {
		if err := set(f.dst, f.name, f.v); err != nil {
			return req, err
		}
	}

	if body.InitialCount < 0 || body.SeedCount < 0 || body.MaxDays < 0 || body.Speed < 0 {
		return req, errors.New("counts, max_days and speed must not be negative")
	}
	if body.InitialTile != "" {
		req.InitialTract = body.InitialTile
		req.InitialCount = body.InitialCount
	}
	if body.SeedCount > 0 {
		req.SeedCount = body.SeedCount
	}
	if body.Seed != 0 {
		req.Seed = body.Seed
	}
	if body.MaxDays > 0 {
		req.MaxDays = body.MaxDays
	}
	if body.Speed > 0 {
		req.Speed = body.Speed
	}
	return req, nil
}

func toRunResponse(snap *runner.Snapshot, msg string) runResponse {
	return runResponse{
		ID:      snap.RunID,
		Status:  snap.Status,
		Day:     snap.Stats.Day,
		Seed:    snap.Seed,
		Speed:   snap.Speed,
		Message: msg,
	}
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func writeRunnerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runner.ErrNoRun),
		errors.Is(err, runner.ErrRunMismatch),
		errors.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, epidemic.ErrInvalidArgument),
		errors.Is(err, epidemic.ErrUnknownTract):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
