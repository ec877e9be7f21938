package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/mass"
	"github.com/anstrom/loadout/internal/report"
	"github.com/anstrom/loadout/internal/store"
)

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// ScheduleResponse describes one mass run schedule.
type ScheduleResponse struct {
	MassType  string     `json:"mass_type"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// MassFindingsResponse is the body of /api/v1/mass/{id}/findings.
type MassFindingsResponse struct {
	MassID  int64                 `json:"mass_id"`
	Targets []mass.TargetFindings `json:"targets"`
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    map[string]string{},
	}

	if s.deps.Database != nil {
		if err := s.deps.Database.PingContext(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["database"] = "failed: " + err.Error()
		} else {
			resp.Checks["database"] = "ok"
		}
	} else {
		resp.Checks["database"] = "not configured"
	}

	if s.deps.Schedules != nil {
		resp.Checks["scheduler"] = fmt.Sprintf("%d schedules", len(s.deps.Schedules.GetJobs()))
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("store not configured"))
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("query parameter target is required"))
		return
	}

	scans, err := s.deps.Store.ListScansByTarget(r.Context(), target)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if scans == nil {
		scans = []store.Scan{}
	}
	s.writeJSON(w, http.StatusOK, scans)
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("store not configured"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	rep, err := report.Load(r.Context(), s.deps.Store, id, nil)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) massFindingsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("store not configured"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	findings, err := s.deps.Store.ListMassFindings(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	groups := mass.Group(findings)
	if groups == nil {
		groups = []mass.TargetFindings{}
	}
	s.writeJSON(w, http.StatusOK, MassFindingsResponse{MassID: id, Targets: groups})
}

func (s *Server) listSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Schedules == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("scheduler not running"))
		return
	}

	jobs := s.deps.Schedules.GetJobs()
	resp := make([]ScheduleResponse, 0, len(jobs))
	for _, job := range jobs {
		item := ScheduleResponse{MassType: job.MassType, Schedule: job.Schedule, Running: job.Running}
		if !job.LastRun.IsZero() {
			lastRun := job.LastRun
			item.LastRun = &lastRun
		}
		if !job.NextRun.IsZero() {
			nextRun := job.NextRun
			item.NextRun = &nextRun
		}
		if job.LastError != nil {
			item.LastError = job.LastError.Error()
		}
		resp = append(resp, item)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) triggerScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Schedules == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("scheduler not running"))
		return
	}
	massType := mux.Vars(r)["type"]

	found := false
	for _, job := range s.deps.Schedules.GetJobs() {
		if job.MassType == massType {
			found = true
			break
		}
	}
	if !found {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no schedule for mass type %q", massType))
		return
	}

	go func() {
		if err := s.deps.Schedules.Trigger(massType); err != nil {
			s.logger.Error("Triggered mass run failed", "type", massType, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"mass_type": massType, "status": "triggered"})
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.IsCode(err, errors.CodeNotFound) {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}
