package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MRT0B13/novaos/internal/bus"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter, clamped to [1, max].
func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbs := make(map[string]string, len(s.deps.Databases))
	healthy := true
	for name, db := range s.deps.Databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			dbs[name] = err.Error()
			healthy = false
			continue
		}
		dbs[name] = "ok"
	}

	status := http.StatusOK
	text := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		text = "degraded"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":    text,
		"service":   "novaos",
		"databases": dbs,
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	beats, err := s.deps.Heartbeats.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.deps.Messages.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var alive int
	agents := make([]map[string]interface{}, 0, len(beats))
	for _, b := range beats {
		if b.Status == bus.StatusAlive {
			alive++
		}
		agents = append(agents, map[string]interface{}{
			"name":     b.Name,
			"status":   b.Status,
			"task":     b.CurrentTask,
			"lastBeat": b.LastBeat,
		})
	}

	mode := "live"
	if s.deps.Config.DryRun {
		mode = "dry_run"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptimeSeconds":    int(time.Since(s.startedAt).Seconds()),
		"mode":             mode,
		"autoDecisions":    s.deps.Config.AutoDecisions,
		"agentsAlive":      alive,
		"agents":           agents,
		"busPending":       stats.Pending,
		"pendingApprovals": s.deps.Engine.Approvals().Len(),
	})
}

// handleAgents joins registrations with their current heartbeat.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	regs, err := s.deps.Registrations.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	beats, err := s.deps.Heartbeats.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byName := make(map[string]int, len(beats))
	for i, b := range beats {
		byName[b.Name] = i
	}

	out := make([]map[string]interface{}, 0, len(regs))
	for _, reg := range regs {
		entry := map[string]interface{}{
			"name":    reg.Name,
			"type":    reg.Type,
			"enabled": reg.Enabled,
		}
		if i, ok := byName[reg.Name]; ok {
			entry["status"] = beats[i].Status
			entry["task"] = beats[i].CurrentTask
			entry["lastBeat"] = beats[i].LastBeat
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"agents": out})
}

func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Messages.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	records, err := s.deps.DecisionLog.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": records})
}

func (s *Server) handlePnlSummary(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 365)
	since := time.Now().AddDate(0, 0, -days)
	summary, err := s.deps.Closed.SummarizeSince(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":    days,
		"summary": summary,
		"winRate": summary.WinRate(),
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Engine.Approvals().List()
	out := make([]map[string]interface{}, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]interface{}{
			"id":          p.ID,
			"description": p.Description,
			"amountUsd":   p.AmountUsd,
			"traceId":     p.TraceID,
			"createdAt":   p.CreatedAt,
			"expiresAt":   p.ExpiresAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": out})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.deps.Engine.Approve(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": result.Success,
		"txId":    result.TxID,
		"error":   result.Error,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pending, ok := s.deps.Engine.Reject(r.Context(), id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rejected":    true,
		"id":          pending.ID,
		"description": pending.Description,
	})
}

// handleRunCycle triggers one decision cycle synchronously. The engine
// already refuses overlapping cycles, so concurrent calls are safe.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	outcome := s.deps.Engine.RunCycle(r.Context())
	if outcome.Skipped {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"skipped": true,
			"reason":  "a cycle is already running",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"traceId":    outcome.TraceID,
		"durationMs": outcome.Duration.Milliseconds(),
		"decisions":  len(outcome.Results),
		"executed":   outcome.ExecutedCount(),
	})
}
