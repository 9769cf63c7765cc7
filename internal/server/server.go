// Package server exposes the engine over HTTP: job submission and control,
// key pool inspection, lock toggles, document download, and the daily
// report.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"transcriptor-pro/internal/config"
	"transcriptor-pro/internal/doc"
	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/logger"
	"transcriptor-pro/internal/report"
	"transcriptor-pro/internal/scheduler"
	"transcriptor-pro/internal/store"
	"transcriptor-pro/internal/types"
)

// maxUploadBytes bounds one submission request.
const maxUploadBytes = 512 << 20

type ctxKey int

const agentKey ctxKey = 0

// Server holds the handler dependencies.
type Server struct {
	Sched      *scheduler.Scheduler
	Pool       *keypool.Pool
	Locks      *store.LockStore
	AgentUsage store.UsageStore
	KeyUsage   store.UsageStore
	History    store.HistoryStore
	Roster     *config.Source
	UploadDir  string
	Log        *logger.Logger
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withAgent)

		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Post("/jobs/{id}/retry", s.handleRetry)
		r.Get("/jobs/{id}/document", s.handleDocument)

		r.Post("/control/pause", s.handlePause)
		r.Post("/control/resume", s.handleResume)
		r.Put("/control/concurrency", s.handleConcurrency)

		r.Get("/keys", s.handleKeys)
		r.Post("/keys/lock", s.handleToggleLock)
		r.Post("/keys/test", s.handleToggleTest)

		r.Get("/report.xlsx", s.handleReport)
	})

	return r
}

// withAgent authenticates the caller against the roster snapshot. The login
// UI lives elsewhere; the engine only needs the id/pin pair to scope keys
// and attribute usage.
func (s *Server) withAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Agent-Id")
		pin := r.Header.Get("X-Agent-Pin")

		roster, err := s.Roster.Snapshot()
		if err != nil {
			s.Log.WithRequest(r).WithError(err).Error("roster load failed")
			writeError(w, http.StatusInternalServerError, "configuration unavailable")
			return
		}
		agent, ok := roster.ByID(id)
		if !ok || agent.Pin == "" || agent.Pin != pin {
			writeError(w, http.StatusUnauthorized, "invalid agent credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, agent)))
	})
}

func agentFrom(r *http.Request) config.Agent {
	agent, _ := r.Context().Value(agentKey).(config.Agent)
	return agent
}

func isAdmin(a config.Agent) bool {
	return a.ID == config.AdminID
}

func scopeFor(a config.Agent) keypool.Scope {
	return keypool.Scope{Admin: isAdmin(a), AgentID: a.ID}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	agent := agentFrom(r)
	log := s.Log.WithRequest(r).WithField("agent", agent.Name)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	model := r.FormValue("model")

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files submitted")
		return
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		log.WithError(err).Error("upload dir unavailable")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	var jobs []types.Job
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload")
			return
		}

		path := filepath.Join(s.UploadDir, uuid.New().String()+filepath.Ext(fh.Filename))
		dst, err := os.Create(path)
		if err != nil {
			src.Close()
			log.WithError(err).Error("upload save failed")
			writeError(w, http.StatusInternalServerError, "storage unavailable")
			return
		}
		size, err := io.Copy(dst, src)
		dst.Close()
		src.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "upload save failed")
			return
		}

		jobs = append(jobs, s.Sched.Submit(agent, fh.Filename, path, size, model))
	}

	log.WithField("count", len(jobs)).Info("jobs submitted")
	writeJSON(w, http.StatusCreated, jobs)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	agent := agentFrom(r)

	all := s.Sched.Jobs()
	if isAdmin(agent) {
		writeJSON(w, http.StatusOK, all)
		return
	}

	own := make([]types.Job, 0, len(all))
	for _, j := range all {
		if j.AgentID == agent.ID {
			own = append(own, j)
		}
	}
	writeJSON(w, http.StatusOK, own)
}

// jobFor enforces that non-admin callers only touch their own jobs.
func (s *Server) jobFor(r *http.Request) (types.Job, bool) {
	agent := agentFrom(r)
	job, ok := s.Sched.Get(chi.URLParam(r, "id"))
	if !ok {
		return types.Job{}, false
	}
	if !isAdmin(agent) && job.AgentID != agent.ID {
		return types.Job{}, false
	}
	return job, true
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.Sched.Cancel(job.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	job, _ = s.Sched.Get(job.ID)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.Sched.Retry(job.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	job, _ = s.Sched.Get(job.ID)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != types.JobDone || job.DocPath == "" {
		writeError(w, http.StatusConflict, "document not ready")
		return
	}

	payload, err := os.ReadFile(job.DocPath)
	if err != nil {
		s.Log.WithRequest(r).WithError(err).Error("document read failed")
		writeError(w, http.StatusInternalServerError, "document unavailable")
		return
	}

	name := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName)) + ".doc"
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(payload)

	if err := s.Sched.MarkDownloaded(job.ID); err != nil {
		s.Log.WithRequest(r).WithError(err).Warn("download mark failed")
	}
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.Sched.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.Sched.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleConcurrency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"limit": s.Sched.SetLimit(body.Limit)})
}

type keyView struct {
	keypool.KeyStatus
	UsedSeconds float64 `json:"usedSeconds"`
	Allowance   int     `json:"allowanceSeconds"`
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	agent := agentFrom(r)

	keys, err := s.Pool.Keys(scopeFor(agent))
	if err != nil {
		s.Log.WithRequest(r).WithError(err).Error("key listing failed")
		writeError(w, http.StatusInternalServerError, "key pool unavailable")
		return
	}

	usage := s.KeyUsage.Day(store.Today())
	out := make([]keyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyView{
			KeyStatus:   k,
			UsedSeconds: usage[k.Key],
			Allowance:   types.DailyAllowanceSeconds,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleToggleLock(w http.ResponseWriter, r *http.Request) {
	key, ok := s.visibleKey(w, r)
	if !ok {
		return
	}
	locked, err := s.Locks.Toggle(key)
	if err != nil {
		s.Log.WithRequest(r).WithError(err).Error("lock toggle failed")
		writeError(w, http.StatusInternalServerError, "lock persist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": locked})
}

func (s *Server) handleToggleTest(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(agentFrom(r)) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	key, ok := s.visibleKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"testing": s.Pool.ToggleTestKey(key)})
}

// visibleKey decodes {"key": ...} and verifies the caller can see that key.
func (s *Server) visibleKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return "", false
	}

	keys, err := s.Pool.Keys(scopeFor(agentFrom(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key pool unavailable")
		return "", false
	}
	for _, k := range keys {
		if k.Key == body.Key {
			return body.Key, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown key")
	return "", false
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(agentFrom(r)) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	history, err := s.History.All()
	if err != nil {
		s.Log.WithRequest(r).WithError(err).Error("history read failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	date := store.Today()
	f, err := report.Build(report.Input{
		Date:       date,
		History:    history,
		KeyUsage:   s.KeyUsage.Day(date),
		AgentUsage: s.AgentUsage.Day(date),
	})
	if err != nil {
		s.Log.WithRequest(r).WithError(err).Error("report build failed")
		writeError(w, http.StatusInternalServerError, "report build failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "reporte-"+date+".xlsx"))
	if err := f.Write(w); err != nil {
		s.Log.WithRequest(r).WithError(err).Error("report write failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
