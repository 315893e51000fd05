package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MimeLyc/srt-translator/internal/config"
	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/internal/service"
	"github.com/MimeLyc/srt-translator/pkg/file"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

type healthResponse struct {
	OK        bool           `json:"ok"`
	Backend   string         `json:"backend,omitempty"`
	Available bool           `json:"available"`
	Jobs      map[string]int `json:"jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{OK: true, Jobs: make(map[string]int)}
	if s.backend != nil {
		resp.Backend = s.backend.BackendName()
		resp.Available = s.backend.Available()
	}
	for _, job := range s.queue.Snapshot() {
		resp.Jobs[job.Status.String()]++
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, language.All())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("detail") == "true" {
		writeJSON(w, http.StatusOK, s.queue.List())
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

type enqueueJobRequest struct {
	Path           string `json:"path"`
	Name           string `json:"name"`
	TargetLanguage string `json:"target_language"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.EnqueueRequest
	var err error

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = s.enqueueFromUpload(w, r)
	} else {
		req, err = s.enqueueFromJSON(r)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	job, created := s.queue.Enqueue(req)
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     job,
	})
}

func (s *Server) enqueueFromJSON(r *http.Request) (jobs.EnqueueRequest, error) {
	var body enqueueJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return jobs.EnqueueRequest{}, errs.New(errs.KindConfiguration, "invalid json body")
	}
	if strings.TrimSpace(body.Path) == "" {
		return jobs.EnqueueRequest{}, errs.New(errs.KindConfiguration, "path is required")
	}
	if !strings.EqualFold(filepath.Ext(body.Path), ".srt") {
		return jobs.EnqueueRequest{}, errs.New(errs.KindConfiguration, "only .srt files are supported")
	}
	target, err := s.resolveTarget(body.TargetLanguage)
	if err != nil {
		return jobs.EnqueueRequest{}, err
	}
	path, err := s.allowedPath(body.Path)
	if err != nil {
		return jobs.EnqueueRequest{}, err
	}
	name := body.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return jobs.EnqueueRequest{
		Name:           name,
		SourcePath:     path,
		TargetLanguage: target,
		Origin:         "http",
		DedupeKey:      path + "|" + target,
	}, nil
}

// allowedPath resolves a client supplied path, symlinks included, and
// requires it to lie inside one of the allowed roots.
func (s *Server) allowedPath(raw string) (string, error) {
	if len(s.roots) == 0 {
		return "", errs.New(errs.KindConfiguration, "server paths are not accepted; upload the file instead")
	}
	abs, err := filepath.Abs(filepath.Clean(raw))
	if err != nil {
		return "", errs.Wrap(err, errs.KindConfiguration, "invalid path")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errs.New(errs.KindNotFound, "file not found").WithContext("path", raw)
		}
		return "", errs.Wrap(err, errs.KindFileIO, "cannot resolve path")
	}
	for _, root := range s.roots {
		if within(resolveRoot(root), resolved) {
			return resolved, nil
		}
	}
	return "", errs.New(errs.KindConfiguration, "path is outside the allowed directories").WithContext("path", raw)
}

func resolveRoot(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Clean(root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// removeUpload deletes a stored upload once no job in the queue uses it.
func (s *Server) removeUpload(job *jobs.TranslationJob) {
	if s.uploadDir == "" || filepath.Dir(filepath.Clean(job.SourcePath)) != filepath.Clean(s.uploadDir) {
		return
	}
	for _, other := range s.queue.List() {
		if other.SourcePath == job.SourcePath {
			return
		}
	}
	if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to remove upload %s: %v", job.SourcePath, err)
		return
	}
	log.Debug("Removed upload %s", job.SourcePath)
}

func (s *Server) enqueueFromUpload(w http.ResponseWriter, r *http.Request) (jobs.EnqueueRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return jobs.EnqueueRequest{}, errs.Wrap(err, errs.KindConfiguration, "invalid upload")
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	target, err := s.resolveTarget(r.FormValue("target_language"))
	if err != nil {
		return jobs.EnqueueRequest{}, err
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		return jobs.EnqueueRequest{}, errs.Wrap(err, errs.KindConfiguration, "file is required")
	}
	defer upload.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".srt") {
		return jobs.EnqueueRequest{}, errs.New(errs.KindConfiguration, "only .srt files are supported")
	}
	data, err := io.ReadAll(upload)
	if err != nil {
		return jobs.EnqueueRequest{}, errs.Wrap(err, errs.KindFileIO, "cannot read upload")
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+".srt")
	if err := file.WriteAtomic(path, data, 0o644); err != nil {
		return jobs.EnqueueRequest{}, errs.Wrap(err, errs.KindFileIO, "cannot store upload")
	}
	log.Info("Stored upload %s (%d bytes) as %s", name, len(data), path)

	return jobs.EnqueueRequest{
		Name:           name,
		SourcePath:     path,
		TargetLanguage: target,
		Origin:         "upload",
	}, nil
}

// resolveTarget canonicalizes code, falling back to the current default.
func (s *Server) resolveTarget(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		code = s.defaultTarget()
	}
	t, err := language.Resolve(code)
	if err != nil {
		return "", err
	}
	return t.Code, nil
}

func (s *Server) defaultTarget() string {
	if s.settings != nil {
		return s.settings.GetRuntimeSettings().TargetLanguage
	}
	return s.target
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Dequeue(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	job, _ := s.queue.Get(id)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleClearFinished(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": s.queue.ClearFinished(),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "job is "+job.Status.String())
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": service.OutputName(job.Name, job.TargetLanguage),
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, job.Result)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetRuntimeSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	var req config.RuntimeSettings
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, err)
		return
	}
	saved, err := s.settings.UpdateRuntimeSettings(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeErr maps an error kind to a status code.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
	case errs.Is(err, errs.KindNotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.KindInvalidState):
		status = http.StatusConflict
	case errs.Is(err, errs.KindConfiguration), errs.Is(err, errs.KindParse):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"kind":   errs.KindOf(err).String(),
		"advice": errs.Advice(err),
	})
}
