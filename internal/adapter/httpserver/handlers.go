package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gabriel-vasile/mimetype"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/usecase"
	"github.com/talentsift/screener/pkg/textx"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Uploads   usecase.UploadService
	Analyses  usecase.AnalyzeService
	Results   usecase.ResultService
	Extractor domain.TextExtractor

	DBCheck        func(ctx context.Context) error
	RedisCheck     func(ctx context.Context) error
	QueueCheck     func(ctx context.Context) error
	TikaCheck      func(ctx context.Context) error
	InferenceCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired. Readiness
// checks are optional; nil checks are skipped.
func NewServer(cfg config.Config, uploads usecase.UploadService, analyses usecase.AnalyzeService, results usecase.ResultService, extractor domain.TextExtractor) *Server {
	return &Server{Cfg: cfg, Uploads: uploads, Analyses: analyses, Results: results, Extractor: extractor}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// allowedExt enforces the upload allowlist: .txt, .pdf, .docx, .html.
func allowedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".pdf", ".docx", ".html", ".htm":
		return true
	}
	return false
}

func allowedMIMEFor(m string, filename string) bool {
	m = strings.ToLower(m)
	ext := strings.ToLower(filepath.Ext(filename))
	// Detectors misclassify rich plain text; accept any text/* for
	// .txt and .html uploads.
	if ext == ".txt" || ext == ".html" || ext == ".htm" {
		if strings.HasPrefix(m, "text/") {
			return true
		}
	}
	if strings.HasPrefix(m, "text/plain") || strings.HasPrefix(m, "text/html") {
		return true
	}
	return m == "application/pdf" || m == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// extractUploadedText extracts text from an uploaded document.
// .pdf/.docx/.html stream through the external extractor (Apache Tika) via
// a temp file; .txt is sanitized directly. Extraction failures are never
// fatal here: per the degradation policy the file is kept with empty text.
func extractUploadedText(ctx context.Context, extractor domain.TextExtractor, h *multipart.FileHeader, data []byte) string {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	if ext == ".pdf" || ext == ".docx" || ext == ".html" || ext == ".htm" {
		if extractor == nil {
			return ""
		}
		tmp, err := os.CreateTemp("", "upload-*")
		if err != nil {
			return ""
		}
		defer func() { _ = os.Remove(tmp.Name()); _ = tmp.Close() }()
		if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
			return ""
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return ""
		}
		text, err := extractor.ExtractPath(ctx, h.Filename, tmp.Name())
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("text extraction failed", slog.String("filename", h.Filename), slog.Any("error", err))
			return ""
		}
		return textx.SanitizeText(text)
	}
	return textx.SanitizeText(string(data))
}

func parseLanguage(s string) (domain.Language, error) {
	switch domain.Language(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return domain.LangEN, nil
	case domain.LangEN:
		return domain.LangEN, nil
	case domain.LangNL:
		return domain.LangNL, nil
	case domain.LangDE:
		return domain.LangDE, nil
	case domain.LangFR:
		return domain.LangFR, nil
	}
	return "", fmt.Errorf("%w: unsupported language %q", domain.ErrInvalidArgument, s)
}

// rejectNonJSONAccept handles Accept negotiation: only JSON is served.
func rejectNonJSONAccept(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") || strings.Contains(a, "*/*") {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]string{"accept": a}}})
	return true
}

func (s *Server) maxUploadBytes() int64 { return s.Cfg.MaxUploadMB * 1024 * 1024 }

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	maxBytes := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)
	if err := r.ParseMultipartForm(maxBytes * 2); err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "payload too large", Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB}}})
			return err
		}
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return err
	}
	return nil
}

// checkUpload validates a multipart file against the extension and sniffed
// content allowlists. Writes the 415 itself and reports whether it did.
func checkUpload(w http.ResponseWriter, field string, h *multipart.FileHeader, data []byte) bool {
	if !allowedExt(h.Filename) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "unsupported media type for " + field + " (extension)", Details: map[string]string{"filename": h.Filename}}})
		return false
	}
	m := mimetype.Detect(data)
	if !allowedMIMEFor(m.String(), h.Filename) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "unsupported media type for " + field + " (content)", Details: map[string]string{"mime": m.String(), "filename": h.Filename}}})
		return false
	}
	return true
}

type jobResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	Language     string `json:"language"`
	TextLength   int    `json:"text_length"`
	PIIRedacted  int    `json:"pii_redacted"`
	BiasRedacted int    `json:"bias_redacted"`
	UploadedAt   string `json:"uploaded_at"`
}

func toJobResponse(j domain.JobDescription) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Filename:     j.Filename,
		Language:     string(j.Language),
		TextLength:   len(j.RedactedText),
		PIIRedacted:  j.PIIRedacted,
		BiasRedacted: j.BiasRedacted,
		UploadedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// JobUploadHandler replaces the current job description. Accepts multipart
// with a "file" part or a "text" field, or a JSON body {text, filename,
// language}. Replacing the job resets the whole session.
func (s *Server) JobUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rejectNonJSONAccept(w, r) {
			return
		}
		var (
			text     string
			filename string
			langStr  string
		)
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.Contains(ct, "multipart/form-data"):
			if err := s.parseMultipart(w, r); err != nil {
				return
			}
			langStr = r.FormValue("language")
			if f, h, err := r.FormFile("file"); err == nil {
				defer func() { _ = f.Close() }()
				data, err := io.ReadAll(f)
				if err != nil {
					writeError(w, r, fmt.Errorf("%w: file read: %v", domain.ErrInvalidArgument, err), nil)
					return
				}
				if !checkUpload(w, "file", h, data) {
					return
				}
				text = extractUploadedText(r.Context(), s.Extractor, h, data)
				filename = h.Filename
			} else {
				text = r.FormValue("text")
				filename = "pasted.txt"
			}
		case strings.Contains(ct, "application/json"):
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			var req struct {
				Text     string `json:"text" validate:"required"`
				Filename string `json:"filename"`
				Language string `json:"language"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if err := getValidator().Struct(req); err != nil {
				writeError(w, r, fmt.Errorf("%w: text required", domain.ErrInvalidArgument), map[string]string{"field": "text"})
				return
			}
			text, filename, langStr = req.Text, req.Filename, req.Language
			if filename == "" {
				filename = "pasted.txt"
			}
		default:
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data or application/json", domain.ErrInvalidArgument), nil)
			return
		}

		lang, err := parseLanguage(langStr)
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "language"})
			return
		}
		job, err := s.Uploads.IngestJob(r.Context(), text, filename, lang)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

// CurrentJobHandler returns the current job plus session counts.
func (s *Server) CurrentJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Uploads.CurrentJob(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		stats, err := s.Results.Stats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := struct {
			jobResponse
			SummaryAvailable bool `json:"summary_available"`
			ResumeCount      int  `json:"resume_count"`
			RankingCount     int  `json:"ranking_count"`
		}{
			jobResponse:      toJobResponse(job),
			SummaryAvailable: job.Summary != "",
			ResumeCount:      stats.Resumes,
			RankingCount:     stats.Rankings,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// JobSummaryHandler returns the stored job summary, generating it on first
// request.
func (s *Server) JobSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.Results.Summary(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

type resumeResponse struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Filename   string `json:"filename"`
	TextLength int    `json:"text_length"`
	UploadedAt string `json:"uploaded_at"`
}

func toResumeResponse(res domain.Resume) resumeResponse {
	return resumeResponse{
		ID:         res.ID,
		Label:      res.Label(),
		Filename:   res.Filename,
		TextLength: len(res.RedactedText),
		UploadedAt: res.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ResumesUploadHandler ingests a batch of resume files. Labels follow
// upload order; a file whose text cannot be extracted is kept with empty
// text rather than failing the batch.
func (s *Server) ResumesUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rejectNonJSONAccept(w, r) {
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.parseMultipart(w, r); err != nil {
			return
		}
		files := r.MultipartForm.File["files[]"]
		if len(files) == 0 {
			files = r.MultipartForm.File["files"]
		}
		if len(files) == 0 {
			writeError(w, r, fmt.Errorf("%w: at least one file required", domain.ErrInvalidArgument), map[string]string{"field": "files[]"})
			return
		}
		lang, err := parseLanguage(r.FormValue("language"))
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "language"})
			return
		}

		uploads := make([]usecase.ResumeUpload, 0, len(files))
		for _, h := range files {
			f, err := h.Open()
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: open %s: %v", domain.ErrInvalidArgument, h.Filename, err), nil)
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, h.Filename, err), nil)
				return
			}
			if !checkUpload(w, h.Filename, h, data) {
				return
			}
			uploads = append(uploads, usecase.ResumeUpload{
				Filename: h.Filename,
				Text:     extractUploadedText(r.Context(), s.Extractor, h, data),
				Language: lang,
			})
		}

		stored, err := s.Uploads.IngestResumes(r.Context(), uploads)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]resumeResponse, 0, len(stored))
		for _, res := range stored {
			out = append(out, toResumeResponse(res))
		}
		writeJSON(w, http.StatusCreated, map[string]any{"resumes": out, "count": len(out)})
	}
}

// ListResumesHandler returns the session's resumes in upload order.
func (s *Server) ListResumesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resumes, err := s.Uploads.ListResumes(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]resumeResponse, 0, len(resumes))
		for _, res := range resumes {
			out = append(out, toResumeResponse(res))
		}
		writeJSON(w, http.StatusOK, map[string]any{"resumes": out, "count": len(out)})
	}
}

// AnalyzeHandler creates a batch analysis run and enqueues it. Validation
// (current job present, resumes present, no method mismatch without force)
// happens synchronously; the scoring itself is asynchronous.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rejectNonJSONAccept(w, r) {
			return
		}
		var req struct {
			Method      string `json:"method" validate:"omitempty,oneof=model keyword"`
			Concurrency int    `json:"concurrency" validate:"omitempty,min=1,max=64"`
			Force       bool   `json:"force"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if err := getValidator().Struct(req); err != nil {
				verrs := map[string]string{}
				if ve, ok := err.(validator.ValidationErrors); ok {
					for _, fe := range ve {
						verrs[strings.ToLower(fe.Field())] = fe.Tag()
					}
				}
				writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
				return
			}
		}
		a, err := s.Analyses.Request(r.Context(), req.Method, req.Concurrency, req.Force)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": a.ID, "status": string(a.Status), "total": a.Total})
	}
}

// AnalysisStatusHandler reports progress of one analysis run.
func (s *Server) AnalysisStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		a, err := s.Analyses.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, analysisEnvelope(a))
	}
}

func analysisEnvelope(a domain.Analysis) map[string]any {
	m := map[string]any{
		"id":        a.ID,
		"status":    string(a.Status),
		"method":    a.Method,
		"completed": a.Completed,
		"total":     a.Total,
	}
	if a.Error != "" {
		m["error"] = a.Error
	}
	if a.FailureCode != "" {
		m["failure_code"] = a.FailureCode
	}
	return m
}

type rankingResponse struct {
	ID          string   `json:"id"`
	Rank        int      `json:"rank"`
	Label       string   `json:"label"`
	Filename    string   `json:"filename"`
	Score       float64  `json:"score"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`
	Method      string   `json:"method"`
	Model       string   `json:"model,omitempty"`
}

// RankingsHandler returns the sorted ranking, default top 10.
func (s *Server) RankingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := parseTop(r, 10)
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "top"})
			return
		}
		ranked, err := s.Results.TopRankings(r.Context(), top)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]rankingResponse, 0, len(ranked))
		for _, rc := range ranked {
			out = append(out, rankingResponse{
				ID:          rc.Ranking.ID,
				Rank:        rc.Rank,
				Label:       rc.Label,
				Filename:    rc.Filename,
				Score:       rc.Ranking.Score,
				Explanation: rc.Ranking.Explanation,
				Citations:   rc.Ranking.Citations,
				Method:      rc.Ranking.Method,
				Model:       rc.Ranking.ModelName,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rankings": out, "count": len(out)})
	}
}

func parseTop(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("top")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: top must be a positive integer", domain.ErrInvalidArgument)
	}
	return n, nil
}

// ExplanationHandler expands one ranking's rationale via the inference tier.
func (s *Server) ExplanationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		explanation, err := s.Results.Explain(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "explanation": explanation})
	}
}

// CustomAnalysisHandler runs a free-form instruction over the labeled,
// redacted session resumes.
func (s *Server) CustomAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rejectNonJSONAccept(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Instruction string `json:"instruction" validate:"max=4000"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if err := getValidator().Struct(req); err != nil {
				writeError(w, r, fmt.Errorf("%w: instruction too long", domain.ErrInvalidArgument), map[string]string{"field": "instruction"})
				return
			}
		}
		analysis, err := s.Results.CustomAnalysis(r.Context(), req.Instruction)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
	}
}

// ReportHandler streams the rendered ranking report as a download.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := parseTop(r, 10)
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "top"})
			return
		}
		body, err := s.Results.RankingsReport(r.Context(), top)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="ranking-report.html"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// SessionResetHandler clears the whole session.
func (s *Server) SessionResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Results.ResetSession(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes DB, Redis, queue, Tika and the inference tier.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(ctx context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"queue", s.QueueCheck},
			{"tika", s.TikaCheck},
			{"inference", s.InferenceCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: p.name, OK: true})
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
