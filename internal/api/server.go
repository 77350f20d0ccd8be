// Package api exposes the extraction store over HTTP: confirming draft
// batches, browsing runs and golden records, version history, diffs and
// exports.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mendel-data/mendel-cli/internal/config"
	"github.com/mendel-data/mendel-cli/internal/confirm"
	"github.com/mendel-data/mendel-cli/internal/diff"
	"github.com/mendel-data/mendel-cli/internal/export"
	"github.com/mendel-data/mendel-cli/internal/model"
	"github.com/mendel-data/mendel-cli/internal/store"
)

// Server handles the extraction HTTP API.
type Server struct {
	store          store.Store
	confirmer      *confirm.Service
	cfg            config.ServerConfig
	confirmLimiter *rate.Limiter
}

// NewServer wires the API on top of a store and confirm service.
func NewServer(st store.Store, confirmer *confirm.Service, cfg config.ServerConfig) *Server {
	perMin := cfg.ConfirmPerMin
	if perMin < 1 {
		perMin = 30
	}
	return &Server{
		store:          st,
		confirmer:      confirmer,
		cfg:            cfg,
		confirmLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/extraction", func(r chi.Router) {
		r.With(s.throttleConfirm).Post("/confirm", s.handleConfirm)

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)

		r.Get("/golden-records", s.handleListRecords)
		r.Get("/golden-records/export", s.handleExport)
		r.Get("/golden-records/{id}", s.handleGetRecord)
		r.Get("/golden-records/{id}/versions", s.handleListVersions)
		r.Get("/golden-records/{id}/diff/{other}", s.handleDiff)
	})

	return r
}

// pageEnvelope is the list response shape shared by all paged endpoints.
type pageEnvelope struct {
	Items    any `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Pages    int `json:"pages"`
}

func envelope(items any, total, page, pageSize int) pageEnvelope {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return pageEnvelope{Items: items, Total: total, Page: page, PageSize: pageSize, Pages: pages}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// confirmRequest accepts the extraction pipeline's batch envelope.
type confirmRequest struct {
	Results []model.DraftResult `json:"results"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	batch, err := s.confirmer.ConfirmBatch(r.Context(), req.Results)
	if err != nil && batch == nil {
		s.writeStoreError(w, err)
		return
	}
	// A batch with zero confirmed records still reports per-file results.
	confirm.SortResults(batch.Results)
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	runs, total, err := s.store.ListRuns(r.Context(), page, pageSize)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []model.ExtractionRun{}
	}
	writeJSON(w, http.StatusOK, envelope(runs, total, page, pageSize))
}

// runDetail is a run together with the golden records it created.
type runDetail struct {
	model.ExtractionRun
	GoldenRecords []model.GoldenRecordSummary `json:"golden_records"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	records, _, err := s.store.ListRecords(r.Context(), store.RecordFilter{
		RunID:    run.ID,
		Page:     1,
		PageSize: 500,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []model.GoldenRecordSummary{}
	}

	writeJSON(w, http.StatusOK, runDetail{ExtractionRun: *run, GoldenRecords: records})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := store.RecordFilter{
		RunID:      r.URL.Query().Get("run_id"),
		LatestOnly: queryBool(r, "latest_only"),
		Page:       queryInt(r, "page", 1),
		PageSize:   queryInt(r, "page_size", 50),
	}

	records, total, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []model.GoldenRecordSummary{}
	}
	writeJSON(w, http.StatusOK, envelope(records, total, filter.Page, filter.PageSize))
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": history,
		"total":    len(history),
	})
}

// diffResponse pairs the two compared record summaries with the field diff.
type diffResponse struct {
	RecordA model.GoldenRecordSummary `json:"record_a"`
	RecordB model.GoldenRecordSummary `json:"record_b"`
	*diff.Result
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	oldRec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	newRec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "other"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	result, err := diff.Compare(&oldRec.Payload, &newRec.Payload)
	if err != nil {
		if errors.Is(err, diff.ErrSchemaMismatch) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, diffResponse{
		RecordA: oldRec.Summary(),
		RecordB: newRec.Summary(),
		Result:  result,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusUnprocessableEntity, "invalid format "+strconv.Quote(format)+": must be csv or xlsx")
		return
	}

	latestOnly := true
	if r.URL.Query().Has("latest_only") {
		latestOnly = queryBool(r, "latest_only")
	}
	filter := store.RecordFilter{
		RunID:      r.URL.Query().Get("run_id"),
		LatestOnly: latestOnly,
	}

	records, err := export.Collect(r.Context(), s.store, filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename=golden_records.xlsx`)
		if err := export.WriteXLSX(w, records); err != nil {
			zap.L().Error("xlsx export failed", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=golden_records.csv`)
	if err := export.WriteCSV(w, records); err != nil {
		zap.L().Error("csv export failed", zap.Error(err))
	}
}

// throttleConfirm applies a global rate limit to confirm requests.
func (s *Server) throttleConfirm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.confirmLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "confirm rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// writeStoreError maps store sentinels to HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
