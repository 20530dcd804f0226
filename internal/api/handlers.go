package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/realtime-job-postings/internal/applied"
	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/statscache"
)

const (
	maxBodyBytes    = 8 << 20
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type postingsRequest struct {
	Postings []posting.RawPosting `json:"postings"`
}

type rebuildRequest struct {
	Months []string `json:"months"`
}

// envelope merges fields into a success response.
func envelope(message string, fields map[string]any) map[string]any {
	out := map[string]any{"success": true}
	if message != "" {
		out["message"] = message
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func resultFields(res ingest.Result) map[string]any {
	return map[string]any{
		"processed":  res.Processed,
		"inserted":   res.Inserted,
		"duplicates": res.Duplicates,
		"malformed":  res.Malformed,
		"cacheHits":  res.CacheHits,
		"evicted":    res.Evicted,
	}
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func (s *Server) runIngest(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pipeline.Run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("feeds ingested", resultFields(res)))
}

func (s *Server) ingestPostings(w http.ResponseWriter, r *http.Request) {
	var req postingsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Postings) == 0 {
		writeError(w, http.StatusBadRequest, "postings required")
		return
	}
	res, err := s.deps.Pipeline.Ingest(r.Context(), req.Postings)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("postings ingested", resultFields(res)))
}

func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Months = append(req.Months, r.URL.Query()["month"]...)
	report, err := s.deps.Pipeline.Rebuild(r.Context(), req.Months)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("rebuild complete", map[string]any{
		"months":              report.Months,
		"skipped":             report.Skipped,
		"totalRecordsAllTime": report.TotalRecordsAllTime,
		"durationMs":          report.Duration.Milliseconds(),
	}))
}

// statsCache returns a fresh read-side cache. Reads never share state with
// an invocation in flight.
func (s *Server) statsCache() *statscache.Cache {
	return statscache.New(s.deps.Store, s.deps.Clock, s.logger, statscache.WithCacheControl(s.opts.CacheControl))
}

func (s *Server) setCacheControl(w http.ResponseWriter) {
	if s.opts.CacheControl != "" {
		w.Header().Set("Cache-Control", s.opts.CacheControl)
	}
}

func (s *Server) currentStats(w http.ResponseWriter, r *http.Request) {
	cache := s.statsCache()
	st, err := cache.Current(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setCacheControl(w)
	writeJSON(w, http.StatusOK, envelope("", map[string]any{
		"month":      st.Month,
		"statistics": st,
	}))
}

func (s *Server) archivedMonth(w http.ResponseWriter, r *http.Request) {
	month := chi.URLParam(r, "month")
	archive, err := s.statsCache().GetArchivedMonth(r.Context(), month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setCacheControl(w)
	writeJSON(w, http.StatusOK, envelope("", map[string]any{
		"month":        archive.Month,
		"totalRecords": archive.TotalRecords,
		"statistics":   archive.Statistics,
		"days":         archive.Days,
	}))
}

func (s *Server) allStats(w http.ResponseWriter, r *http.Request) {
	agg, err := s.statsCache().GetAllArchivesAggregated(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setCacheControl(w)
	writeJSON(w, http.StatusOK, envelope("", map[string]any{
		"perMonth":         agg.PerMonth,
		"mergedStatistics": agg.Merged,
		"totalRecords":     agg.TotalRecords,
	}))
}

func (s *Server) clearMonth(w http.ResponseWriter, r *http.Request) {
	month := chi.URLParam(r, "month")
	res, err := s.deps.Pipeline.ClearMonth(r.Context(), month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("month cleared", map[string]any{
		"month":          res.Month,
		"deletedDays":    res.DeletedDays,
		"deletedRecords": res.DeletedRecords,
	}))
}

func (s *Server) addApplication(w http.ResponseWriter, r *http.Request) {
	var ev applied.Event
	if err := decodeBody(r, &ev, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.deps.Applied.AddApplication(r.Context(), ev)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, envelope("already recorded", map[string]any{"inserted": false}))
		return
	}
	writeJSON(w, http.StatusCreated, envelope("application recorded", map[string]any{
		"inserted":    true,
		"application": job,
	}))
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Applied.GetApplications(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []applied.AppliedJob{}
	}
	writeJSON(w, http.StatusOK, envelope("", map[string]any{
		"count":        len(jobs),
		"applications": jobs,
	}))
}

func (s *Server) appliedStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Applied.GetStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("", map[string]any{
		"totalApplications": st.TotalApplications,
		"byMonth":           st.ByMonth,
	}))
}

func (s *Server) clearApplications(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Applied.ClearAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("applications cleared", map[string]any{
		"deletedMonths": res.DeletedMonths,
		"totalDeleted":  res.TotalDeleted,
	}))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, "run ledger not configured")
		return
	}
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("", map[string]any{"runs": runs}))
}
