package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/lookup"
	"github.com/helixir/unpaywall-client/internal/observability"
	"github.com/helixir/unpaywall-client/internal/table"
)

// maxRequestBodySize fits a full daily quota of identifiers.
const maxRequestBodySize = 8 << 20

// recordsRequest is the JSON request body for a batch lookup.
type recordsRequest struct {
	DOIs        []string `json:"dois" validate:"required,min=1,max=100000,dive,required"`
	Format      string   `json:"format,omitempty" validate:"omitempty,oneof=raw extended"`
	Errors      string   `json:"errors,omitempty" validate:"omitempty,oneof=raise ignore"`
	Output      string   `json:"output,omitempty" validate:"omitempty,oneof=json csv"`
	Force       bool     `json:"force,omitempty"`
	IgnoreCache bool     `json:"ignore_cache,omitempty"`
}

// getRecord handles GET /v2/{doi}. It answers with the record as returned by Unpaywall.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	doi, opts, ok := s.doiRequest(w, r)
	if !ok {
		return
	}

	record, err := s.lookup.JSON(r.Context(), doi, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no record for %s", doi))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// getLinks handles GET /links/{doi}.
func (s *Server) getLinks(w http.ResponseWriter, r *http.Request) {
	doi, opts, ok := s.doiRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// The first call populates the cache; the others read from it.
	links, err := s.lookup.AllLinks(ctx, doi, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	opts.Force = false
	doc, err := s.lookup.DocLink(ctx, doi, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	pdf, err := s.lookup.PDFLink(ctx, doi, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if links == nil {
		links = []string{}
	}
	writeJSON(w, http.StatusOK, linksResponse{
		DOI:     doi,
		DocLink: doc,
		PDFLink: pdf,
		Links:   links,
	})
}

// postRecords handles POST /records. It answers with the combined table as a
// JSON array of rows, or as CSV when the request asks for it.
func (s *Server) postRecords(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req recordsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	tbl, err := s.lookup.Records(r.Context(), req.DOIs, lookup.Options{
		Format:      domain.Format(req.Format),
		ErrorMode:   domain.ErrorMode(req.Errors),
		Force:       req.Force,
		IgnoreCache: req.IgnoreCache,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeTable(w, r, tbl, req.Output)
}

// search handles GET /v2/search?query=...&is_oa=...&format=...
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var isOA *bool
	if v := q.Get("is_oa"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_oa must be true or false")
			return
		}
		isOA = &b
	}

	tbl, err := s.lookup.Query(r.Context(), query, isOA, lookup.Options{
		Format:    domain.Format(q.Get("format")),
		ErrorMode: domain.ErrorMode(q.Get("errors")),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeTable(w, r, tbl, q.Get("output"))
}

// listCache handles GET /cache.
func (s *Server) listCache(w http.ResponseWriter, r *http.Request) {
	entries := s.cache.Entries()
	resp := listCacheResponse{
		Location: s.cache.Location(),
		Entries:  make([]cacheEntryResponse, 0, len(entries)),
		Total:    len(entries),
	}
	for _, e := range entries {
		expired, err := s.cache.TimedOut(e.Key)
		if err != nil {
			// Removed since Entries was taken.
			continue
		}
		resp.Entries = append(resp.Entries, cacheEntryToResponse(e, expired))
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteCacheEntry handles DELETE /cache/{doi}.
func (s *Server) deleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	doi := strings.TrimSpace(chi.URLParam(r, "*"))
	if doi == "" {
		writeError(w, http.StatusBadRequest, "doi is required")
		return
	}
	if err := s.cache.Delete(r.Context(), doi); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resetCache handles DELETE /cache.
func (s *Server) resetCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Reset(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pruneCache handles POST /cache/prune.
func (s *Server) pruneCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.PruneExpired(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pruneResponse{Removed: removed})
}

// doiRequest reads the DOI from the wildcard path and the cache flags from
// the query string. It writes a 400 and reports false on bad input.
func (s *Server) doiRequest(w http.ResponseWriter, r *http.Request) (string, lookup.Options, bool) {
	doi := strings.TrimSpace(chi.URLParam(r, "*"))
	if doi == "" {
		writeError(w, http.StatusBadRequest, "doi is required")
		return "", lookup.Options{}, false
	}

	q := r.URL.Query()
	force, err := optionalBool(q.Get("force"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "force must be true or false")
		return "", lookup.Options{}, false
	}
	ignoreCache, err := optionalBool(q.Get("ignore_cache"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ignore_cache must be true or false")
		return "", lookup.Options{}, false
	}

	return doi, lookup.Options{
		ErrorMode:   domain.ErrorModeRaise,
		Force:       force,
		IgnoreCache: ignoreCache,
	}, true
}

func (s *Server) writeTable(w http.ResponseWriter, r *http.Request, tbl *table.Table, output string) {
	if tbl == nil {
		tbl = table.New()
	}

	var err error
	switch output {
	case "", "json":
		w.WriteHeader(http.StatusOK)
		err = tbl.WriteJSON(w)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		err = tbl.WriteCSV(w)
	default:
		writeError(w, http.StatusBadRequest, "output must be json or csv")
		return
	}
	if err != nil {
		observability.LoggerFromContext(r.Context(), s.logger).Error().Err(err).Msg("writing table failed")
	}
}

// writeDomainError maps domain errors to HTTP status codes, keeping the error message.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := domainErrToStatus(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context(), s.logger).Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func domainErrToStatus(err error) int {
	var rejection *domain.RemoteRejectionError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rejection):
		if rejection.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func optionalBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// validationMessage renders the first failed field of a validator error.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", strings.ToLower(fe.Namespace()), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", strings.ToLower(fe.Namespace()), fe.Tag())
	}
	return err.Error()
}
