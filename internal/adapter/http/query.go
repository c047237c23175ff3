package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/pipeline"
)

type snapshotHandler func(w http.ResponseWriter, r *http.Request, snap *pipeline.Snapshot)

type datasetResponse struct {
	Count int                 `json:"count"`
	Rows  []domain.DatasetRow `json:"rows"`
}

type summaryResponse struct {
	Count int                 `json:"count"`
	Rows  []domain.SummaryRow `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// withSnapshot answers 503 until the dataset has been loaded.
func (s *Server) withSnapshot(next snapshotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.snapshots.Current()
		if snap == nil {
			sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: pipeline.ErrSnapshotNotLoaded.Error()})
			return
		}
		next(w, r, snap)
	}
}

// handleDataset serves GET /api/v1/dataset?country=A&country=B&year=2010.
// Countries may also be comma-separated.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request, snap *pipeline.Snapshot) {
	year, err := optionalInt(r, "year")
	if err != nil {
		badRequest(w, err)
		return
	}
	q := domain.DatasetQuery{Countries: countries(r), Year: year}
	rows := domain.FilterDataset(snap.Dataset, q)
	sharedobs.WriteJSON(w, http.StatusOK, datasetResponse{Count: len(rows), Rows: rows})
}

// handleSummary serves GET /api/v1/summary with an optional year filter.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, snap *pipeline.Snapshot) {
	year, err := optionalInt(r, "year")
	if err != nil {
		badRequest(w, err)
		return
	}
	rows := snap.Summary
	if year != nil {
		rows = make([]domain.SummaryRow, 0)
		for _, row := range snap.Summary {
			if row.Year == *year {
				rows = append(rows, row)
			}
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, summaryResponse{Count: len(rows), Rows: rows})
}

// handleTopCountries serves GET /api/v1/top-countries?year=2010&n=10.
func (s *Server) handleTopCountries(w http.ResponseWriter, r *http.Request, snap *pipeline.Snapshot) {
	year, err := optionalInt(r, "year")
	if err != nil {
		badRequest(w, err)
		return
	}
	n, err := optionalInt(r, "n")
	if err != nil {
		badRequest(w, err)
		return
	}
	var size int
	if n != nil {
		if *n < 0 {
			badRequest(w, fmt.Errorf("n must not be negative, got %d", *n))
			return
		}
		size = *n
	}
	rows := domain.TopCountries(snap.Summary, year, size)
	sharedobs.WriteJSON(w, http.StatusOK, summaryResponse{Count: len(rows), Rows: rows})
}

func (s *Server) handleCountries(w http.ResponseWriter, _ *http.Request, snap *pipeline.Snapshot) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string][]string{"countries": domain.Countries(snap.Dataset)})
}

func (s *Server) handleYears(w http.ResponseWriter, _ *http.Request, snap *pipeline.Snapshot) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string][]int{"years": domain.Years(snap.Dataset)})
}

func countries(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["country"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func optionalInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}

func badRequest(w http.ResponseWriter, err error) {
	sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}
