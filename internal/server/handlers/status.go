package handlers

import (
	"net/http"
	"strconv"

	apperrors "github.com/gnssops/rinextank/internal/errors"
	"github.com/gnssops/rinextank/pkg/archivestore"
)

// defaultRunsLimit caps /api/v1/runs listings when no limit is given.
const defaultRunsLimit = 20

// StatusAPI serves the /api/v1 endpoints backed by the archive store.
type StatusAPI struct {
	store *archivestore.Store
}

// NewStatusAPI returns the API over the given store. A nil store is
// allowed; every endpoint then reports SERVICE_UNAVAILABLE.
func NewStatusAPI(store *archivestore.Store) *StatusAPI {
	return &StatusAPI{store: store}
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	LatestScan   *archivestore.Run `json:"latest_scan,omitempty"`
	LatestVerify *archivestore.Run `json:"latest_verify,omitempty"`
}

func (a *StatusAPI) ready(w http.ResponseWriter, r *http.Request) bool {
	if a.store == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("archive store not configured"))
		return false
	}
	return true
}

// Status serves GET /api/v1/status: the latest scan and verification
// runs.
func (a *StatusAPI) Status(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w, r) {
		return
	}
	ctx := r.Context()

	scan, err := a.store.LatestRun(ctx, archivestore.RunKindScan)
	if err != nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("archive store", err))
		return
	}
	verify, err := a.store.LatestRun(ctx, archivestore.RunKindVerify)
	if err != nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("archive store", err))
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{LatestScan: scan, LatestVerify: verify})
}

// Runs serves GET /api/v1/runs?kind=scan|verify&limit=N.
func (a *StatusAPI) Runs(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w, r) {
		return
	}

	kind := archivestore.RunKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", archivestore.RunKindScan, archivestore.RunKindVerify:
	default:
		respondWithError(w, r, apperrors.NewValidationError("kind must be scan or verify"))
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, r, apperrors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := a.store.ListRuns(r.Context(), kind, limit)
	if err != nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("archive store", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Stats serves GET /api/v1/stats: entry counts by kind, station and
// network assignment coverage.
func (a *StatusAPI) Stats(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w, r) {
		return
	}

	stats, err := a.store.EntryStats(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("archive store", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
