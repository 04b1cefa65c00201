package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/reconcile"
	"github.com/hong710/nexhub/internal/repository"
)

var pageSizes = []int{25, 50, 100, 200}

// AllocationPage is one page of ledger records
type AllocationPage struct {
	Records  []domain.AllocationRecord `json:"records"`
	Total    int64                     `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
}

// listAllocationsHandler queries the ledger with optional subnet_id,
// status, needs_attention and free-text q filters, paginated.
func (a *API) listAllocationsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.AllocationFilter{
		Status:         q.Get("status"),
		Search:         q.Get("q"),
		NeedsAttention: q.Get("needs_attention") == "true",
		Page:           1,
		PageSize:       25,
	}

	if v := q.Get("subnet_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subnet_id")
			return
		}
		filter.SubnetID = id
	}
	if v := q.Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if v := q.Get("page_size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			for _, allowed := range pageSizes {
				if size == allowed {
					filter.PageSize = size
					break
				}
			}
		}
	}

	records, total, err := a.allocRepo.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.AllocationRecord{}
	}

	writeJSON(w, http.StatusOK, AllocationPage{
		Records:  records,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// allocationCountsHandler returns per-status counts, per subnet when
// subnet_id is given and globally otherwise.
func (a *API) allocationCountsHandler(w http.ResponseWriter, r *http.Request) {
	var subnetID int64
	if v := r.URL.Query().Get("subnet_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subnet_id")
			return
		}
		subnetID = id
	}

	counts, err := a.allocRepo.CountByStatus(r.Context(), subnetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// updateAllocationHandler applies a manual ledger edit: a status
// transition and/or a description change, validated by the engine's
// state machine.
func (a *API) updateAllocationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid allocation ID")
		return
	}

	var edit reconcile.ManualEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := a.engine.ManualUpdate(r.Context(), id, edit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// reconcileHandler triggers a full ledger rebuild
func (a *API) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := a.engine.ReconcileAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
