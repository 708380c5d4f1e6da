package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/archive"
	"github.com/ticketdesk/reportd/internal/executions"
)

const defaultExecutionLimit = 50

// ExecutionHandlers serves execution history.
type ExecutionHandlers struct {
	store   *executions.Store
	archive *archive.Archive
}

// NewExecutionHandlers creates execution handlers. archive may be nil.
func NewExecutionHandlers(store *executions.Store, a *archive.Archive) *ExecutionHandlers {
	return &ExecutionHandlers{store: store, archive: a}
}

// BySchedule handles GET /scheduled-reports/{id}/executions. History of
// deleted schedules stays readable.
func (h *ExecutionHandlers) BySchedule(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultExecutionLimit)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	list, err := h.store.ListBySchedule(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		WriteError(w, r, err, "Failed to list executions")
		return
	}

	JSON(w, http.StatusOK, nonNil(list))
}

// Recent handles GET /scheduled-reports/executions/recent.
func (h *ExecutionHandlers) Recent(w http.ResponseWriter, r *http.Request) {
	var filter executions.ListFilter
	var err error

	if filter.CompanyID, err = queryInt64(r, "company_id"); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if status := executions.Status(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			BadRequest(w, "status must be one of: running, success, failed")
			return
		}
		filter.Status = status
	}
	if filter.Limit, err = queryInt(r, "limit", defaultExecutionLimit); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	list, err := h.store.Recent(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, "Failed to list recent executions")
		return
	}

	JSON(w, http.StatusOK, nonNil(list))
}

// Report handles GET /scheduled-reports/executions/{id}/report and returns
// the archived HTML of a delivered report.
func (h *ExecutionHandlers) Report(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		NotFound(w, "Report archiving is disabled")
		return
	}

	exec, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, "Failed to get execution")
		return
	}
	if exec.ArchiveKey == "" {
		NotFound(w, "Execution has no archived report")
		return
	}

	rc, err := h.archive.Open(r.Context(), exec.ArchiveKey)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			NotFound(w, "Archived report not found")
			return
		}
		WriteError(w, r, err, "Failed to open archived report")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("execution_id", exec.ID).Msg("Failed to stream archived report")
	}
}

func nonNil(list []*executions.Execution) []*executions.Execution {
	if list == nil {
		return []*executions.Execution{}
	}
	return list
}
