package handlers

import (
	"net/http"

	"github.com/ticketdesk/reportd/internal/requestctx"
	"github.com/ticketdesk/reportd/internal/scheduler"
)

// ScheduleHandlers handles /scheduled-reports endpoints.
type ScheduleHandlers struct {
	scheduler *scheduler.Scheduler
}

// NewScheduleHandlers creates new schedule handlers.
func NewScheduleHandlers(sched *scheduler.Scheduler) *ScheduleHandlers {
	return &ScheduleHandlers{scheduler: sched}
}

// MessageResponse acknowledges commands without a resource body.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// List handles GET /scheduled-reports.
func (h *ScheduleHandlers) List(w http.ResponseWriter, r *http.Request) {
	var filter scheduler.ScheduleFilter
	var err error

	if filter.CompanyID, err = queryInt64(r, "company_id"); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.IsActive, err = queryBool(r, "is_active"); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	schedules, err := h.scheduler.List(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, "Failed to list scheduled reports")
		return
	}
	if schedules == nil {
		schedules = []*scheduler.Schedule{}
	}

	JSON(w, http.StatusOK, schedules)
}

// Get handles GET /scheduled-reports/{id}.
func (h *ScheduleHandlers) Get(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, "Failed to get scheduled report")
		return
	}

	JSON(w, http.StatusOK, schedule)
}

// Create handles POST /scheduled-reports.
func (h *ScheduleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var in scheduler.ScheduleInput
	if err := decodeJSON(r, &in); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if in.CreatedBy == nil {
		if subject := requestctx.Subject(r.Context()); subject != "" {
			in.CreatedBy = &subject
		}
	}

	schedule, err := h.scheduler.Create(r.Context(), &in)
	if err != nil {
		WriteError(w, r, err, "Failed to create scheduled report")
		return
	}

	JSON(w, http.StatusCreated, schedule)
}

// Update handles PUT /scheduled-reports/{id}. Omitted fields keep their
// current values.
func (h *ScheduleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var in scheduler.ScheduleInput
	if err := decodeJSON(r, &in); err != nil {
		BadRequest(w, err.Error())
		return
	}

	schedule, err := h.scheduler.Update(r.Context(), r.PathValue("id"), &in)
	if err != nil {
		WriteError(w, r, err, "Failed to update scheduled report")
		return
	}

	JSON(w, http.StatusOK, schedule)
}

// Delete handles DELETE /scheduled-reports/{id}.
func (h *ScheduleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err, "Failed to delete scheduled report")
		return
	}

	JSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Scheduled report deleted successfully",
	})
}

// Toggle handles POST /scheduled-reports/{id}/toggle.
func (h *ScheduleHandlers) Toggle(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.scheduler.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, "Failed to toggle scheduled report")
		return
	}

	JSON(w, http.StatusOK, schedule)
}

// Execute handles POST /scheduled-reports/{id}/execute. The run happens in
// the background; progress is visible in the execution history.
func (h *ScheduleHandlers) Execute(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Trigger(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err, "Failed to trigger scheduled report")
		return
	}

	JSON(w, http.StatusAccepted, MessageResponse{
		Success: true,
		Message: "Report execution started",
	})
}

// Presets handles GET /scheduled-reports/presets.
func (h *ScheduleHandlers) Presets(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, scheduler.Presets)
}
