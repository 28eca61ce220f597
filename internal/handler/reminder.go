package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/auth"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/cache"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/lifecycle"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

type ReminderHandler struct {
	ctrl   *lifecycle.Controller
	cache  *cache.Cache
	logger *slog.Logger
}

func NewReminderHandler(ctrl *lifecycle.Controller, c *cache.Cache, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{ctrl: ctrl, cache: c, logger: logger}
}

// transitionResponse is the common mutation response shape. Degraded means
// the record change committed but a notification side effect is incomplete.
type transitionResponse struct {
	Reminder  *model.Reminder `json:"reminder"`
	Successor *model.Reminder `json:"successor,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
}

type createRequest struct {
	Title          string                   `json:"title"`
	Description    string                   `json:"description"`
	StartDate      string                   `json:"start_date"`
	DueTime        string                   `json:"due_time"`
	Timezone       string                   `json:"timezone"`
	RecurrenceRule string                   `json:"recurrence_rule"`
	AssignedTo     []string                 `json:"assigned_to"`
	Notify         model.NotificationPolicy `json:"notify"`
}

// Create handles POST /api/reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	start, err := recurrence.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}
	if req.DueTime != "" {
		if _, err := time.Parse("15:04", req.DueTime); err != nil {
			writeError(w, http.StatusBadRequest, "due_time must be HH:MM")
			return
		}
	}
	if req.RecurrenceRule != "" {
		if _, err := recurrence.Parse(req.RecurrenceRule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.ctrl.Create(r.Context(), lifecycle.CreateInput{
		OwnerID:        auth.UserID(r.Context()),
		FamilyID:       auth.FamilyID(r.Context()),
		Title:          req.Title,
		Description:    req.Description,
		StartDate:      start,
		DueTime:        req.DueTime,
		Timezone:       req.Timezone,
		RecurrenceRule: req.RecurrenceRule,
		AssignedTo:     req.AssignedTo,
		Notify:         req.Notify,
	})
	if err != nil {
		h.logger.Error("create reminder", "error", err)
		writeTransitionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, transitionResponse{
		Reminder: res.Reminder,
		Degraded: res.Degraded(),
	})
}

// List handles GET /api/reminders?page=N&fresh=1
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	bypass := r.URL.Query().Get("fresh") != ""

	pg, err := h.cache.Get(r.Context(), auth.UserID(r.Context()), auth.FamilyID(r.Context()), page, bypass)
	if err != nil {
		h.logger.Error("list reminders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}

	items := pg.Items
	if items == nil {
		items = []*model.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders": items,
		"page":      pg.Page,
		"has_more":  pg.HasMore,
	})
}

// Get handles GET /api/reminders/{id}
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type updateRequest struct {
	Version        int64                     `json:"version"`
	Title          *string                   `json:"title"`
	Description    *string                   `json:"description"`
	DueDate        *string                   `json:"due_date"`
	DueTime        *string                   `json:"due_time"`
	Timezone       *string                   `json:"timezone"`
	RecurrenceRule *string                   `json:"recurrence_rule"`
	AssignedTo     *[]string                 `json:"assigned_to"`
	Notify         *model.NotificationPolicy `json:"notify"`
}

// Update handles PUT /api/reminders/{id}
func (h *ReminderHandler) Update(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	upd := store.ReminderUpdate{
		Title:          req.Title,
		Description:    req.Description,
		DueTime:        req.DueTime,
		Timezone:       req.Timezone,
		RecurrenceRule: req.RecurrenceRule,
		AssignedTo:     req.AssignedTo,
		Notify:         req.Notify,
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title cannot be empty")
		return
	}
	if req.DueDate != nil {
		d, err := recurrence.ParseDate(*req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "due_date must be YYYY-MM-DD")
			return
		}
		upd.DueDate = &d
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}
	if req.RecurrenceRule != nil && *req.RecurrenceRule != "" {
		if _, err := recurrence.Parse(*req.RecurrenceRule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.ctrl.Update(r.Context(), rec.ID, req.Version, upd)
	if err != nil {
		h.logger.Warn("update reminder", "id", rec.ID, "error", err)
		writeTransitionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		Reminder: res.Reminder,
		Degraded: res.Degraded(),
	})
}

// Complete handles POST /api/reminders/{id}/complete
func (h *ReminderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	var req struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.ctrl.Complete(r.Context(), rec.ID, req.Version, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Warn("complete reminder", "id", rec.ID, "error", err)
		writeTransitionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		Reminder:  res.Reminder,
		Successor: res.Successor,
		Degraded:  res.Degraded(),
	})
}

// Delete handles DELETE /api/reminders/{id}
func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	res, err := h.ctrl.Delete(r.Context(), rec.ID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	if res.Degraded() {
		h.logger.Warn("delete left notifications behind", "id", rec.ID, "remaining", res.Cleanup.Remaining)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Preview handles GET /api/reminders/preview?rule=…&start=YYYY-MM-DD&count=N
func (h *ReminderHandler) Preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := q.Get("rule")
	if rule == "" {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	start, err := recurrence.ParseDate(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	count, _ := strconv.Atoi(q.Get("count"))

	dates, err := h.ctrl.Preview(rule, start, count)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	parsed, _ := recurrence.Parse(rule)
	writeJSON(w, http.StatusOK, map[string]any{
		"describe": parsed.Describe(),
		"dates":    dates,
	})
}

// load fetches the reminder named by the path and enforces visibility: the
// owner sees it always, family members see family reminders.
func (h *ReminderHandler) load(w http.ResponseWriter, r *http.Request) (*model.Reminder, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}

	rec, err := h.ctrl.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("load reminder", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load reminder")
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "reminder not found")
		return nil, false
	}

	userID := auth.UserID(r.Context())
	familyID := auth.FamilyID(r.Context())
	if rec.OwnerID != userID && (rec.FamilyID == "" || rec.FamilyID != familyID) {
		// Hide the record's existence from outsiders.
		writeError(w, http.StatusNotFound, "reminder not found")
		return nil, false
	}
	return rec, true
}
