package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/auth"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/cache"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/lifecycle"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// reminderMux mounts the reminder routes the way the server does, over a
// memory store with an in-memory transport.
func reminderMux(t *testing.T) *http.ServeMux {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	clk := clock.NewFixed(time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC))
	synchronizer := notify.NewSynchronizer(notify.NewMemTransport(), clk, logger)
	c := cache.New(st, clk, logger, 0)
	t.Cleanup(c.Close)

	ctrl := lifecycle.NewController(st, synchronizer, c, clk, nil, logger)
	h := NewReminderHandler(ctrl, c, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/reminders", h.Create)
	mux.HandleFunc("GET /api/reminders", h.List)
	mux.HandleFunc("GET /api/reminders/preview", h.Preview)
	mux.HandleFunc("GET /api/reminders/{id}", h.Get)
	mux.HandleFunc("PUT /api/reminders/{id}", h.Update)
	mux.HandleFunc("DELETE /api/reminders/{id}", h.Delete)
	mux.HandleFunc("POST /api/reminders/{id}/complete", h.Complete)
	return mux
}

func doAs(t *testing.T, mux *http.ServeMux, ac auth.AuthContext, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req = req.WithContext(auth.WithAuth(req.Context(), ac))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

var asOwner = auth.AuthContext{UserID: "u1", FamilyID: "fam1", Role: "member"}

func createReminder(t *testing.T, mux *http.ServeMux, body string) transitionResponse {
	t.Helper()
	w := doAs(t, mux, asOwner, http.MethodPost, "/api/reminders", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var res transitionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return res
}

func TestCreateReminder(t *testing.T) {
	mux := reminderMux(t)

	res := createReminder(t, mux, `{"title":"dentist","start_date":"2026-03-05","due_time":"14:30","timezone":"Europe/London"}`)
	if res.Reminder.ID == "" || res.Reminder.State != model.StateScheduled {
		t.Fatalf("reminder = %+v, want scheduled with id", res.Reminder)
	}
	if res.Reminder.Version != 1 {
		t.Errorf("version = %d, want 1", res.Reminder.Version)
	}
	if res.Degraded {
		t.Error("clean create reported degraded")
	}
}

func TestCreateReminderValidation(t *testing.T) {
	mux := reminderMux(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"start_date":"2026-03-05"}`},
		{"blank title", `{"title":"   ","start_date":"2026-03-05"}`},
		{"bad date", `{"title":"x","start_date":"March 5th"}`},
		{"bad timezone", `{"title":"x","start_date":"2026-03-05","timezone":"Mars/Olympus"}`},
		{"bad due time", `{"title":"x","start_date":"2026-03-05","due_time":"2pm"}`},
		{"bad rule", `{"title":"x","start_date":"2026-03-05","recurrence_rule":"FREQ=SOMETIMES"}`},
		{"not json", `title=x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAs(t, mux, asOwner, http.MethodPost, "/api/reminders", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetReminderVisibility(t *testing.T) {
	mux := reminderMux(t)
	res := createReminder(t, mux, `{"title":"family dinner","start_date":"2026-03-05"}`)
	path := "/api/reminders/" + res.Reminder.ID

	if w := doAs(t, mux, asOwner, http.MethodGet, path, ""); w.Code != http.StatusOK {
		t.Errorf("owner get status = %d, want 200", w.Code)
	}

	member := auth.AuthContext{UserID: "u2", FamilyID: "fam1", Role: "member"}
	if w := doAs(t, mux, member, http.MethodGet, path, ""); w.Code != http.StatusOK {
		t.Errorf("family member get status = %d, want 200", w.Code)
	}

	// Outsiders cannot tell the record exists.
	outsider := auth.AuthContext{UserID: "u9", FamilyID: "fam9", Role: "member"}
	if w := doAs(t, mux, outsider, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("outsider get status = %d, want 404", w.Code)
	}
}

func TestUpdateReminder(t *testing.T) {
	mux := reminderMux(t)
	res := createReminder(t, mux, `{"title":"water plants","start_date":"2026-03-05"}`)
	path := "/api/reminders/" + res.Reminder.ID

	w := doAs(t, mux, asOwner, http.MethodPut, path, `{"version":1,"title":"water the plants"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated transitionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Reminder.Title != "water the plants" || updated.Reminder.Version != 2 {
		t.Errorf("updated = %+v, want new title at version 2", updated.Reminder)
	}

	// Stale version is a conflict, not a silent overwrite.
	if w := doAs(t, mux, asOwner, http.MethodPut, path, `{"version":1,"title":"stale"}`); w.Code != http.StatusConflict {
		t.Errorf("stale update status = %d, want 409", w.Code)
	}

	if w := doAs(t, mux, asOwner, http.MethodPut, path, `{"version":2,"title":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", w.Code)
	}
}

func TestCompleteRecurringSpawnsSuccessor(t *testing.T) {
	mux := reminderMux(t)
	res := createReminder(t, mux, `{"title":"bins","start_date":"2026-03-05","recurrence_rule":"FREQ=WEEKLY"}`)
	path := fmt.Sprintf("/api/reminders/%s/complete", res.Reminder.ID)

	w := doAs(t, mux, asOwner, http.MethodPost, path, `{"version":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", w.Code, w.Body.String())
	}
	var done transitionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.Reminder.State != model.StateCompleted {
		t.Errorf("state = %q, want completed", done.Reminder.State)
	}
	if done.Successor == nil {
		t.Fatal("expected a successor for a recurring reminder")
	}
	if done.Successor.DueDate.String() != "2026-03-12" {
		t.Errorf("successor due %s, want 2026-03-12", done.Successor.DueDate)
	}

	// A second device completing the same instance races and loses.
	if w := doAs(t, mux, asOwner, http.MethodPost, path, `{"version":1}`); w.Code != http.StatusConflict {
		t.Errorf("double complete status = %d, want 409", w.Code)
	}
}

func TestDeleteReminder(t *testing.T) {
	mux := reminderMux(t)
	res := createReminder(t, mux, `{"title":"temp","start_date":"2026-03-05"}`)
	path := "/api/reminders/" + res.Reminder.ID

	if w := doAs(t, mux, asOwner, http.MethodDelete, path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := doAs(t, mux, asOwner, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestListReminders(t *testing.T) {
	mux := reminderMux(t)
	createReminder(t, mux, `{"title":"later","start_date":"2026-03-09"}`)
	createReminder(t, mux, `{"title":"sooner","start_date":"2026-03-02"}`)

	w := doAs(t, mux, asOwner, http.MethodGet, "/api/reminders?fresh=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		Reminders []*model.Reminder `json:"reminders"`
		Page      int               `json:"page"`
		HasMore   bool              `json:"has_more"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Reminders) != 2 || out.HasMore {
		t.Fatalf("got %d reminders hasMore=%v, want 2 without more", len(out.Reminders), out.HasMore)
	}
	if out.Reminders[0].Title != "sooner" {
		t.Errorf("first = %q, want soonest due first", out.Reminders[0].Title)
	}
}

func TestPreview(t *testing.T) {
	mux := reminderMux(t)

	w := doAs(t, mux, asOwner, http.MethodGet, "/api/reminders/preview?rule=FREQ=WEEKLY&start=2026-03-02&count=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("preview status = %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		Describe string   `json:"describe"`
		Dates    []string `json:"dates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Dates) != 3 {
		t.Fatalf("got %d dates, want 3", len(out.Dates))
	}
	if out.Dates[0] != "2026-03-02" || out.Dates[2] != "2026-03-16" {
		t.Errorf("dates = %v", out.Dates)
	}
	if out.Describe == "" {
		t.Error("expected a human description")
	}

	if w := doAs(t, mux, asOwner, http.MethodGet, "/api/reminders/preview?start=2026-03-02", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing rule status = %d, want 400", w.Code)
	}
	if w := doAs(t, mux, asOwner, http.MethodGet, "/api/reminders/preview?rule=FREQ=HOURLY&start=2026-03-02", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad rule status = %d, want 400", w.Code)
	}
}
