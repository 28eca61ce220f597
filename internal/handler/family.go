package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/auth"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/family"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

var hexColorRegexp = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type FamilyHandler struct {
	store    store.Store
	provider *family.Provider
	logger   *slog.Logger
}

func NewFamilyHandler(st store.Store, provider *family.Provider, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{store: st, provider: provider, logger: logger}
}

// Current handles GET /api/family, the caller's resolved family context.
func (h *FamilyHandler) Current(w http.ResponseWriter, r *http.Request) {
	m, err := h.provider.Resolve(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("resolve family", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve family")
		return
	}
	if m.Family == nil {
		writeJSON(w, http.StatusOK, map[string]any{"family": nil, "members": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"family":  m.Family,
		"members": m.Members,
		"role":    m.Role,
	})
}

// Create handles POST /api/family. The creator becomes the family's first
// admin member.
func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		MemberName string `json:"member_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := auth.UserID(r.Context())
	fam, err := h.store.CreateFamily(r.Context(), &model.Family{
		Name:    req.Name,
		OwnerID: userID,
	})
	if err != nil {
		h.logger.Error("create family", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family")
		return
	}

	if _, err := h.store.AddMember(r.Context(), &model.FamilyMember{
		FamilyID: fam.ID,
		UserID:   userID,
		Name:     strings.TrimSpace(req.MemberName),
		Role:     "admin",
	}); err != nil {
		h.logger.Error("add founding member", "family_id", fam.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family")
		return
	}

	writeJSON(w, http.StatusCreated, fam)
}

// ListMembers handles GET /api/family/members
func (h *FamilyHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	familyID := auth.FamilyID(r.Context())
	if familyID == "" {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	members, err := h.provider.Members(r.Context(), familyID)
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMember handles POST /api/family/members (admin only, enforced by route).
func (h *FamilyHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	familyID := auth.FamilyID(r.Context())
	if familyID == "" {
		writeError(w, http.StatusBadRequest, "caller has no family")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Role   string `json:"role"`
		Color  string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "user_id and name are required")
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}
	if req.Role != "member" && req.Role != "admin" {
		writeError(w, http.StatusBadRequest, "role must be member or admin")
		return
	}
	if req.Color != "" && !hexColorRegexp.MatchString(req.Color) {
		writeError(w, http.StatusBadRequest, "color must be a hex color (e.g. #FF0000)")
		return
	}

	member, err := h.store.AddMember(r.Context(), &model.FamilyMember{
		FamilyID: familyID,
		UserID:   req.UserID,
		Name:     req.Name,
		Role:     req.Role,
		Color:    req.Color,
	})
	if err != nil {
		h.logger.Error("add member", "family_id", familyID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

// RemoveMember handles DELETE /api/family/members/{id} (admin only).
func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.store.RemoveMember(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "member not found")
			return
		}
		h.logger.Error("remove member", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
