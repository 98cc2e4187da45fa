package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

type VendorHandler struct {
	vendors *store.VendorStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewVendorHandler(vs *store.VendorStore, hub *websocket.Hub, logger *slog.Logger) *VendorHandler {
	return &VendorHandler{vendors: vs, hub: hub, logger: logger}
}

func (h *VendorHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type vendorRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Contact  string `json:"contact"`
	Notes    string `json:"notes"`
}

func (h *VendorHandler) Create(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req vendorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeIssues(w, "validation failed", []Issue{{Field: "name", Message: "name is required"}})
		return
	}

	created, err := h.vendors.Create(spaceID, req.Name, req.Category, req.Contact, req.Notes)
	if err != nil {
		h.logger.Error("create vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create vendor")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("vendor", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

func (h *VendorHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	vendors, err := h.vendors.List(spaceID)
	if err != nil {
		h.logger.Error("list vendors", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list vendors")
		return
	}
	if vendors == nil {
		vendors = []model.Vendor{}
	}

	writeData(w, http.StatusOK, vendors)
}

func (h *VendorHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	vendor, err := h.vendors.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get vendor")
		return
	}
	if vendor == nil {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}

	writeData(w, http.StatusOK, vendor)
}

func (h *VendorHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.vendors.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update vendor")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}

	var req vendorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeIssues(w, "validation failed", []Issue{{Field: "name", Message: "name is required"}})
		return
	}

	updated, err := h.vendors.Update(spaceID, id, req.Name, req.Category, req.Contact, req.Notes)
	if err != nil {
		h.logger.Error("update vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update vendor")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("vendor", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

func (h *VendorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.vendors.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete vendor")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}

	if err := h.vendors.Delete(spaceID, id); err != nil {
		h.logger.Error("delete vendor", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete vendor")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("vendor", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "vendor deleted"})
}
