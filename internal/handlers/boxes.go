package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/rs/zerolog/log"
)

// BoxHandler exposes the box management API
type BoxHandler struct {
	boxes *services.BoxService
}

// NewBoxHandler creates a new box handler
func NewBoxHandler(boxes *services.BoxService) *BoxHandler {
	return &BoxHandler{boxes: boxes}
}

// CreateBox registers a peer box
func (h *BoxHandler) CreateBox(w http.ResponseWriter, r *http.Request) {
	var req models.BoxCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		http.Error(w, "Name and base URL are required", http.StatusBadRequest)
		return
	}
	if req.SendMethod != models.SendMethodPush && req.SendMethod != models.SendMethodPoll {
		http.Error(w, "Send method must be PUSH or POLL", http.StatusBadRequest)
		return
	}

	box, err := h.boxes.CreateBox(r.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			http.Error(w, "Box name already taken", http.StatusConflict)
			return
		}
		log.Error().Err(err).Msg("Failed to create box")
		http.Error(w, "Failed to create box", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(box)
}

// ListBoxes lists all registered boxes
func (h *BoxHandler) ListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := h.boxes.ListBoxes(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list boxes")
		http.Error(w, "Failed to list boxes", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(boxes)
}

// DeleteBox removes a box and its outgoing transactions
func (h *BoxHandler) DeleteBox(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid box id", http.StatusBadRequest)
		return
	}
	if err := h.boxes.DeleteBox(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete box")
		http.Error(w, "Failed to delete box", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendImages enqueues images for transfer to a box
func (h *BoxHandler) SendImages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid box id", http.StatusBadRequest)
		return
	}

	var req models.SendImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Images) == 0 {
		http.Error(w, "No images to send", http.StatusBadRequest)
		return
	}

	transaction, err := h.boxes.SendImagesToBox(r.Context(), id, req.Images)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue images")
		http.Error(w, "Failed to enqueue images", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transaction)
}

// ListOutgoing lists outgoing transactions
func (h *BoxHandler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	transactions, err := h.boxes.ListOutgoing(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list outgoing transactions")
		http.Error(w, "Failed to list outgoing transactions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// ListIncoming lists incoming transactions
func (h *BoxHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	transactions, err := h.boxes.ListIncoming(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list incoming transactions")
		http.Error(w, "Failed to list incoming transactions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
