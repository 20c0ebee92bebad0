package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/middleware"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/noor9026/slicebox/internal/transfer"
	"github.com/rs/zerolog/log"
)

// TransferHandler implements the box-to-box wire contract
type TransferHandler struct {
	boxes *services.BoxService
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(boxes *services.BoxService) *TransferHandler {
	return &TransferHandler{boxes: boxes}
}

// Poll serves the next work item to a polling peer, or 204 when idle
func (h *TransferHandler) Poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, ok := middleware.GetBox(ctx)
	if !ok || box.SendMethod != models.SendMethodPoll {
		http.Error(w, "Invalid box token", http.StatusUnauthorized)
		return
	}

	h.boxes.TouchBox(ctx, box)

	item, err := h.boxes.NextOutgoing(ctx, box)
	if err != nil {
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to query outgoing queue")
		http.Error(w, "Failed to query outgoing queue", http.StatusInternalServerError)
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// Outgoing serves the anonymised bytes of one work item
func (h *TransferHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, ok := middleware.GetBox(ctx)
	if !ok || box.SendMethod != models.SendMethodPoll {
		http.Error(w, "Invalid box token", http.StatusUnauthorized)
		return
	}

	transactionID, err := uuid.Parse(r.URL.Query().Get("transactionid"))
	if err != nil {
		http.Error(w, "Invalid transactionid", http.StatusBadRequest)
		return
	}
	imageID, err := uuid.Parse(r.URL.Query().Get("imageid"))
	if err != nil {
		http.Error(w, "Invalid imageid", http.StatusBadRequest)
		return
	}

	item, err := h.boxes.GetOutgoingItem(ctx, transactionID, imageID)
	if err != nil {
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to load outgoing item")
		http.Error(w, "Failed to load outgoing item", http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.Error(w, "Unknown transaction or image", http.StatusNotFound)
		return
	}

	data, err := h.boxes.OutgoingImageData(ctx, item)
	if err != nil {
		var validation *dicomstream.ValidationError
		if errors.As(err, &validation) {
			_ = h.boxes.MarkFailed(ctx, item.Transaction.ID, validation.Error())
			http.Error(w, validation.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to produce outgoing image")
		http.Error(w, "Failed to produce outgoing image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// Done acknowledges a delivered work item
func (h *TransferHandler) Done(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, ok := middleware.GetBox(ctx)
	if !ok || box.SendMethod != models.SendMethodPoll {
		http.Error(w, "Invalid box token", http.StatusUnauthorized)
		return
	}

	var item models.OutgoingTransactionImage
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.boxes.GetOutgoingItem(ctx, item.Transaction.ID, item.Image.ImageID)
	if err != nil {
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to load outgoing item")
		http.Error(w, "Failed to load outgoing item", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		http.Error(w, "Unknown transaction or image", http.StatusNotFound)
		return
	}

	if _, err := h.boxes.MarkDelivered(ctx, box, stored); err != nil {
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to record delivery")
		http.Error(w, "Failed to record delivery", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Failed marks a transaction permanently failed on behalf of a poller
func (h *TransferHandler) Failed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, ok := middleware.GetBox(ctx)
	if !ok || box.SendMethod != models.SendMethodPoll {
		http.Error(w, "Invalid box token", http.StatusUnauthorized)
		return
	}

	var failed models.FailedOutgoingTransactionImage
	if err := json.NewDecoder(r.Body).Decode(&failed); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.boxes.MarkFailed(ctx, failed.TransactionID, failed.Message); err != nil {
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to mark transaction failed")
		http.Error(w, "Failed to mark transaction failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Incoming receives one pushed image
func (h *TransferHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, ok := middleware.GetBox(ctx)
	if !ok {
		http.Error(w, "Invalid box token", http.StatusUnauthorized)
		return
	}

	transactionID, err := uuid.Parse(r.URL.Query().Get("transactionid"))
	if err != nil {
		dicomstream.Drain(r.Body)
		http.Error(w, "Invalid transactionid", http.StatusBadRequest)
		return
	}
	sequenceNumber, err := strconv.ParseInt(r.URL.Query().Get("sequencenumber"), 10, 64)
	if err != nil || sequenceNumber < 1 {
		dicomstream.Drain(r.Body)
		http.Error(w, "Invalid sequencenumber", http.StatusBadRequest)
		return
	}
	totalImageCount, err := strconv.ParseInt(r.URL.Query().Get("totalimagecount"), 10, 64)
	if err != nil || totalImageCount < 1 {
		dicomstream.Drain(r.Body)
		http.Error(w, "Invalid totalimagecount", http.StatusBadRequest)
		return
	}

	transaction, err := h.boxes.ReceiveImage(ctx, box, transactionID, sequenceNumber, totalImageCount, r.Body)
	if err != nil {
		// The remaining input is always consumed before responding so the
		// peer's write never blocks on a rejected stream
		dicomstream.Drain(r.Body)
		var validation *dicomstream.ValidationError
		if errors.As(err, &validation) {
			transfer.RecordImageRejected(box.Name)
			log.Warn().Str("box", box.Name).Str("reason", validation.Reason).Msg("Incoming image rejected")
			http.Error(w, validation.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("box", box.Name).Msg("Failed to store incoming image")
		http.Error(w, "Failed to store incoming image", http.StatusInternalServerError)
		return
	}

	transfer.RecordImageReceived(box.Name)
	log.Debug().Str("box", box.Name).
		Str("transaction", transaction.ID.String()).
		Int64("sequence", sequenceNumber).
		Msg("Image received")
	w.WriteHeader(http.StatusNoContent)
}
