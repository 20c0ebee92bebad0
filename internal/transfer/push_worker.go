package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/rs/zerolog/log"
)

// PushWorker drives transfers to one PUSH box. It sends at most one image at
// a time, in strict sequence-number order, and keeps no state of its own:
// every pass starts from the persisted queue.
type PushWorker struct {
	box      models.Box
	boxes    *services.BoxService
	client   *http.Client
	interval time.Duration
}

// NewPushWorker creates a worker for one box
func NewPushWorker(box models.Box, boxes *services.BoxService, interval time.Duration) *PushWorker {
	return &PushWorker{
		box:      box,
		boxes:    boxes,
		client:   &http.Client{Timeout: 5 * time.Minute},
		interval: interval,
	}
}

// Run loops until the context is cancelled. Each tick drains the queue for
// the box; a transient failure ends the pass and the next tick retries.
func (w *PushWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *PushWorker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.boxes.NextOutgoing(ctx, &w.box)
		if err != nil {
			log.Error().Err(err).Str("box", w.box.Name).Msg("Failed to query outgoing queue")
			return
		}
		if item == nil {
			return
		}
		if !w.pushOne(ctx, item) {
			return
		}
	}
}

// pushOne sends one image; returns false when the pass should stop
func (w *PushWorker) pushOne(ctx context.Context, item *models.OutgoingTransactionImage) bool {
	data, err := w.boxes.OutgoingImageData(ctx, item)
	if err != nil {
		var validation *dicomstream.ValidationError
		if errors.As(err, &validation) {
			transferFailures.WithLabelValues(w.box.Name, "validation").Inc()
			_ = w.boxes.MarkFailed(ctx, item.Transaction.ID, validation.Error())
			return true
		}
		log.Error().Err(err).Str("box", w.box.Name).Msg("Failed to prepare outgoing image")
		transferFailures.WithLabelValues(w.box.Name, "internal").Inc()
		_ = w.boxes.MarkWaiting(ctx, item.Transaction.ID)
		return false
	}

	status, err := w.post(ctx, item, data)
	if err != nil {
		log.Warn().Err(err).Str("box", w.box.Name).Msg("Push failed, will retry")
		transferFailures.WithLabelValues(w.box.Name, "network").Inc()
		_ = w.boxes.MarkWaiting(ctx, item.Transaction.ID)
		return false
	}

	switch {
	case status >= 200 && status < 300:
		transaction, err := w.boxes.MarkDelivered(ctx, &w.box, item)
		if err != nil {
			log.Error().Err(err).Str("box", w.box.Name).Msg("Failed to record delivery")
			return false
		}
		imagesSent.WithLabelValues(w.box.Name).Inc()
		if transaction.Status == models.TransactionFinished {
			transactionsFinished.WithLabelValues(w.box.Name).Inc()
			log.Info().Str("box", w.box.Name).Str("transaction", transaction.ID.String()).
				Int64("images", transaction.SentImageCount).Msg("Outgoing transaction finished")
		}
		return true

	case status >= 400 && status < 500:
		// Permanent rejection: unsupported object or bad request
		transferFailures.WithLabelValues(w.box.Name, "rejected").Inc()
		_ = w.boxes.MarkFailed(ctx, item.Transaction.ID,
			fmt.Sprintf("remote rejected image %d with status %d", item.Image.SequenceNumber, status))
		return true

	default:
		transferFailures.WithLabelValues(w.box.Name, "network").Inc()
		_ = w.boxes.MarkWaiting(ctx, item.Transaction.ID)
		return false
	}
}

func (w *PushWorker) post(ctx context.Context, item *models.OutgoingTransactionImage, data []byte) (int, error) {
	query := url.Values{}
	query.Set("transactionid", item.Transaction.ID.String())
	query.Set("sequencenumber", fmt.Sprintf("%d", item.Image.SequenceNumber))
	query.Set("totalimagecount", fmt.Sprintf("%d", item.Transaction.TotalImageCount))
	query.Set("token", w.box.Token)

	pushURL := fmt.Sprintf("%s/incoming?%s", w.box.BaseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushURL, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to push image: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
