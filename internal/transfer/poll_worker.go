package transfer

import (
	"bytes"
	"context"
	"encoding/json"
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

// PollWorker drives transfers from one POLL box: it polls the remote's
// outgoing queue, fetches the anonymised bytes, runs the local incoming
// path, and acknowledges delivery. The remote does the outgoing
// bookkeeping; this side only receives.
type PollWorker struct {
	box      models.Box
	boxes    *services.BoxService
	client   *http.Client
	interval time.Duration
}

// NewPollWorker creates a worker for one box
func NewPollWorker(box models.Box, boxes *services.BoxService, interval time.Duration) *PollWorker {
	return &PollWorker{
		box:      box,
		boxes:    boxes,
		client:   &http.Client{Timeout: 5 * time.Minute},
		interval: interval,
	}
}

// Run loops until the context is cancelled
func (w *PollWorker) Run(ctx context.Context) {
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

func (w *PollWorker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.poll(ctx)
		if err != nil {
			log.Warn().Err(err).Str("box", w.box.Name).Msg("Poll failed, will retry")
			transferFailures.WithLabelValues(w.box.Name, "network").Inc()
			return
		}
		if item == nil {
			return
		}
		if !w.fetchOne(ctx, item) {
			return
		}
	}
}

// poll asks the remote for the next work item; nil means no work
func (w *PollWorker) poll(ctx context.Context) (*models.OutgoingTransactionImage, error) {
	resp, err := w.get(ctx, "/outgoing/poll", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case http.StatusOK:
		var item models.OutgoingTransactionImage
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return nil, fmt.Errorf("failed to decode poll response: %w", err)
		}
		return &item, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}
}

// fetchOne retrieves and stores one polled image; returns false when the
// pass should stop
func (w *PollWorker) fetchOne(ctx context.Context, item *models.OutgoingTransactionImage) bool {
	resp, err := w.get(ctx, "/outgoing", url.Values{
		"transactionid": []string{item.Transaction.ID.String()},
		"imageid":       []string{item.Image.ImageID.String()},
	})
	if err != nil {
		log.Warn().Err(err).Str("box", w.box.Name).Msg("Fetch failed, will retry")
		transferFailures.WithLabelValues(w.box.Name, "network").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("box", w.box.Name).Msg("Fetch rejected")
		transferFailures.WithLabelValues(w.box.Name, "network").Inc()
		return false
	}

	_, err = w.boxes.ReceiveImage(ctx, &w.box, item.Transaction.ID,
		item.Image.SequenceNumber, item.Transaction.TotalImageCount, resp.Body)
	if err != nil {
		var validation *dicomstream.ValidationError
		if errors.As(err, &validation) {
			transferFailures.WithLabelValues(w.box.Name, "validation").Inc()
			w.reportFailed(ctx, item, validation.Error())
			return true
		}
		log.Error().Err(err).Str("box", w.box.Name).Msg("Failed to store polled image")
		transferFailures.WithLabelValues(w.box.Name, "internal").Inc()
		return false
	}

	imagesReceived.WithLabelValues(w.box.Name).Inc()
	return w.acknowledge(ctx, item)
}

// acknowledge posts the done message so the remote advances its transaction
func (w *PollWorker) acknowledge(ctx context.Context, item *models.OutgoingTransactionImage) bool {
	body, err := json.Marshal(item)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode done message")
		return false
	}
	resp, err := w.post(ctx, "/outgoing/done", body)
	if err != nil {
		log.Warn().Err(err).Str("box", w.box.Name).Msg("Ack failed, remote will re-serve the image")
		transferFailures.WithLabelValues(w.box.Name, "network").Inc()
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// reportFailed tells the remote the transaction can never succeed
func (w *PollWorker) reportFailed(ctx context.Context, item *models.OutgoingTransactionImage, message string) {
	body, err := json.Marshal(models.FailedOutgoingTransactionImage{
		TransactionID: item.Transaction.ID,
		Message:       message,
	})
	if err != nil {
		return
	}
	if resp, err := w.post(ctx, "/outgoing/failed", body); err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (w *PollWorker) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", w.box.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s%s?%s", w.box.BaseURL, path, query.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return w.client.Do(req)
}

func (w *PollWorker) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	query := url.Values{}
	query.Set("token", w.box.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s%s?%s", w.box.BaseURL, path, query.Encode()), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return w.client.Do(req)
}
