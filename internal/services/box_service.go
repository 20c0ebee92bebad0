package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/events"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/noor9026/slicebox/internal/storage"
	"github.com/rs/zerolog/log"
)

// tempCleanupDelay lets OS file handles settle before staged objects of a
// failed pipeline run are removed
const tempCleanupDelay = 10 * time.Second

// BoxService handles the transfer bookkeeping between this node and its
// peer boxes: queueing, anonymised serving, and the incoming receive path.
type BoxService struct {
	boxRepo      *repository.BoxRepository
	outgoingRepo *repository.OutgoingRepository
	incomingRepo *repository.IncomingRepository
	anonymizer   *AnonymizationService
	metadata     *MetadataService
	store        storage.Storage
	bus          *events.Bus
	contexts     []dicomstream.Context
}

// NewBoxService creates a new box service
func NewBoxService(
	boxRepo *repository.BoxRepository,
	outgoingRepo *repository.OutgoingRepository,
	incomingRepo *repository.IncomingRepository,
	anonymizer *AnonymizationService,
	metadata *MetadataService,
	store storage.Storage,
	bus *events.Bus,
) *BoxService {
	return &BoxService{
		boxRepo:      boxRepo,
		outgoingRepo: outgoingRepo,
		incomingRepo: incomingRepo,
		anonymizer:   anonymizer,
		metadata:     metadata,
		store:        store,
		bus:          bus,
		contexts:     dicomstream.DefaultContexts(),
	}
}

// CreateBox registers a peer. A missing token gets a fresh one generated.
func (s *BoxService) CreateBox(ctx context.Context, req *models.BoxCreateRequest) (*models.Box, error) {
	token := req.Token
	if token == "" {
		generated, err := newToken()
		if err != nil {
			return nil, err
		}
		token = generated
	}

	box := &models.Box{
		Name:       req.Name,
		Token:      token,
		BaseURL:    req.BaseURL,
		SendMethod: req.SendMethod,
	}
	if err := s.boxRepo.Create(ctx, box); err != nil {
		return nil, err
	}
	return box, nil
}

// GetBox retrieves a box by id
func (s *BoxService) GetBox(ctx context.Context, id uuid.UUID) (*models.Box, error) {
	return s.boxRepo.GetByID(ctx, id)
}

// ListBoxes retrieves all boxes
func (s *BoxService) ListBoxes(ctx context.Context) ([]models.Box, error) {
	return s.boxRepo.List(ctx)
}

// DeleteBox removes a box with its outgoing transactions and announces the
// source removal so workers and filters let go of it
func (s *BoxService) DeleteBox(ctx context.Context, id uuid.UUID) error {
	box, err := s.boxRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if box == nil {
		return nil
	}
	if err := s.boxRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.SourceDeleted{Source: boxSource(box)})
	return nil
}

// PollBoxByToken authenticates a polling peer
func (s *BoxService) PollBoxByToken(ctx context.Context, token string) (*models.Box, error) {
	return s.boxRepo.PollBoxByToken(ctx, token)
}

// BoxByToken authenticates any peer
func (s *BoxService) BoxByToken(ctx context.Context, token string) (*models.Box, error) {
	return s.boxRepo.GetByToken(ctx, token)
}

// SendImagesToBox enqueues a transaction sending the images to the box
func (s *BoxService) SendImagesToBox(ctx context.Context, boxID uuid.UUID, images []models.ImageTagValues) (*models.OutgoingTransaction, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}
	box, err := s.boxRepo.GetByID(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, fmt.Errorf("box %s not found", boxID)
	}
	return s.outgoingRepo.CreateTransaction(ctx, box, images)
}

// NextOutgoing returns the next work item for the box, if any
func (s *BoxService) NextOutgoing(ctx context.Context, box *models.Box) (*models.OutgoingTransactionImage, error) {
	return s.outgoingRepo.NextTransactionImageForBox(ctx, box.ID)
}

// OutgoingImageData produces the anonymised bytes of one queued image: the
// original bytes from storage pass through the anonymise pipeline with the
// queue entry's forced tag values applied.
func (s *BoxService) OutgoingImageData(ctx context.Context, item *models.OutgoingTransactionImage) ([]byte, error) {
	source, err := s.store.FileSource(ctx, item.Image.ImageID)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read image bytes: %w", err)
	}

	attributes, err := dicomstream.ReadAttributes(data)
	if err != nil {
		return nil, err
	}

	key, err := s.anonymizer.KeyForImage(ctx, item.Image.ImageID, attributes)
	if err != nil {
		return nil, err
	}

	tagValues, err := s.outgoingRepo.TagValuesForImage(ctx, item.Image.ID)
	if err != nil {
		return nil, err
	}

	normalized, wireSyntax, err := dicomstream.NormalizeStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	parts, err := dicomstream.NewSource(normalized)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	stages := []dicomstream.Stage{
		dicomstream.NewAnonymizeStage(key),
		dicomstream.NewModifyStage(dicomstream.OverridesFromTagValues(tagValues)),
	}
	if err := dicomstream.Run(parts, stages, dicomstream.NewStorageSink(&out, wireSyntax)); err != nil {
		return nil, fmt.Errorf("failed to anonymise outgoing image: %w", err)
	}
	return out.Bytes(), nil
}

// GetOutgoingItem resolves a (transaction, image) pair served to a poller
func (s *BoxService) GetOutgoingItem(ctx context.Context, transactionID, imageID uuid.UUID) (*models.OutgoingTransactionImage, error) {
	return s.outgoingRepo.GetTransactionImage(ctx, transactionID, imageID)
}

// MarkDelivered records a delivered image: the image row flips to sent, the
// counter advances and the transaction finishes when complete. Replayed
// acks leave the counter alone.
func (s *BoxService) MarkDelivered(ctx context.Context, box *models.Box, item *models.OutgoingTransactionImage) (*models.OutgoingTransaction, error) {
	transaction, err := s.outgoingRepo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
	if err != nil {
		return nil, err
	}
	if err := s.boxRepo.UpdateLastContact(ctx, box.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("box", box.Name).Msg("Failed to update box contact time")
	}
	return transaction, nil
}

// MarkWaiting demotes a transaction after a transient failure; the next
// worker pass retries
func (s *BoxService) MarkWaiting(ctx context.Context, transactionID uuid.UUID) error {
	return s.outgoingRepo.SetStatus(ctx, transactionID, models.TransactionWaiting)
}

// MarkFailed moves a transaction to FAILED after a permanent rejection
func (s *BoxService) MarkFailed(ctx context.Context, transactionID uuid.UUID, message string) error {
	log.Error().Str("transaction", transactionID.String()).Str("reason", message).
		Msg("Outgoing transaction failed")
	return s.outgoingRepo.SetStatus(ctx, transactionID, models.TransactionFailed)
}

// ReceiveImage runs the incoming path for one pushed or polled image: the
// bytes stream through the reverse-anonymise pipeline into a staged object
// and the metadata extractor, the catalog and the incoming transaction are
// updated, and the staged object moves to its final name.
func (s *BoxService) ReceiveImage(ctx context.Context, box *models.Box, outgoingTransactionID uuid.UUID, sequenceNumber, totalImageCount int64, body io.Reader) (*models.IncomingTransaction, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read incoming bytes: %w", err)
	}

	meta, err := dicomstream.ReadFileMeta(bytes.NewReader(data))
	if err != nil {
		return nil, &dicomstream.ValidationError{Reason: "malformed DICOM stream: " + err.Error()}
	}
	if err := dicomstream.CheckContext(meta, s.contexts); err != nil {
		return nil, err
	}

	normalized, wireSyntax, err := dicomstream.NormalizeStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	parts, err := dicomstream.NewSource(normalized)
	if err != nil {
		return nil, err
	}

	tempPath := storage.TempPath()
	sink, err := s.store.FileSink(ctx, tempPath)
	if err != nil {
		return nil, err
	}

	attributes := dicomstream.NewAttributes()
	stages := []dicomstream.Stage{
		dicomstream.NewCollectKeyStage(s.anonymizer.KeyLookup(ctx)),
		dicomstream.NewReverseAnonymizeStage(),
	}
	err = dicomstream.Run(parts, stages,
		dicomstream.NewStorageSink(sink, wireSyntax),
		dicomstream.NewMetadataSink(attributes),
	)
	if closeErr := sink.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		storage.ScheduleCleanup(s.store, []string{tempPath}, tempCleanupDelay)
		return nil, fmt.Errorf("failed to process incoming image: %w", err)
	}

	image, overwrite, err := s.metadata.AddMetadata(ctx, attributes, boxSource(box))
	if err != nil {
		storage.ScheduleCleanup(s.store, []string{tempPath}, tempCleanupDelay)
		return nil, err
	}

	transaction, err := s.incomingRepo.UpdateIncoming(ctx, box, outgoingTransactionID, sequenceNumber, totalImageCount, image.ID, overwrite)
	if err != nil {
		storage.ScheduleCleanup(s.store, []string{tempPath}, tempCleanupDelay)
		return nil, err
	}

	if err := s.store.Move(ctx, tempPath, s.store.ImageName(image.ID)); err != nil {
		return nil, err
	}

	if err := s.boxRepo.UpdateLastContact(ctx, box.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("box", box.Name).Msg("Failed to update box contact time")
	}

	s.bus.Publish(events.ImageStored{ImageID: image.ID, Source: boxSource(box)})
	return transaction, nil
}

// TouchBox records that the box was heard from
func (s *BoxService) TouchBox(ctx context.Context, box *models.Box) {
	if err := s.boxRepo.UpdateLastContact(ctx, box.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("box", box.Name).Msg("Failed to update box contact time")
	}
}

// ListOutgoing lists outgoing transactions, newest first
func (s *BoxService) ListOutgoing(ctx context.Context, limit int) ([]models.OutgoingTransaction, error) {
	return s.outgoingRepo.ListTransactions(ctx, limit)
}

// ListIncoming lists incoming transactions, newest first
func (s *BoxService) ListIncoming(ctx context.Context, limit int) ([]models.IncomingTransaction, error) {
	return s.incomingRepo.ListTransactions(ctx, limit)
}

func boxSource(box *models.Box) string {
	return "box:" + box.Name
}

func newToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate box token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
