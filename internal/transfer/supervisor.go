package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/events"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/rs/zerolog/log"
)

// Supervisor owns one worker per known box and the periodic housekeeping
// tick: refreshing box online flags, demoting stalled PROCESSING
// transactions and reconciling workers with the box table. All recovery
// state lives in the database; restarting the process resumes where the
// persisted rows left off.
type Supervisor struct {
	boxRepo      *repository.BoxRepository
	outgoingRepo *repository.OutgoingRepository
	incomingRepo *repository.IncomingRepository
	boxes        *services.BoxService
	anonymizer   *services.AnonymizationService
	bus          *events.Bus

	tick       time.Duration
	boxTimeout time.Duration

	mu      sync.Mutex
	workers map[uuid.UUID]*runningWorker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type runningWorker struct {
	box    models.Box
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates the supervisor
func NewSupervisor(
	boxRepo *repository.BoxRepository,
	outgoingRepo *repository.OutgoingRepository,
	incomingRepo *repository.IncomingRepository,
	boxes *services.BoxService,
	anonymizer *services.AnonymizationService,
	bus *events.Bus,
	tick, boxTimeout time.Duration,
) *Supervisor {
	return &Supervisor{
		boxRepo:      boxRepo,
		outgoingRepo: outgoingRepo,
		incomingRepo: incomingRepo,
		boxes:        boxes,
		anonymizer:   anonymizer,
		bus:          bus,
		tick:         tick,
		boxTimeout:   boxTimeout,
		workers:      make(map[uuid.UUID]*runningWorker),
	}
}

// Start spawns workers for the known boxes and begins the housekeeping loop
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.reconcile(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	eventCh, unsub := s.bus.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				s.handleEvent(ctx, event)
			}
		}
	}()

	log.Info().Dur("tick", s.tick).Msg("Transfer supervisor started")
}

// Stop cancels every worker and waits for them to exit
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, worker := range s.workers {
		worker.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Info().Msg("Transfer supervisor stopped")
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.housekeep(ctx)
			s.reconcile(ctx)
		}
	}
}

// housekeep refreshes online flags and demotes stalled transactions. The
// demotion is monotone: FINISHED and FAILED rows never move.
func (s *Supervisor) housekeep(ctx context.Context) {
	now := time.Now().UTC()
	if err := s.boxRepo.RefreshOnline(ctx, now, s.boxTimeout); err != nil {
		log.Error().Err(err).Msg("Failed to refresh box online status")
	}
	if err := s.outgoingRepo.DemoteStalled(ctx, now, s.boxTimeout); err != nil {
		log.Error().Err(err).Msg("Failed to demote stalled outgoing transactions")
	}
	if err := s.incomingRepo.DemoteStalled(ctx, now, s.boxTimeout); err != nil {
		log.Error().Err(err).Msg("Failed to demote stalled incoming transactions")
	}
}

// reconcile aligns the running workers with the box table: new boxes get a
// worker, removed boxes lose theirs
func (s *Supervisor) reconcile(ctx context.Context) {
	boxes, err := s.boxRepo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list boxes")
		return
	}

	current := make(map[uuid.UUID]models.Box, len(boxes))
	for _, box := range boxes {
		current[box.ID] = box
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, worker := range s.workers {
		if _, ok := current[id]; !ok {
			worker.cancel()
			delete(s.workers, id)
			log.Info().Str("box", worker.box.Name).Msg("Stopped worker for removed box")
		}
	}

	for id, box := range current {
		if _, ok := s.workers[id]; ok {
			continue
		}
		s.spawn(ctx, box)
	}
}

func (s *Supervisor) spawn(ctx context.Context, box models.Box) {
	workerCtx, cancel := context.WithCancel(ctx)
	worker := &runningWorker{box: box, cancel: cancel, done: make(chan struct{})}
	s.workers[box.ID] = worker

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(worker.done)
		switch box.SendMethod {
		case models.SendMethodPush:
			NewPushWorker(box, s.boxes, s.tick).Run(workerCtx)
		case models.SendMethodPoll:
			NewPollWorker(box, s.boxes, s.tick).Run(workerCtx)
		default:
			log.Error().Str("box", box.Name).Str("method", string(box.SendMethod)).
				Msg("Unknown send method, worker not started")
		}
	}()

	log.Info().Str("box", box.Name).Str("method", string(box.SendMethod)).Msg("Started box worker")
}

// handleEvent reacts to domain events. Subscribers are idempotent: a missed
// or replayed event is recovered by the periodic reconcile.
func (s *Supervisor) handleEvent(ctx context.Context, event events.Event) {
	switch e := event.(type) {
	case events.SourceDeleted:
		s.reconcile(ctx)
		log.Info().Str("source", e.Source).Msg("Source removed")
	case events.ImagesDeleted:
		if err := s.anonymizer.HandleImagesDeleted(ctx, e.ImageIDs); err != nil {
			log.Error().Err(err).Msg("Failed to purge anonymization keys")
		}
	}
}
