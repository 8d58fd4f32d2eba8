package sweeper

import (
	"context"
	"log"
	"time"

	"astromatch-backend/config"
	"astromatch-backend/internal/assign"
	"astromatch-backend/internal/events"
	"astromatch-backend/internal/model"
	"astromatch-backend/internal/store"
)

// FailReason is the diagnostic written to sessions that time out waiting.
const FailReason = "No astrologer picked within the allowed time"

// Service is the minute-granularity queue sweeper: it expires stale waiting
// sessions and drives the assignment engine for free sessions without an
// offer set.
type Service struct {
	cfg    *config.SweeperConfig
	store  store.Store
	engine *assign.Engine
	events events.Publisher
}

// NewService creates a sweeper with its collaborators injected.
func NewService(cfg *config.SweeperConfig, s store.Store, engine *assign.Engine, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  s,
		engine: engine,
		events: publisher,
	}
}

// Run starts the sweep loop. It sweeps once immediately, then on every
// interval tick until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Sweeper is disabled. Not starting.")
		return
	}
	log.Println("Starting queue sweeper...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Queue sweeper shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce executes one sweep tick. Errors are logged and the tick carries
// on; a persistence outage simply leaves the work to the next tick.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	freeCutoff := now.Add(-time.Duration(s.cfg.FreeWaitSeconds) * time.Second)
	paidCutoff := now.Add(-time.Duration(s.cfg.PaidWaitSeconds) * time.Second)

	sessions, err := s.store.ListWaitingSessions(ctx)
	if err != nil {
		log.Printf("Error loading waiting sessions: %v", err)
		return
	}

	var freeSessions, paidSessions []model.Session
	for _, session := range sessions {
		switch {
		case session.Cost == model.CostFree && session.CreatedAt.Before(freeCutoff):
			freeSessions = append(freeSessions, session)
		case session.Cost != model.CostFree && session.CreatedAt.Before(paidCutoff):
			paidSessions = append(paidSessions, session)
		}
	}

	s.failOverduePaid(ctx, paidSessions)

	for _, session := range freeSessions {
		// Sessions already holding an offer set are left alone: no re-offer
		// storm. The engine re-checks eligibility itself.
		if len(session.OfferedIDs()) > 0 {
			continue
		}
		if _, err := s.engine.Assign(ctx, session.ID); err != nil {
			log.Printf("Error assigning astrologers to session %d: %v", session.ID, err)
		}
	}
}

// failOverduePaid fails paid sessions past their wait threshold, but only when
// no progress is plausible: the assigned astrologer is offline, or available
// with this as their only in-flight session. An astrologer mid-session with
// someone else keeps the session alive.
func (s *Service) failOverduePaid(ctx context.Context, paidSessions []model.Session) {
	if len(paidSessions) == 0 {
		return
	}

	idSet := make(map[int64]struct{})
	var astrologerIDs []int64
	for _, session := range paidSessions {
		if session.AssignedAstrologerID == nil {
			continue
		}
		if _, ok := idSet[*session.AssignedAstrologerID]; !ok {
			idSet[*session.AssignedAstrologerID] = struct{}{}
			astrologerIDs = append(astrologerIDs, *session.AssignedAstrologerID)
		}
	}

	statuses, err := s.store.AstrologerStatuses(ctx, astrologerIDs)
	if err != nil {
		log.Printf("Error loading astrologer statuses: %v", err)
		return
	}
	inFlight, err := s.store.CountInFlight(ctx, astrologerIDs)
	if err != nil {
		log.Printf("Error counting in-flight sessions: %v", err)
		return
	}

	var toFail []int64
	for _, session := range paidSessions {
		if session.AssignedAstrologerID == nil {
			continue
		}
		status := statuses[*session.AssignedAstrologerID]
		count := inFlight[*session.AssignedAstrologerID]
		if status == model.AstrologerOffline ||
			(status == model.AstrologerAvailable && count == 1) {
			toFail = append(toFail, session.ID)
		}
	}

	if len(toFail) == 0 {
		return
	}

	updated, err := s.store.FailSessions(ctx, toFail, FailReason)
	if err != nil {
		log.Printf("Error failing overdue paid sessions: %v", err)
		return
	}
	log.Printf("Failed %d overdue paid sessions", updated)

	for _, sessionID := range toFail {
		s.events.Publish(ctx, events.SessionFailed, events.FailedPayload{
			SessionID: sessionID,
			Reason:    FailReason,
		})
	}
}
