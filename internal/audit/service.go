package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to drivers.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ActorID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogBatchCreated records a batch upload.
func (s *Service) LogBatchCreated(ctx context.Context, actorID, actorRole, ip, batchID, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeBatchCreated,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		BatchID:   batchID,
		Message:   "batch created",
		Metadata:  metadata,
	})
}

// LogDispatchStarted records the operator trigger for a batch's dispatch loop.
func (s *Service) LogDispatchStarted(ctx context.Context, actorID, actorRole, ip, batchID, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeDispatchStarted,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		BatchID:   batchID,
		Message:   "dispatch started",
		Metadata:  metadata,
	})
}

// LogCallStopped records an operator force-stop of one call job.
func (s *Service) LogCallStopped(ctx context.Context, actorID, actorRole, ip, batchID, jobID, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeCallStopped,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		BatchID:   batchID,
		JobID:     jobID,
		Message:   "call stopped by operator",
		Metadata:  metadata,
	})
}
