package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
	"carbon-scribe/energy-credits/energy-credits-backend/pkg/workflows"
)

// Decision is a verifier's verdict on a pending submission.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) target() (submissions.Status, bool) {
	switch d {
	case DecisionApprove:
		return submissions.StatusApproved, true
	case DecisionReject:
		return submissions.StatusRejected, true
	default:
		return "", false
	}
}

// Service applies verifier decisions. Each submission is decided at most once.
type Service struct {
	repo      submissions.Repository
	machine   *workflows.StateMachine
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(repo submissions.Repository, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		machine:   workflows.NewSubmissionStateMachine(),
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Approve(ctx context.Context, submissionID, verifierID uuid.UUID) (*submissions.Submission, error) {
	return s.Decide(ctx, submissionID, verifierID, DecisionApprove)
}

func (s *Service) Reject(ctx context.Context, submissionID, verifierID uuid.UUID) (*submissions.Submission, error) {
	return s.Decide(ctx, submissionID, verifierID, DecisionReject)
}

// Decide moves a pending submission to approved or rejected, recording the
// verifier and decision time in the same compare-and-set.
func (s *Service) Decide(ctx context.Context, submissionID, verifierID uuid.UUID, decision Decision) (*submissions.Submission, error) {
	target, ok := decision.target()
	if !ok {
		return nil, apperrors.Validation("unknown decision %q", decision)
	}
	if verifierID == uuid.Nil {
		return nil, apperrors.Validation("verifier_id is required")
	}

	current, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDecidable(current); err != nil {
		return nil, err
	}
	if !s.machine.CanTransition(string(current.Status), string(target)) {
		return nil, apperrors.InvalidStateTransition("cannot move submission from %s to %s", current.Status, target)
	}

	decidedAt := s.now()
	won, err := s.repo.CompareAndSetStatus(ctx, submissionID, submissions.StatusPending, target, map[string]interface{}{
		"verifier_id": verifierID,
		"decided_at":  decidedAt,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		metrics.LostRacesTotal.WithLabelValues("decide").Inc()
		s.logger.Debug("Lost decision race",
			zap.String("submission_id", submissionID.String()),
			zap.String("verifier_id", verifierID.String()))
		return nil, apperrors.New(apperrors.CodeAlreadyDecided, "submission %s was decided concurrently", submissionID)
	}

	current.Status = target
	current.VerifierID = &verifierID
	current.DecidedAt = &decidedAt

	metrics.DecisionsTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info("Submission decided",
		zap.String("submission_id", submissionID.String()),
		zap.String("verifier_id", verifierID.String()),
		zap.String("status", string(target)))

	s.publisher.Publish(ctx, events.New(events.TypeSubmissionDecided, submissionID, map[string]interface{}{
		"status":          target,
		"verifier_id":     verifierID.String(),
		"producer_id":     current.ProducerID.String(),
		"co2_kg_computed": current.CO2KgComputed.String(),
	}))
	return current, nil
}

func (s *Service) checkDecidable(sub *submissions.Submission) error {
	switch sub.Status {
	case submissions.StatusPending:
		return nil
	case submissions.StatusApproved, submissions.StatusRejected:
		return apperrors.New(apperrors.CodeAlreadyDecided, "submission %s is already %s", sub.ID, sub.Status)
	default:
		return apperrors.InvalidStateTransition("submission %s is %s and cannot be decided", sub.ID, sub.Status)
	}
}
