package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// Enqueuer publishes notification tasks for asynchronous delivery.
// Implemented by notify.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, requestID int64, kind string) error
}

// Service drives the access request state machine. Transitions are
// serialized per request by a row lock; notifications are enqueued only
// after the transaction commits, so a rollback never notifies.
type Service struct {
	store    *Store
	enqueuer Enqueuer
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates a workflow service
func NewService(store *Store, enqueuer Enqueuer, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Submit files a new request. Validation failures and duplicates return
// before anything is written.
func (s *Service) Submit(ctx context.Context, requester *identity.Principal, distributionID int64, justification string) (*AccessRequest, error) {
	if strings.TrimSpace(justification) == "" {
		return nil, ErrEmptyJustification
	}

	request := &AccessRequest{
		RequesterID:    requester.ID,
		DistributionID: distributionID,
		Justification:  justification,
	}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"request_id":      request.ID,
		"requester_id":    requester.ID,
		"distribution_id": distributionID,
	}).Info("access request submitted")
	return request, nil
}

// StartReview moves a pending request under review
func (s *Service) StartReview(ctx context.Context, reviewer *identity.Principal, requestID int64) (*AccessRequest, error) {
	return s.transition(ctx, requestID, StatusUnderReview, "", func(r *AccessRequest) {
		r.ReviewedBy = &reviewer.ID
	})
}

// Approve grants the request, optionally bounding it with an expiry
func (s *Service) Approve(ctx context.Context, reviewer *identity.Principal, requestID int64, notes string, expiresAt *time.Time) (*AccessRequest, error) {
	now := time.Now()
	return s.transition(ctx, requestID, StatusApproved, NotificationApproved, func(r *AccessRequest) {
		r.ReviewedBy = &reviewer.ID
		r.ReviewNotes = notes
		r.ReviewedAt = &now
		r.ExpiresAt = expiresAt
	})
}

// Reject denies the request with reviewer notes
func (s *Service) Reject(ctx context.Context, reviewer *identity.Principal, requestID int64, notes string) (*AccessRequest, error) {
	now := time.Now()
	return s.transition(ctx, requestID, StatusRejected, NotificationRejected, func(r *AccessRequest) {
		r.ReviewedBy = &reviewer.ID
		r.ReviewNotes = notes
		r.ReviewedAt = &now
	})
}

// Revoke withdraws an approved request
func (s *Service) Revoke(ctx context.Context, admin *identity.Principal, requestID int64, notes string) (*AccessRequest, error) {
	now := time.Now()
	return s.transition(ctx, requestID, StatusRevoked, NotificationRevoked, func(r *AccessRequest) {
		r.RevokedBy = &admin.ID
		r.RevokedAt = &now
		if notes != "" {
			r.ReviewNotes = notes
		}
	})
}

// MarkExpired transitions an approved request past its expiry. This is
// the only transition driven by the sweeper rather than an actor, and it
// is idempotent: an already-expired request is returned unchanged.
func (s *Service) MarkExpired(ctx context.Context, requestID int64) (*AccessRequest, error) {
	request, err := s.transition(ctx, requestID, StatusExpired, NotificationExpired, func(r *AccessRequest) {})
	if err == ErrInvalidTransition {
		current, getErr := s.store.Get(ctx, requestID)
		if getErr == nil && current.Status == StatusExpired {
			return current, nil
		}
		return nil, err
	}
	return request, err
}

// transition performs a locked state move and enqueues the notification
// after commit. A re-entrant attempt on a terminal state returns
// ErrInvalidTransition without side effects.
func (s *Service) transition(ctx context.Context, requestID int64, to Status, notificationKind string, apply func(*AccessRequest)) (*AccessRequest, error) {
	tx, err := s.store.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	request, err := s.store.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(request.Status, to) {
		return nil, ErrInvalidTransition
	}

	from := request.Status
	request.Status = to
	request.NotificationSent = false
	apply(request)

	if err := s.store.UpdateTransition(ctx, tx, request); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	if s.metrics != nil {
		s.metrics.WorkflowTransitionsTotal.WithLabelValues(string(to)).Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"request_id": request.ID,
		"from":       string(from),
		"to":         string(to),
	}).Info("access request transitioned")

	if notificationKind != "" {
		// The transition is durable at this point; enqueue with a
		// background context so a client disconnect cannot drop it.
		// Failures are recovered by the reconciler.
		if err := s.enqueuer.Enqueue(context.Background(), request.ID, notificationKind); err != nil {
			s.logger.WithError(err).WithField("request_id", request.ID).
				Warn("failed to enqueue notification, reconciler will retry")
		}
	}

	return request, nil
}

// SweepExpired marks every approved request past its expiry as expired.
// Safe to run repeatedly.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ApprovedExpiredBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, request := range expired {
		if _, err := s.MarkExpired(ctx, request.ID); err != nil {
			s.logger.WithError(err).WithField("request_id", request.ID).
				Warn("expiry sweep failed for request")
			continue
		}
		swept++
	}
	return swept, nil
}

// SendExpiryReminders enqueues reminders for approved requests expiring
// in 7, 3, and 1 days. Each horizon is a distinct notification kind, so
// a request gets each reminder at most once.
func (s *Service) SendExpiryReminders(ctx context.Context) error {
	horizons := map[int]string{
		7: NotificationExpiring7d,
		3: NotificationExpiring3d,
		1: NotificationExpiring1d,
	}

	now := time.Now().UTC()
	for days, kind := range horizons {
		expiring, err := s.store.ApprovedExpiringOn(ctx, now.AddDate(0, 0, days))
		if err != nil {
			return err
		}
		for _, request := range expiring {
			if err := s.enqueuer.Enqueue(ctx, request.ID, kind); err != nil {
				s.logger.WithError(err).WithField("request_id", request.ID).
					Warn("failed to enqueue expiry reminder")
			}
		}
	}
	return nil
}

// ReconcileUnnotified re-enqueues notifications for requests whose
// transition is older than the threshold but still unnotified.
func (s *Service) ReconcileUnnotified(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.UnnotifiedTerminalBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, request := range stale {
		kind := notificationKindFor(request.Status)
		if kind == "" {
			continue
		}
		if err := s.enqueuer.Enqueue(ctx, request.ID, kind); err != nil {
			s.logger.WithError(err).WithField("request_id", request.ID).
				Warn("reconciler failed to re-enqueue notification")
			continue
		}
		requeued++
	}
	return requeued, nil
}

func notificationKindFor(status Status) string {
	switch status {
	case StatusApproved:
		return NotificationApproved
	case StatusRejected:
		return NotificationRejected
	case StatusRevoked:
		return NotificationRevoked
	case StatusExpired:
		return NotificationExpired
	}
	return ""
}

// RetentionSweep soft-deletes terminal requests older than the retention
// period. Returns the number of rows hidden.
func (s *Service) RetentionSweep(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.SoftDeleteInactiveBefore(ctx, time.Now().Add(-retention))
}
