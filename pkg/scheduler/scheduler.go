// Package scheduler runs the workflow control plane's periodic jobs:
// expiry sweeps, expiry reminders, notification reconciliation, retention
// cleanup, and the daily administrator summary.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/metering"
	"github.com/Itqan-community/cms-backend-sub002/pkg/notify"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

// Schedules, cron spec format. Offsets avoid piling jobs onto the hour.
const (
	scheduleExpirySweep    = "5 * * * *"
	scheduleReminders      = "0 8 * * *"
	scheduleReconcile      = "*/10 * * * *"
	scheduleRetention      = "30 2 * * *"
	scheduleDailySummary   = "10 0 * * *"
	reconcileOlderThan     = 30 * time.Minute
	retentionPeriod        = 365 * 24 * time.Hour
	jobTimeout             = 5 * time.Minute
)

// Stores aggregates the read-side dependencies of the daily summary.
type Stores struct {
	Principals  *identity.Store
	Credentials *apikeys.Store
	Requests    *workflow.Store
	Usage       *metering.Store
	Violations  *ratelimit.ViolationStore
}

// Scheduler owns the cron runner and the jobs it executes.
type Scheduler struct {
	workflow    *workflow.Service
	stores      Stores
	sender      notify.Sender
	adminEmails []string
	logger      *observability.Logger
	cron        *cron.Cron
}

// New creates a scheduler. Start must be called to begin executing jobs.
func New(wf *workflow.Service, stores Stores, sender notify.Sender, adminEmails []string, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		workflow:    wf,
		stores:      stores,
		sender:      sender,
		adminEmails: adminEmails,
		logger:      logger,
		cron:        cron.New(),
	}
}

// Start registers and starts all periodic jobs.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"expiry_sweep", scheduleExpirySweep, s.runExpirySweep},
		{"expiry_reminders", scheduleReminders, s.runReminders},
		{"notification_reconcile", scheduleReconcile, s.runReconcile},
		{"retention_sweep", scheduleRetention, s.runRetention},
		{"daily_summary", scheduleDailySummary, s.runDailySummary},
	}
	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			start := time.Now()
			if err := job.run(ctx); err != nil {
				s.logger.WithError(err).WithField("job", job.name).Error("scheduled job failed")
				return
			}
			s.logger.WithFields(map[string]interface{}{
				"job":      job.name,
				"duration": time.Since(start).String(),
			}).Debug("scheduled job completed")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runExpirySweep(ctx context.Context) error {
	swept, err := s.workflow.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Info("expired approved access requests")
	}
	return nil
}

func (s *Scheduler) runReminders(ctx context.Context) error {
	return s.workflow.SendExpiryReminders(ctx)
}

func (s *Scheduler) runReconcile(ctx context.Context) error {
	requeued, err := s.workflow.ReconcileUnnotified(ctx, reconcileOlderThan)
	if err != nil {
		return err
	}
	if requeued > 0 {
		s.logger.WithField("count", requeued).Info("requeued unnotified terminal requests")
	}
	return nil
}

func (s *Scheduler) runRetention(ctx context.Context) error {
	removed, err := s.workflow.RetentionSweep(ctx, retentionPeriod)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.WithField("count", removed).Info("soft deleted aged terminal requests")
	}
	return nil
}

// runDailySummary aggregates the previous 24 hours and mails it to the
// configured administrators.
func (s *Scheduler) runDailySummary(ctx context.Context) error {
	if len(s.adminEmails) == 0 {
		return nil
	}
	since := time.Now().UTC().Add(-24 * time.Hour)

	byStatus, err := s.stores.Requests.CountByStatusSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to count request transitions: %w", err)
	}
	usage, err := s.stores.Usage.CountSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to count usage events: %w", err)
	}
	violations, err := s.stores.Violations.CountSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to count violations: %w", err)
	}
	activeKeys, err := s.stores.Credentials.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to count active credentials: %w", err)
	}
	byRole, err := s.stores.Principals.PrincipalCountByRole(ctx)
	if err != nil {
		return fmt.Errorf("failed to count principals: %w", err)
	}

	body := fmt.Sprintf(
		"Daily access control summary for %s\n\n"+
			"Access requests (last 24h):\n"+
			"  pending: %d\n  under_review: %d\n  approved: %d\n  rejected: %d\n  revoked: %d\n  expired: %d\n\n"+
			"Usage events recorded: %d\n"+
			"Rate limit violations: %d\n"+
			"Active API keys: %d\n\n"+
			"Principals by role:\n",
		time.Now().UTC().Format("2006-01-02"),
		byStatus[workflow.StatusPending], byStatus[workflow.StatusUnderReview],
		byStatus[workflow.StatusApproved], byStatus[workflow.StatusRejected],
		byStatus[workflow.StatusRevoked], byStatus[workflow.StatusExpired],
		usage, violations, activeKeys,
	)
	for role, count := range byRole {
		body += fmt.Sprintf("  %s: %d\n", role, count)
	}

	subject := fmt.Sprintf("[cms] daily summary %s", time.Now().UTC().Format("2006-01-02"))
	if err := s.sender.Send(ctx, s.adminEmails, subject, body); err != nil {
		return fmt.Errorf("failed to send daily summary: %w", err)
	}
	return nil
}
