package notify

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

// RetryConfig configures dispatch retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration:
// three attempts with exponential backoff from one minute.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// NextDelay computes the backoff before the given attempt number
func (c RetryConfig) NextDelay(attempts int) time.Duration {
	if attempts <= 1 {
		return c.InitialDelay
	}
	return time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempts-1)))
}

// PrincipalSource resolves notification recipients
type PrincipalSource interface {
	GetPrincipal(ctx context.Context, id int64) (*identity.Principal, error)
}

// Dispatcher consumes the queue and delivers notifications. Successful
// delivery marks notification_sent on the request; failed tasks are
// rescheduled with backoff until attempts are exhausted, after which the
// reconciler owns recovery.
type Dispatcher struct {
	queue      *Queue
	requests   *workflow.Store
	principals PrincipalSource
	sender     Sender
	retry      RetryConfig
	logger     *observability.Logger
	metrics    *observability.Metrics

	pollInterval time.Duration
	stopCh       chan struct{}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(queue *Queue, requests *workflow.Store, principals PrincipalSource, sender Sender, retry RetryConfig, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Dispatcher{
		queue:        queue,
		requests:     requests,
		principals:   principals,
		sender:       sender,
		retry:        retry,
		logger:       logger,
		metrics:      metrics,
		pollInterval: 5 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the dispatch loop until the context is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorf("dispatcher panic: %v\n%s", r, debug.Stack())
			}
		}()

		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-d.stopCh:
				ticker.Stop()
				return
			case <-ticker.C:
				d.processDue(ctx)
			}
		}
	}()
}

// Stop halts the dispatch loop
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) processDue(ctx context.Context) {
	tasks, err := d.queue.Due(ctx, time.Now(), 50)
	if err != nil {
		d.logger.WithError(err).Warn("failed to poll notification queue")
		return
	}

	for _, task := range tasks {
		d.deliver(ctx, task)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task Task) {
	task.Attempts++

	attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := d.send(attemptCtx, task)
	cancel()

	if err == nil {
		if markErr := d.requests.MarkNotificationSent(ctx, task.RequestID); markErr != nil {
			d.logger.WithError(markErr).WithField("request_id", task.RequestID).
				Warn("delivered but failed to mark notification sent")
		}
		if d.metrics != nil {
			d.metrics.NotificationsSentTotal.WithLabelValues(task.Kind).Inc()
		}
		return
	}

	if task.Attempts >= d.retry.MaxAttempts {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": task.RequestID,
			"kind":       task.Kind,
			"attempts":   task.Attempts,
		}).Error("notification delivery exhausted retries")
		return
	}

	if d.metrics != nil {
		d.metrics.NotificationRetriesTotal.Inc()
	}
	due := time.Now().Add(d.retry.NextDelay(task.Attempts))
	if reschedErr := d.queue.Reschedule(ctx, task, due); reschedErr != nil {
		d.logger.WithError(reschedErr).WithField("request_id", task.RequestID).
			Error("failed to reschedule notification")
	}
}

func (d *Dispatcher) send(ctx context.Context, task Task) error {
	request, err := d.requests.Get(ctx, task.RequestID)
	if err != nil {
		return fmt.Errorf("request lookup failed: %w", err)
	}

	requester, err := d.principals.GetPrincipal(ctx, request.RequesterID)
	if err != nil {
		return fmt.Errorf("requester lookup failed: %w", err)
	}

	subject, body := Compose(task.Kind, request)
	return d.sender.Send(ctx, []string{requester.Email}, subject, body)
}

// Compose renders the subject and body for a notification kind
func Compose(kind string, request *workflow.AccessRequest) (subject, body string) {
	switch kind {
	case workflow.NotificationApproved:
		subject = "Your access request was approved"
		body = fmt.Sprintf("Your request #%d for distribution %d has been approved.",
			request.ID, request.DistributionID)
		if request.ExpiresAt != nil {
			body += fmt.Sprintf(" Access expires on %s.", request.ExpiresAt.Format("2006-01-02"))
		}
	case workflow.NotificationRejected:
		subject = "Your access request was rejected"
		body = fmt.Sprintf("Your request #%d for distribution %d was rejected. Notes: %s",
			request.ID, request.DistributionID, request.ReviewNotes)
	case workflow.NotificationRevoked:
		subject = "Your access was revoked"
		body = fmt.Sprintf("Access granted by request #%d has been revoked. Notes: %s",
			request.ID, request.ReviewNotes)
	case workflow.NotificationExpired:
		subject = "Your access has expired"
		body = fmt.Sprintf("Access granted by request #%d has expired.", request.ID)
	case workflow.NotificationExpiring7d, workflow.NotificationExpiring3d, workflow.NotificationExpiring1d:
		subject = "Your access is expiring soon"
		if request.ExpiresAt != nil {
			body = fmt.Sprintf("Access granted by request #%d expires on %s.",
				request.ID, request.ExpiresAt.Format("2006-01-02"))
		} else {
			body = fmt.Sprintf("Access granted by request #%d is expiring soon.", request.ID)
		}
	default:
		subject = "Access request update"
		body = fmt.Sprintf("Request #%d is now %s.", request.ID, request.Status)
	}
	return subject, body
}
