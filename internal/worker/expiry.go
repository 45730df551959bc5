// Package worker runs the optional background expiry checks on asynq.
//
// Sessions still expire lazily on access; the worker only makes sure the check
// also happens once at the deadline when nobody is looking.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"heartlink/backend/internal/pairing"

	"github.com/hibiken/asynq"
)

const (
	TaskCheckExpiry = "session:check_expiry"
	QueueName       = "expiry"

	enqueueTimeout = 2 * time.Second
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ExpiryChecker is satisfied by *pairing.Service.
type ExpiryChecker interface {
	CheckExpiry(ctx context.Context, caller, sessionID string) (*pairing.ExpiryResult, error)
}

type checkExpiryPayload struct {
	SessionID string `json:"session_id"`
}

// NewCheckExpiryTask builds the task that checks one session.
func NewCheckExpiryTask(sessionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(checkExpiryPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCheckExpiry, payload), nil
}

// ExpiryScheduler schedules a check at every new temporary session's deadline
// and runs those checks when they fire.
type ExpiryScheduler struct {
	Client  Enqueuer
	Checker ExpiryChecker
}

func NewExpiryScheduler(client Enqueuer, checker ExpiryChecker) *ExpiryScheduler {
	return &ExpiryScheduler{Client: client, Checker: checker}
}

// HandlePairingEvent implements pairing.Listener.
func (s *ExpiryScheduler) HandlePairingEvent(ctx context.Context, ev pairing.Event) {
	if ev.Kind != pairing.EventPairingCreated || ev.Session == nil || ev.Session.ExpiresAt == nil {
		return
	}
	if err := s.Schedule(ctx, ev.Session.ID, *ev.Session.ExpiresAt); err != nil {
		log.Printf("ERROR: Failed to schedule expiry check for session %s: %v", ev.Session.ID, err)
	}
}

// Schedule enqueues the check for sessionID at at. Scheduling the same session twice is a no-op.
func (s *ExpiryScheduler) Schedule(ctx context.Context, sessionID string, at time.Time) error {
	task, err := NewCheckExpiryTask(sessionID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.Queue(QueueName),
		asynq.TaskID("expiry:"+sessionID),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ProcessTask implements asynq.Handler.
func (s *ExpiryScheduler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p checkExpiryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskCheckExpiry, err, asynq.SkipRetry)
	}

	res, err := s.Checker.CheckExpiry(ctx, "", p.SessionID)
	if errors.Is(err, pairing.ErrNotFound) {
		return fmt.Errorf("session %s: %v: %w", p.SessionID, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if res.InvitationCreated {
		log.Printf("INFO: Expiry worker created invitation %s for session %s", res.Invitation.ID, p.SessionID)
	}
	return nil
}

// NewServer returns an asynq server consuming the expiry queue, plus its mux.
func NewServer(redisURL string, s *ExpiryScheduler) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("ERROR: asynq task %s failed: %v", task.Type(), err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskCheckExpiry, s)
	return srv, mux, nil
}

// NewClient returns an asynq client for redisURL.
func NewClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return asynq.NewClient(opt), nil
}
