package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypePaymentConfirmed is the asynq task type emitted for confirmed payments.
const TypePaymentConfirmed = "checkout:payment_confirmed"

// DefaultQueue is the asynq queue confirmed-payment tasks go to.
const DefaultQueue = "checkout"

// Enqueuer is the subset of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskPublisher emits a task for every succeeded outcome. Other outcomes are
// ignored.
type TaskPublisher struct {
	client Enqueuer
	queue  string
}

// NewTaskPublisher builds a TaskPublisher. An empty queue selects DefaultQueue.
func NewTaskPublisher(client Enqueuer, queue string) *TaskPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &TaskPublisher{client: client, queue: queue}
}

// NewPaymentConfirmedTask builds the task for an outcome. The task id is
// derived from the session epoch so duplicates are rejected by asynq.
func NewPaymentConfirmedTask(o Outcome) (*asynq.Task, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("outcome: encode task payload: %w", err)
	}
	return asynq.NewTask(TypePaymentConfirmed, payload,
		asynq.TaskID(o.SessionID+":"+strconv.FormatUint(o.Epoch, 10)),
		asynq.MaxRetry(10),
	), nil
}

// ParsePaymentConfirmed decodes a task built by NewPaymentConfirmedTask.
func ParsePaymentConfirmed(t *asynq.Task) (Outcome, error) {
	var o Outcome
	if t == nil || t.Type() != TypePaymentConfirmed {
		return o, fmt.Errorf("outcome: unexpected task type")
	}
	if err := json.Unmarshal(t.Payload(), &o); err != nil {
		return o, fmt.Errorf("outcome: decode task payload: %w", err)
	}
	return o, nil
}

// Record implements Sink.
func (p *TaskPublisher) Record(ctx context.Context, o Outcome) error {
	if p == nil || p.client == nil || !o.Succeeded() {
		return nil
	}
	task, err := NewPaymentConfirmedTask(o)
	if err != nil {
		return err
	}
	_, err = p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// ConfirmedHandler processes payment-confirmed tasks in the worker: the
// outcome is persisted (a no-op when the API already stored it) and the
// booking's cached detail is dropped.
type ConfirmedHandler struct {
	Store      Sink
	Invalidate func(ctx context.Context, bookingID string) error
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h ConfirmedHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	o, err := ParsePaymentConfirmed(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if h.Store != nil {
		if err := h.Store.Record(ctx, o); err != nil {
			return fmt.Errorf("outcome: store confirmed payment: %w", err)
		}
	}
	if h.Invalidate != nil {
		if err := h.Invalidate(ctx, o.BookingID); err != nil {
			h.Logger.Warn().Err(err).Str("booking_id", o.BookingID).Msg("invalidate booking cache failed")
		}
	}
	h.Logger.Info().
		Str("booking_id", o.BookingID).
		Str("session_id", o.SessionID).
		Uint64("epoch", o.Epoch).
		Msg("payment confirmed")
	return nil
}
