package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tutorllm/internal/errs"
	"tutorllm/internal/model"
	"tutorllm/internal/platform/rabbitmq"
)

// JobHandler writes one queued append to the session store.
type JobHandler interface {
	PersistAppend(ctx context.Context, job model.AppendJob) error
}

// MessagePersistWorker is the single consumer of the append queue. It takes
// one delivery at a time, so appends are applied in queue order.
type MessagePersistWorker struct {
	conn         *amqp.Connection
	handler      JobHandler
	queueName    string
	requeueDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, handler JobHandler, queueName string) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:         conn,
		handler:      handler,
		queueName:    queueName,
		requeueDelay: time.Second,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclarePersistQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					slog.Warn("append queue closed", "queue", w.queueName)
					return
				}
				result, err := w.handle(workerCtx, d.Body)
				if err != nil {
					slog.Error("persist append failed", "queue", w.queueName, "outcome", result.String(), "error", err)
				}
				if result == outcomeRequeue {
					select {
					case <-workerCtx.Done():
					case <-time.After(w.requeueDelay):
					}
				}
				if err := settle(d, result); err != nil {
					slog.Warn("settle delivery failed", "queue", w.queueName, "error", err)
				}
			}
		}
	}()

	return nil
}

type outcome int

const (
	outcomeAck outcome = iota
	// outcomeDrop discards a delivery that can never be applied.
	outcomeDrop
	// outcomeRequeue returns a delivery to the queue after a store failure.
	outcomeRequeue
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeDrop:
		return "drop"
	default:
		return "requeue"
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(d acknowledger, o outcome) error {
	switch o {
	case outcomeAck:
		return d.Ack(false)
	case outcomeDrop:
		return d.Nack(false, false)
	default:
		return d.Nack(false, true)
	}
}

// handle decodes and applies one delivery. Undecodable payloads and appends
// to sessions deleted after the job was queued are dropped; any other store
// failure is requeued so the append is retried.
func (w *MessagePersistWorker) handle(ctx context.Context, body []byte) (outcome, error) {
	var job model.AppendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return outcomeDrop, fmt.Errorf("decode append job failed: %w", err)
	}
	if job.SessionID == "" || job.UserID == 0 {
		return outcomeDrop, errors.New("append job missing session or user")
	}
	err := w.handler.PersistAppend(ctx, job)
	switch {
	case err == nil:
		return outcomeAck, nil
	case errors.Is(err, errs.ErrSessionNotFound):
		slog.Warn("dropping append for missing session", "session_id", job.SessionID)
		return outcomeAck, nil
	case errors.Is(err, errs.ErrInvalidInput):
		return outcomeDrop, err
	default:
		return outcomeRequeue, err
	}
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
