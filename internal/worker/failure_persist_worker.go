package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	"transcript-rag/internal/platform/rabbitmq"
)

type FailureStore interface {
	Record(ctx context.Context, failure model.CleaningFailure) error
}

// FailurePersistWorker drains the failure queue into the failure table so a
// later cleaning run can find the chunks again.
type FailurePersistWorker struct {
	conn      *amqp.Connection
	store     FailureStore
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFailurePersistWorker(conn *amqp.Connection, store FailureStore, queueName string) *FailurePersistWorker {
	return &FailurePersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
	}
}

func (w *FailurePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return goerr.Wrap(err, "open worker channel failed")
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return goerr.Wrap(err, "consume failure queue failed", goerr.V("queue", w.queueName))
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		logger := logging.From(workerCtx).With("queue", w.queueName)
		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, logger, d.Body, d)
			}
		}
	}()

	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// handle decodes one message and writes it. The chunk itself stays
// uncleaned either way, so a message that cannot be stored is dropped.
func (w *FailurePersistWorker) handle(ctx context.Context, logger *slog.Logger, body []byte, ack acknowledger) {
	var failure model.CleaningFailure
	if err := json.Unmarshal(body, &failure); err != nil {
		logger.Error("decode failure message failed", "error", err)
		_ = ack.Nack(false, false)
		return
	}

	// A delivery already taken off the queue is written even while Close
	// is cancelling the consumer.
	if err := w.store.Record(context.WithoutCancel(ctx), failure); err != nil {
		logger.Error("persist cleaning failure failed",
			"video_id", failure.VideoID, "start_time", failure.StartTime, "error", err)
		_ = ack.Nack(false, false)
		return
	}
	_ = ack.Ack(false)
}

func (w *FailurePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
