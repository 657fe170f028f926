package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"transcript-rag/internal/model"
)

// FailurePublisher routes rejected chunks to the failure queue.
type FailurePublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewFailurePublisher(conn *amqp.Connection, queueName string) *FailurePublisher {
	return &FailurePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *FailurePublisher) Record(ctx context.Context, failure model.CleaningFailure) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return goerr.Wrap(err, "open rabbitmq channel failed")
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(failure)
	if err != nil {
		return goerr.Wrap(err, "marshal failure payload failed")
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    failure.RunID,
		},
	); err != nil {
		return goerr.Wrap(err, "publish failure failed",
			goerr.V("video_id", failure.VideoID),
			goerr.V("start_time", failure.StartTime))
	}
	return nil
}
