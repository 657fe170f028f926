package rabbitmq

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

func New(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, goerr.Wrap(err, "dial rabbitmq failed")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, goerr.Wrap(err, "open rabbitmq channel failed")
	}
	defer ch.Close()

	done := make(chan error, 1)
	go func() {
		_, queueErr := ch.QueueDeclarePassive("healthcheck", false, false, false, false, nil)
		done <- queueErr
	}()

	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, goerr.Wrap(checkCtx.Err(), "rabbitmq health check timeout")
	case <-done:
		// A missing healthcheck queue still proves the broker answered.
		return conn, nil
	}
}

// DeclareQueue declares the durable queue used by both publisher and worker.
func DeclareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return goerr.Wrap(err, "declare queue failed", goerr.V("queue", name))
	}
	return nil
}
