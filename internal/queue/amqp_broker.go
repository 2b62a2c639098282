package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const amqpQueuePrefix = "talent-inbox."

// AMQPBroker runs each job kind on a durable RabbitMQ priority queue.
type AMQPBroker struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	prefetch int
	logger   *zap.Logger
}

func NewAMQPBroker(url string, prefetch int, log *zap.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if prefetch <= 0 {
		prefetch = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPBroker{
		conn:     conn,
		pubCh:    ch,
		prefetch: prefetch,
		logger:   log.Named("amqp"),
	}, nil
}

func queueName(kind string) string {
	return amqpQueuePrefix + kind
}

func (b *AMQPBroker) Declare(kind string) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return declare(b.pubCh, kind)
}

func declare(ch *amqp.Channel, kind string) error {
	_, err := ch.QueueDeclare(
		queueName(kind),
		true,
		false,
		false,
		false,
		amqp.Table{"x-max-priority": int32(MaxPriority + 1)},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", kind, err)
	}
	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err = b.pubCh.PublishWithContext(
		ctx,
		"",
		queueName(job.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     uint8(job.Priority),
			MessageId:    job.ID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, kind string) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, kind); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName(kind),
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	log := b.logger.With(zap.String("queue", queueName(kind)))

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case amqpErr, ok := <-closed:
				if ok && amqpErr != nil {
					log.Error("consumer channel closed by broker",
						zap.Int("code", amqpErr.Code),
						zap.String("reason", amqpErr.Reason),
						zap.Bool("server", amqpErr.Server),
					)
				} else {
					log.Error("consumer channel closed")
				}
				return
			case msg, ok := <-deliveries:
				if !ok {
					log.Error("consumer delivery stream ended")
					return
				}
				var job Job
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					log.Error("dropping undecodable job", zap.Error(err))
					_ = msg.Nack(false, false)
					continue
				}
				d := Delivery{Job: &job, Ack: func() error { return msg.Ack(false) }}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Depth reports the number of ready messages on the broker, across all consumers.
func (b *AMQPBroker) Depth(kind string) (int, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	q, err := b.pubCh.QueueDeclarePassive(queueName(kind), true, false, false, false, amqp.Table{"x-max-priority": int32(MaxPriority + 1)})
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

func (b *AMQPBroker) Close() error {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
