package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mrabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ProducerRepository provides an interface for Producer related to rabbitmq.
// It defines methods for sending messages to an exchange.
type ProducerRepository interface {
	ProducerDefault(ctx context.Context, exchange, key string, message []byte) error
	CheckRabbitMQHealth() bool
}

// ProducerRabbitMQRepository is a rabbitmq implementation of the producer.
type ProducerRabbitMQRepository struct {
	conn *mrabbitmq.RabbitMQConnection
}

// NewProducerRabbitMQ returns a new instance of ProducerRabbitMQRepository using the given rabbitmq connection.
func NewProducerRabbitMQ(c *mrabbitmq.RabbitMQConnection) *ProducerRabbitMQRepository {
	prmq := &ProducerRabbitMQRepository{
		conn: c,
	}

	_, err := c.GetChannel()
	if err != nil {
		panic("Failed to connect rabbitmq")
	}

	return prmq
}

// CheckRabbitMQHealth checks the health of the rabbitmq connection.
func (prmq *ProducerRabbitMQRepository) CheckRabbitMQHealth() bool {
	return prmq.conn.HealthCheck()
}

// ProducerDefault publishes a persistent message on the configured exchange.
func (prmq *ProducerRabbitMQRepository) ProducerDefault(ctx context.Context, exchange, key string, message []byte) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	_, spanProducer := tracer.Start(ctx, "rabbitmq.producer.publish_message")
	defer spanProducer.End()

	ch, err := prmq.conn.GetChannel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		})
	if err != nil {
		logger.Errorf("Failed to publish message: %s", err)

		return err
	}

	logger.Infof("Message sent to exchange: %s, key: %s", exchange, key)

	return nil
}

// ExternalEventSink publishes claimed outbox entries to rabbitmq. It is the
// built-in handler for the external transport; the routing key is the entry's
// integration action.
type ExternalEventSink struct {
	producer ProducerRepository
	exchange string
}

// NewExternalEventSink returns a sink over the given producer and exchange.
func NewExternalEventSink(producer ProducerRepository, exchange string) *ExternalEventSink {
	return &ExternalEventSink{
		producer: producer,
		exchange: exchange,
	}
}

// Publish hands the wrapped payload to rabbitmq, reporting it handled on
// success.
func (s *ExternalEventSink) Publish(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) (bool, error) {
	message, err := json.Marshal(wrapped)
	if err != nil {
		return false, err
	}

	if err := s.producer.ProducerDefault(ctx, s.exchange, entry.IntegrationAction, message); err != nil {
		return false, err
	}

	return true, nil
}
