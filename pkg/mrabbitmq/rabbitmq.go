package mrabbitmq

import (
	"github.com/AureliaStudio/conveyor/pkg/mlog"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConnection is a hub which deal with rabbitmq connections.
type RabbitMQConnection struct {
	ConnectionStringSource string
	Exchange               string
	Connection             *amqp.Connection
	Channel                *amqp.Channel
	Connected              bool
	Logger                 mlog.Logger
}

// Connect keeps a singleton connection with rabbitmq.
func (rc *RabbitMQConnection) Connect() error {
	rc.Logger.Info("Connecting on rabbitmq...")

	conn, err := amqp.Dial(rc.ConnectionStringSource)
	if err != nil {
		rc.Logger.Errorf("failed to connect on rabbitmq: %v", err)

		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		rc.Logger.Errorf("failed to open channel on rabbitmq: %v", err)

		return err
	}

	if rc.Exchange != "" {
		if err := ch.ExchangeDeclare(rc.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			rc.Logger.Errorf("failed to declare exchange on rabbitmq: %v", err)

			return err
		}
	}

	rc.Logger.Info("Connected on rabbitmq ✅ ")

	rc.Connected = true
	rc.Connection = conn
	rc.Channel = ch

	return nil
}

// GetChannel returns a pointer to the rabbitmq channel, initializing it if necessary.
func (rc *RabbitMQConnection) GetChannel() (*amqp.Channel, error) {
	if !rc.Connected {
		if err := rc.Connect(); err != nil {
			rc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return rc.Channel, nil
}

// HealthCheck reports whether the underlying connection is still open.
func (rc *RabbitMQConnection) HealthCheck() bool {
	return rc.Connected && rc.Connection != nil && !rc.Connection.IsClosed()
}
