// Package notify delivers account notifications and one-time code messages
// out of process. Kafka is the production path; consumers own templating and
// the actual SMS or e-mail delivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/MrEthical07/charityauth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher publishes one JSON message.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// SyncProducer publishes through a sarama.SyncProducer.
type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// ProducerConfig returns the idempotent, all-acks producer configuration.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

// NewSyncProducer dials brokers.
func NewSyncProducer(brokers []string, logger *zap.Logger) (*SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return WrapSyncProducer(producer, logger), nil
}

// WrapSyncProducer adapts an existing producer.
func WrapSyncProducer(producer sarama.SyncProducer, logger *zap.Logger) *SyncProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncProducer{producer: producer, logger: logger}
}

func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal kafka payload: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		p.logger.Error("kafka publish failed", zap.String("topic", topic), zap.Error(err))
		return 0, 0, fmt.Errorf("kafka publish failed: %w", err)
	}
	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// Topics names the destinations.
type Topics struct {
	Notifications string `mapstructure:"notifications"`
	SMS           string `mapstructure:"sms"`
}

// DefaultTopics returns the platform topic names.
func DefaultTopics() Topics {
	return Topics{
		Notifications: "charity.auth.notifications",
		SMS:           "charity.auth.sms",
	}
}

// Envelope is the JSON body of a notification message.
type Envelope struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Audience  string            `json:"audience"`
	AccountID string            `json:"account_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SMSMessage is the JSON body of an SMS request.
type SMSMessage struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Kafka publishes notifications and one-time code messages. It implements
// both charityauth.Notifier and otp.Transport.
type Kafka struct {
	publisher Publisher
	topics    Topics
	now       func() time.Time
}

// NewKafka returns a Kafka notifier. Empty topics take defaults.
func NewKafka(publisher Publisher, topics Topics) (*Kafka, error) {
	if publisher == nil {
		return nil, errors.New("kafka publisher required")
	}
	def := DefaultTopics()
	if topics.Notifications == "" {
		topics.Notifications = def.Notifications
	}
	if topics.SMS == "" {
		topics.SMS = def.SMS
	}
	return &Kafka{publisher: publisher, topics: topics, now: time.Now}, nil
}

// Notify publishes n keyed by account so one account's messages stay ordered.
func (k *Kafka) Notify(ctx context.Context, n charityauth.Notification) error {
	env := Envelope{
		ID:        uuid.NewString(),
		Kind:      string(n.Kind),
		Audience:  string(n.Audience),
		AccountID: n.AccountID,
		Email:     n.Email,
		Phone:     n.Phone,
		Data:      n.Data,
		CreatedAt: k.now().UTC(),
	}
	key := n.AccountID
	if key == "" {
		key = env.ID
	}
	_, _, err := k.publisher.PublishJSON(ctx, k.topics.Notifications, key, env)
	return err
}

// Send publishes an SMS request keyed by destination.
func (k *Kafka) Send(ctx context.Context, destination, message string) error {
	_, _, err := k.publisher.PublishJSON(ctx, k.topics.SMS, destination, SMSMessage{
		ID:          uuid.NewString(),
		Destination: destination,
		Body:        message,
		CreatedAt:   k.now().UTC(),
	})
	return err
}

// Close closes the publisher.
func (k *Kafka) Close() error {
	return k.publisher.Close()
}
