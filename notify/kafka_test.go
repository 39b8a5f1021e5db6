package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/MrEthical07/charityauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaNotifyPublishesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = producer.Close() })

	var got Envelope
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "notes" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "acc-1" {
			return errors.New("unexpected key " + string(key))
		}
		raw, _ := msg.Value.Encode()
		return json.Unmarshal(raw, &got)
	})

	k, err := NewKafka(WrapSyncProducer(producer, nil), Topics{Notifications: "notes"})
	require.NoError(t, err)

	err = k.Notify(context.Background(), charityauth.Notification{
		Kind:      charityauth.NotifyPasswordChanged,
		Audience:  charityauth.AudienceAccount,
		AccountID: "acc-1",
		Email:     "a@x.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "password_changed", got.Kind)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.NotEmpty(t, got.ID)
}

func TestKafkaSendPublishesSMS(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = producer.Close() })

	var got SMSMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != DefaultTopics().SMS {
			return errors.New("unexpected topic " + msg.Topic)
		}
		raw, _ := msg.Value.Encode()
		return json.Unmarshal(raw, &got)
	})

	k, err := NewKafka(WrapSyncProducer(producer, nil), Topics{})
	require.NoError(t, err)
	require.NoError(t, k.Send(context.Background(), "+15550001", "Your login verification code is 123456"))
	assert.Equal(t, "+15550001", got.Destination)
	assert.Contains(t, got.Body, "123456")
}

func TestKafkaPublishFailureIsReturned(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = producer.Close() })
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k, err := NewKafka(WrapSyncProducer(producer, nil), Topics{})
	require.NoError(t, err)
	err = k.Send(context.Background(), "+1555", "hi")
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, charityauth.Notification) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{NewLog(nil), failingNotifier{err: boom}, nil}
	err := m.Notify(context.Background(), charityauth.Notification{Kind: charityauth.NotifyVerificationSubmitted})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, Multi{NewLog(nil)}.Notify(context.Background(), charityauth.Notification{}))
}
