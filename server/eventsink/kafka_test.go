package eventsink

import (
	"encoding/json"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/eventcenter"
)

// Test parsing the list of brokers.
func TestBrokerList(t *testing.T) {
	settings := Settings{Brokers: " kafka1:9092, ,kafka2:9092 "}
	require.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, settings.BrokerList())
	require.True(t, settings.Enabled())
	require.False(t, Settings{}.Enabled())
}

// Test the producer configuration.
func TestNewConfig(t *testing.T) {
	config := newConfig(Settings{ClientID: "sim", Retries: 3})
	require.Equal(t, "sim", config.ClientID)
	require.Equal(t, 3, config.Producer.Retry.Max)
	require.True(t, config.Producer.Return.Successes)
	require.NoError(t, config.Validate())
}

// Test that the session event is sent as the session JSON.
func TestPublishSessionEvent(t *testing.T) {
	// Arrange
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var session datamodel.Session
		if err := json.Unmarshal(value, &session); err != nil {
			return err
		}
		if session.ClientMAC != "02:00:00:00:00:01" || session.State != datamodel.StateAcknowledged {
			return errors.Errorf("unexpected session %s", value)
		}
		return nil
	})
	sink := newKafkaSinkWithProducer(producer, "events")

	// Act
	err := sink.Publish(eventcenter.NewSessionEvent(&datamodel.Session{
		ClientMAC: "02:00:00:00:00:01",
		State:     datamodel.StateAcknowledged,
	}, false))

	// Assert
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

// Test that the storm event is sent as the storm status JSON.
func TestPublishStormEvent(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var status datamodel.StormStatus
		if err := json.Unmarshal(value, &status); err != nil {
			return err
		}
		if status.RunID != "run-1" || status.Sent != 10 {
			return errors.Errorf("unexpected status %s", value)
		}
		return nil
	})
	sink := newKafkaSinkWithProducer(producer, "events")

	err := sink.Publish(eventcenter.NewStormEvent(&datamodel.StormStatus{RunID: "run-1", Sent: 10}))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

// Test that the send failure is returned.
func TestPublishFailure(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sink := newKafkaSinkWithProducer(producer, "events")

	err := sink.Publish(&eventcenter.Event{Type: eventcenter.EventTypeCleared})

	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.Contains(t, err.Error(), "topic events")
	require.NoError(t, sink.Close())
}

// Test that connecting to the unreachable brokers fails.
func TestNewKafkaSinkUnreachable(t *testing.T) {
	sink, err := NewKafkaSink(Settings{Brokers: "127.0.0.1:1", Topic: "events", Retries: 0})
	require.Error(t, err)
	require.Nil(t, sink)
}
