package eventsink

import (
	"encoding/json"
	"strings"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/server/eventcenter"
)

// Kafka settings. The sink is disabled when no brokers are specified.
type Settings struct {
	Brokers  string `long:"kafka-brokers" description:"Comma-separated list of the Kafka brokers receiving the session and storm events; the events are not published when empty" env:"BPSIM_KAFKA_BROKERS"`
	Topic    string `long:"kafka-topic" description:"Kafka topic of the session and storm events" default:"bpsim.events" env:"BPSIM_KAFKA_TOPIC"`
	ClientID string `long:"kafka-client-id" description:"Client id used when connecting to the Kafka brokers" default:"bpsim" env:"BPSIM_KAFKA_CLIENT_ID"`
	Retries  int    `long:"kafka-retries" description:"Number of the retries of a failed send" default:"10" env:"BPSIM_KAFKA_RETRIES"`
}

// Returns the list of the configured brokers.
func (s Settings) BrokerList() (brokers []string) {
	for _, broker := range strings.Split(s.Brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Checks if the sink is enabled.
func (s Settings) Enabled() bool {
	return len(s.BrokerList()) > 0
}

// Publishes the events as JSON messages to the Kafka topic. The message
// key is the client MAC for the session events and the run id for the
// storm events, so the events of one object land in one partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

var _ eventcenter.Sink = (*KafkaSink)(nil)

// Creates the producer configuration.
func newConfig(settings Settings) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = settings.ClientID
	config.Producer.Retry.Max = settings.Retries
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	return config
}

// Connects to the brokers and creates the sink.
func NewKafkaSink(settings Settings) (*KafkaSink, error) {
	sarama.Logger = log.StandardLogger()
	brokers := settings.BrokerList()
	producer, err := sarama.NewSyncProducer(brokers, newConfig(settings))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to Kafka brokers %s", strings.Join(brokers, ","))
	}
	log.WithFields(log.Fields{
		"brokers": brokers,
		"topic":   settings.Topic,
	}).Info("Connected to Kafka cluster")
	return newKafkaSinkWithProducer(producer, settings.Topic), nil
}

func newKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    topic,
	}
}

// Sends the event to the topic.
func (s *KafkaSink) Publish(event *eventcenter.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "cannot serialize %s event", event.Type)
	}
	message := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
		},
	}
	partition, offset, err := s.producer.SendMessage(message)
	if err != nil {
		return errors.Wrapf(err, "cannot send %s event to topic %s", event.Type, s.topic)
	}
	log.WithFields(log.Fields{
		"type":      event.Type,
		"partition": partition,
		"offset":    offset,
	}).Trace("Event sent to Kafka")
	return nil
}

// Closes the producer.
func (s *KafkaSink) Close() error {
	return errors.WithStack(s.producer.Close())
}
