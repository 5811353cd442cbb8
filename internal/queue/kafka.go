package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaSource reads one topic as part of a consumer group and commits offsets
// explicitly on Ack.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource creates a consumer-group reader for topic
func NewKafkaSource(brokers []string, groupID, topic string) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka source requires group id")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka source requires a topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    []string{topic},
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	})
	return &KafkaSource{reader: reader}, nil
}

func (s *KafkaSource) Receive(ctx context.Context) (Message, error) {
	km, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}

	msg := Message{
		Topic:      km.Topic,
		Key:        string(km.Key),
		Attributes: make(map[string]string, len(km.Headers)),
		Body:       km.Value,
	}
	for _, h := range km.Headers {
		if h.Key == HeaderMessageID {
			msg.ID = string(h.Value)
			continue
		}
		msg.Attributes[h.Key] = string(h.Value)
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s/%d/%d", km.Topic, km.Partition, km.Offset)
	}
	msg.ack = func(ctx context.Context) error {
		return s.reader.CommitMessages(ctx, km)
	}
	return msg, nil
}

func (s *KafkaSource) Ack(ctx context.Context, msg Message) error {
	if msg.ack == nil {
		return fmt.Errorf("message %s was not received from this source", msg.ID)
	}
	return msg.ack(ctx)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// KafkaPublisher writes messages with attributes as record headers
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher; the topic is chosen per message
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	headers := make([]kafka.Header, 0, len(msg.Attributes)+1)
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(msg.ID)})
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
