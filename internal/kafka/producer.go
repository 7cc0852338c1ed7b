package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox drained by one goroutine, so
// publishing never waits on the broker.
type Producer struct {
	w       Writer
	inbox   chan kafka.Message
	done    chan struct{}
	closeCh chan struct{}
	once    sync.Once
	log     logrus.FieldLogger
}

func NewProducer(brokers []string, buf int, log logrus.FieldLogger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		// topic dipilih per message
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}, buf, log)
}

func NewProducerWithWriter(w Writer, buf int, log logrus.FieldLogger) *Producer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log.WithField("component", "kafka-producer"),
	}
}

// Start runs the writer loop until Close is called or ctx ends. Queued
// messages are flushed before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-ctx.Done():
				p.Close()
			case <-p.done:
				p.drain()
				p.closeWriter()
				return
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"topic": m.Topic, "key": string(m.Key)}).
			Error("write message")
	}
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.log.WithError(err).Warn("close writer")
	}
}

// Publish queues a message. It blocks while the inbox is full.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.done:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.done:
		return ErrProducerClosed
	}
}

// PublishEvent implements orders.EventPublisher.
func (p *Producer) PublishEvent(_ context.Context, topic string, env orders.Envelope) error {
	b, err := Marshal(env)
	if err != nil {
		return err
	}
	return p.Publish(topic, orders.PartitionKey(env.CorrelationID), b, EventHeaders(env)...)
}

// Close stops accepting messages; the loop flushes what is queued.
func (p *Producer) Close() {
	p.once.Do(func() { close(p.done) })
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
