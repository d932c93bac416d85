package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"flipflop-be/internal/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	ErrClosed     = errors.New("notification dispatcher closed")
	ErrQueueFull  = errors.New("notification queue full")
	ErrNoReceiver = errors.New("notification has no recipient")
)

// Dispatcher hands a notification to the delivery pipeline. Implementations
// must not block on network I/O.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes notifications to a Kafka topic from a single background
// loop fed by a buffered inbox.
type Producer struct {
	w       MessageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}, buf)
}

func newProducer(w MessageWriter, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the publish loop until ctx is done or Close is called. Messages
// still queued at shutdown are flushed before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	log := logger.L().With(zap.String("component", "notification.Producer"))

	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.shutdown()
				for m := range p.inbox {
					p.write(log, m)
				}
				if err := p.w.Close(); err != nil {
					log.Warn("kafka writer close failed", zap.Error(err))
				}
				return
			case m, ok := <-p.inbox:
				if !ok {
					if err := p.w.Close(); err != nil {
						log.Warn("kafka writer close failed", zap.Error(err))
					}
					return
				}
				p.write(log, m)
			}
		}
	}()
}

func (p *Producer) write(log *zap.Logger, m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.w.WriteMessages(ctx, m); err != nil {
		log.Error("failed to publish notification",
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Dispatch enqueues msg keyed by order number. It returns ErrQueueFull instead
// of waiting when the inbox is saturated.
func (p *Producer) Dispatch(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoReceiver
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	m := kafka.Message{
		Key:   []byte(msg.OrderNumber),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "request_id", Value: []byte(logger.RequestIDFrom(ctx))},
		},
	}

	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() { p.shutdown() }

// WaitClosed blocks until the publish loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }

func (p *Producer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}
